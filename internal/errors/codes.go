package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidInput Code = "INVALID_INPUT"

	// Invite errors
	CodeInviteNotFound        Code = "INVITE_NOT_FOUND"
	CodeInviteExpired         Code = "INVITE_EXPIRED"
	CodeInviteAlreadyRedeemed Code = "INVITE_ALREADY_REDEEMED"
	CodeInviteRoleUnknown     Code = "INVITE_ROLE_UNKNOWN"

	// Session errors
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeSessionTokenInvalid Code = "SESSION_TOKEN_INVALID"
	CodeSessionTokenExpired Code = "SESSION_TOKEN_EXPIRED"

	// Transport errors
	CodeNetworkFailure Code = "NETWORK_FAILURE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidInput, CodeInviteRoleUnknown:
		return codes.InvalidArgument
	case CodeInviteNotFound, CodeNotFound:
		return codes.NotFound
	case CodeInviteExpired:
		return codes.FailedPrecondition
	case CodeInviteAlreadyRedeemed:
		return codes.AlreadyExists
	case CodeUnauthenticated, CodeSessionTokenInvalid, CodeSessionTokenExpired:
		return codes.Unauthenticated
	case CodeNetworkFailure:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

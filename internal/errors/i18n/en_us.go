package i18n

// Error codes must match the codes defined in internal/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeInviteNotFound        = "INVITE_NOT_FOUND"
	CodeInviteExpired         = "INVITE_EXPIRED"
	CodeInviteAlreadyRedeemed = "INVITE_ALREADY_REDEEMED"
	CodeInviteRoleUnknown     = "INVITE_ROLE_UNKNOWN"
	CodeUnauthenticated       = "UNAUTHENTICATED"
	CodeSessionTokenInvalid   = "SESSION_TOKEN_INVALID"
	CodeSessionTokenExpired   = "SESSION_TOKEN_EXPIRED"
	CodeNetworkFailure        = "NETWORK_FAILURE"
	CodeNotFound              = "NOT_FOUND"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		// Input errors
		CodeInvalidInput: "Please check the highlighted fields and try again",

		// Invite errors
		CodeInviteNotFound:        "We couldn't find that invite code. Double-check it or request a new one",
		CodeInviteExpired:         "This invite code has expired. Please request a new one",
		CodeInviteAlreadyRedeemed: "This invite code has already been used. Please request a new one",
		CodeInviteRoleUnknown:     "This invite is not valid for the portal",

		// Session errors
		CodeUnauthenticated:     "Your session has ended. Please sign in again",
		CodeSessionTokenInvalid: "Your session could not be verified. Please sign in again",
		CodeSessionTokenExpired: "Your session has expired. Please sign in again",

		// Transport errors
		CodeNetworkFailure: "We couldn't reach the server. Check your connection and try again",

		// Storage errors
		CodeNotFound: "The requested resource was not found",
	},
}

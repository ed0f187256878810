package invite

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/t-vanderwolk/RegistryTaylor-sub000/internal/errors"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/routepath"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/sessioncache"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
)

// FlowState is the redemption flow's lifecycle state.
type FlowState int

const (
	// FlowUnverified is the initial state; no invite has been confirmed yet.
	FlowUnverified FlowState = iota
	// FlowVerifying indicates an invite lookup is in flight.
	FlowVerifying
	// FlowReady indicates a verified invite awaiting profile submission.
	FlowReady
	// FlowSubmitting indicates a redemption request is in flight.
	FlowSubmitting
	// FlowCompleted indicates the invite was redeemed and a session exists.
	FlowCompleted
	// FlowFailed indicates the server rejected a submission; the flow can be
	// resubmitted with the draft intact.
	FlowFailed
	// FlowError is terminal for the entered code: the invite is missing,
	// expired, already redeemed, or carries a role this build does not know.
	FlowError
)

// RedeemRequest is the payload for consuming an invite.
type RedeemRequest struct {
	Code     string
	Profile  map[string]string
	Password string
}

// Backend performs the invite network operations.
type Backend interface {
	// LookupInvite resolves a normalized code without consuming it.
	LookupInvite(ctx context.Context, code string) (Invite, error)
	// Redeem consumes the invite, creates the account, and returns the
	// authenticated identity.
	Redeem(ctx context.Context, req RedeemRequest) (user.User, error)
}

// Navigator moves the user after a completed redemption.
type Navigator interface {
	Redirect(path string)
}

// FlowConfig wires the flow's collaborators. Backend is required; everything
// else is optional and degrades to a flow that only tracks state.
type FlowConfig struct {
	Backend Backend
	Cache   *sessioncache.Cache
	Drafts  *DraftStore
	Nav     Navigator
	// OnSession runs after a redeemed session is cached, before the
	// redirect. The host uses it to kick the revalidation engine.
	OnSession func()
	Locale    string
	Logger    *log.Logger
	Now       func() time.Time
}

func (cfg FlowConfig) withDefaults() FlowConfig {
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// Flow drives one invite redemption: verify a code, collect the profile,
// submit, and hand the resulting session to the cache.
type Flow struct {
	cfg    FlowConfig
	tracer trace.Tracer

	mu          sync.Mutex
	state       FlowState
	invite      Invite
	fields      map[string]string
	fieldErrors map[string]string
	message     string
}

// NewFlow builds a redemption flow in the unverified state.
func NewFlow(cfg FlowConfig) *Flow {
	return &Flow{
		cfg:    cfg.withDefaults(),
		tracer: otel.Tracer("portal/invite"),
		fields: map[string]string{},
	}
}

// State returns the flow's current state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// CurrentInvite returns the verified invite, if any.
func (f *Flow) CurrentInvite() (Invite, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FlowUnverified || f.state == FlowVerifying || f.state == FlowError {
		return Invite{}, false
	}
	return f.invite, true
}

// Fields returns a copy of the current profile fields.
func (f *Flow) Fields() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.fields))
	for k, v := range f.fields {
		out[k] = v
	}
	return out
}

// FieldErrors returns a copy of the per-field validation messages from the
// last submission attempt.
func (f *Flow) FieldErrors() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.fieldErrors))
	for k, v := range f.fieldErrors {
		out[k] = v
	}
	return out
}

// Message returns the user-facing message for the last error, if any.
func (f *Flow) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Verify resolves an invite code and, on success, moves the flow to
// FlowReady with the profile form prefilled from the saved draft and the
// invite's own metadata.
//
// Verifying the already-verified code is a no-op. A network failure returns
// the flow to FlowUnverified so the user can retry; a definitive rejection
// (not found, expired, already redeemed, unknown role) is terminal for that
// code.
func (f *Flow) Verify(ctx context.Context, rawCode string) error {
	code, err := NormalizeCode(rawCode)
	if err != nil {
		f.mu.Lock()
		f.message = apperrors.UserMessage(err, f.cfg.Locale)
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	if f.state == FlowVerifying || f.state == FlowSubmitting {
		f.mu.Unlock()
		return nil
	}
	if f.state == FlowReady && f.invite.Code == code {
		f.mu.Unlock()
		return nil
	}
	f.state = FlowVerifying
	f.message = ""
	f.mu.Unlock()

	ctx, span := f.tracer.Start(ctx, "portal.invite.verify")
	defer span.End()

	inv, err := f.cfg.Backend.LookupInvite(ctx, code)
	if err != nil {
		return f.verifyFailed(span, err)
	}
	inv.Code = code

	if inv.Expired(f.cfg.Now()) {
		return f.verifyFailed(span, apperrors.WithMetadata(
			apperrors.CodeInviteExpired,
			"invite expired before lookup completed",
			map[string]string{"code": code},
		))
	}
	if inv.Role == user.RoleUnspecified {
		return f.verifyFailed(span, apperrors.WithMetadata(
			apperrors.CodeInviteRoleUnknown,
			"invite carries an unrecognized role",
			map[string]string{"code": code},
		))
	}

	fields := f.prefill(ctx, inv)

	f.mu.Lock()
	f.invite = inv
	f.fields = fields
	f.fieldErrors = map[string]string{}
	f.state = FlowReady
	f.mu.Unlock()

	span.SetAttributes(
		attribute.String("portal.invite.outcome", "verified"),
		attribute.String("portal.invite.role", user.RoleLabel(inv.Role)),
	)
	return nil
}

// verifyFailed classifies a lookup failure. Definitive rejections park the
// flow in FlowError; anything else is treated as transient and returns to
// FlowUnverified.
func (f *Flow) verifyFailed(span trace.Span, err error) error {
	state := FlowUnverified
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInviteNotFound,
		apperrors.CodeInviteExpired,
		apperrors.CodeInviteAlreadyRedeemed,
		apperrors.CodeInviteRoleUnknown:
		state = FlowError
	default:
		f.cfg.Logger.Printf("invite: lookup failed: %v", err)
	}

	f.mu.Lock()
	f.state = state
	f.message = apperrors.UserMessage(err, f.cfg.Locale)
	f.mu.Unlock()

	span.SetAttributes(attribute.String("portal.invite.outcome", string(apperrors.CodeOf(err))))
	return err
}

// prefill builds the initial form: saved draft values first, overridden by
// the invite's server-side metadata, with the email pinned when the invite
// assigns one. Anything outside the role's field set is dropped.
func (f *Flow) prefill(ctx context.Context, inv Invite) map[string]string {
	merged := map[string]string{}
	draft := f.cfg.Drafts.Load(ctx, inv.Role, inv.Code)
	for k, v := range draft.Fields {
		merged[k] = v
	}
	for k, v := range inv.Metadata {
		merged[k] = v
	}
	if inv.EmailPinned() {
		merged[FieldEmail] = inv.AssignedEmail
	}

	fields := map[string]string{}
	for _, name := range AllowedFields(inv.Role) {
		if v, ok := merged[name]; ok {
			fields[name] = v
		}
	}
	return fields
}

// SetField updates one profile field and persists the draft. Fields outside
// the role's set and the pinned email are ignored; the flow must hold a
// verified invite.
func (f *Flow) SetField(ctx context.Context, name, value string) {
	f.mu.Lock()
	if f.state != FlowReady && f.state != FlowFailed {
		f.mu.Unlock()
		return
	}
	if name == FieldEmail && f.invite.EmailPinned() {
		f.mu.Unlock()
		return
	}
	allowed := false
	for _, field := range AllowedFields(f.invite.Role) {
		if field == name {
			allowed = true
			break
		}
	}
	if !allowed {
		f.mu.Unlock()
		return
	}
	f.fields[name] = value
	inv := f.invite
	draft := Draft{Fields: make(map[string]string, len(f.fields))}
	for k, v := range f.fields {
		draft.Fields[k] = v
	}
	f.mu.Unlock()

	f.cfg.Drafts.Save(ctx, inv.Role, inv.Code, draft)
}

// Submit validates the profile and redeems the invite.
//
// Validation failures set per-field messages and never reach the network.
// A server rejection moves the flow to FlowFailed with the draft intact so
// the user can correct and resubmit. On success the draft is discarded, the
// session is cached, the host is notified, and the user lands on their
// role's portal root.
func (f *Flow) Submit(ctx context.Context, password string) error {
	f.mu.Lock()
	if f.state != FlowReady && f.state != FlowFailed {
		f.mu.Unlock()
		return apperrors.New(apperrors.CodeInvalidInput, "no verified invite to submit")
	}
	inv := f.invite
	profile := make(map[string]string, len(f.fields))
	for k, v := range f.fields {
		profile[k] = v
	}

	problems := ValidateProfile(inv.Role, profile, password)
	if len(problems) > 0 {
		f.fieldErrors = problems
		f.state = FlowReady
		f.mu.Unlock()
		return apperrors.New(apperrors.CodeInvalidInput, "profile failed validation")
	}
	f.fieldErrors = map[string]string{}
	f.state = FlowSubmitting
	f.message = ""
	f.mu.Unlock()

	ctx, span := f.tracer.Start(ctx, "portal.invite.redeem")
	defer span.End()

	redeemed, err := f.cfg.Backend.Redeem(ctx, RedeemRequest{
		Code:     inv.Code,
		Profile:  profile,
		Password: password,
	})
	if err != nil {
		f.cfg.Logger.Printf("invite: redeem failed: %v", err)
		span.SetAttributes(attribute.String("portal.invite.outcome", string(apperrors.CodeOf(err))))
		f.mu.Lock()
		f.state = FlowFailed
		f.message = apperrors.UserMessage(err, f.cfg.Locale)
		f.mu.Unlock()
		return err
	}

	normalized, err := user.Normalize(redeemed)
	if err != nil {
		f.cfg.Logger.Printf("invite: redeem returned unusable identity: %v", err)
		span.SetAttributes(attribute.String("portal.invite.outcome", "invalid-identity"))
		f.mu.Lock()
		f.state = FlowFailed
		f.message = apperrors.UserMessage(err, f.cfg.Locale)
		f.mu.Unlock()
		return err
	}

	f.cfg.Drafts.Discard(ctx, inv.Role, inv.Code)
	if f.cfg.Cache != nil {
		f.cfg.Cache.Write(ctx, normalized)
	}
	if f.cfg.OnSession != nil {
		f.cfg.OnSession()
	}

	f.mu.Lock()
	f.state = FlowCompleted
	f.mu.Unlock()

	span.SetAttributes(attribute.String("portal.invite.outcome", "redeemed"))
	if f.cfg.Nav != nil {
		f.cfg.Nav.Redirect(routepath.PortalRoot(normalized.Role))
	}
	return nil
}

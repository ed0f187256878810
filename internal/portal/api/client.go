// Package api is the HTTP client for the portal backend.
//
// The client implements the identity check used by the revalidation engine
// and the invite operations used by the redemption flow. Every definitive
// backend answer maps to a domain error code; everything else surfaces as a
// network failure so callers fail closed.
package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apperrors "github.com/t-vanderwolk/RegistryTaylor-sub000/internal/errors"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/invite"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/sessiontoken"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
)

const defaultTimeout = 10 * time.Second

// Config wires the client.
type Config struct {
	// BaseURL is the backend origin, e.g. https://portal.example.com.
	BaseURL string
	// HTTPClient is optional; the default client carries otel transport
	// instrumentation and a 10s timeout.
	HTTPClient *http.Client
	// TokenVerifier enables offline verification of session tokens returned
	// by redemption. Zero value skips verification.
	TokenVerifier sessiontoken.Config
	Logger        *log.Logger
}

// Client talks to the portal backend over HTTP.
type Client struct {
	baseURL  string
	http     *http.Client
	verifier sessiontoken.Config
	logger   *log.Logger

	mu    sync.Mutex
	token string
}

// New builds a backend client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		baseURL:  base,
		http:     httpClient,
		verifier: cfg.TokenVerifier,
		logger:   logger,
	}, nil
}

// SetSessionToken replaces the bearer token sent on subsequent requests.
// An empty token clears it.
func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// SessionToken returns the current bearer token, if any.
func (c *Client) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// apiUser is the backend's identity payload.
type apiUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Name  string `json:"name"`
}

func (u apiUser) toUser() user.User {
	return user.User{
		ID:    u.ID,
		Email: u.Email,
		Role:  user.RoleFromLabel(u.Role),
		Name:  u.Name,
	}
}

// apiError is the backend's error payload.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CheckSession confirms the current session against the backend. It returns
// ok=false for a definitive not-authenticated answer and an error for
// anything the client cannot trust.
func (c *Client) CheckSession(ctx context.Context) (user.User, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/session", nil)
	if err != nil {
		return user.User{}, false, apperrors.Wrap(apperrors.CodeNetworkFailure, "session check request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload apiUser
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return user.User{}, false, apperrors.Wrap(apperrors.CodeNetworkFailure, "decode session response", err)
		}
		return payload.toUser(), true, nil
	case http.StatusUnauthorized:
		return user.User{}, false, nil
	default:
		return user.User{}, false, apperrors.New(apperrors.CodeNetworkFailure,
			fmt.Sprintf("session check returned status %d", resp.StatusCode))
	}
}

// LookupInvite resolves an invite code without consuming it.
func (c *Client) LookupInvite(ctx context.Context, code string) (invite.Invite, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/invites/"+code, nil)
	if err != nil {
		return invite.Invite{}, apperrors.Wrap(apperrors.CodeNetworkFailure, "invite lookup request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return invite.Invite{}, c.inviteError(resp)
	}

	var payload struct {
		Code          string            `json:"code"`
		Role          string            `json:"role"`
		AssignedEmail string            `json:"assigned_email"`
		ExpiresAt     time.Time         `json:"expires_at"`
		Metadata      map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return invite.Invite{}, apperrors.Wrap(apperrors.CodeNetworkFailure, "decode invite response", err)
	}
	return invite.Invite{
		Code:          payload.Code,
		Role:          user.RoleFromLabel(payload.Role),
		AssignedEmail: payload.AssignedEmail,
		ExpiresAt:     payload.ExpiresAt,
		Metadata:      payload.Metadata,
	}, nil
}

// Redeem consumes an invite, creating the account and session. The returned
// session token is verified offline when a verifier is configured, then kept
// as the bearer token for subsequent requests.
func (c *Client) Redeem(ctx context.Context, req invite.RedeemRequest) (user.User, error) {
	body := struct {
		Code     string            `json:"code"`
		Profile  map[string]string `json:"profile"`
		Password string            `json:"password"`
	}{Code: req.Code, Profile: req.Profile, Password: req.Password}

	payload, err := json.Marshal(body)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeNetworkFailure, "encode redeem request", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/invites/redeem", bytes.NewReader(payload))
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeNetworkFailure, "redeem request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return user.User{}, c.inviteError(resp)
	}

	var result struct {
		User         apiUser `json:"user"`
		SessionToken string  `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeNetworkFailure, "decode redeem response", err)
	}

	if len(c.verifier.Key) == ed25519.PublicKeySize {
		if _, err := sessiontoken.Verify(result.SessionToken, c.verifier); err != nil {
			return user.User{}, fmt.Errorf("verify redeemed session token: %w", err)
		}
	}
	if result.SessionToken != "" {
		c.SetSessionToken(result.SessionToken)
	}
	return result.User.toUser(), nil
}

// inviteError maps a non-OK invite response to a domain error. The server's
// message is carried verbatim so the flow can show it to the user.
func (c *Client) inviteError(resp *http.Response) error {
	var payload apiError
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if readErr == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.logger.Printf("api: unparseable error body for status %d: %v", resp.StatusCode, err)
			payload = apiError{}
		}
	}

	code := apperrors.CodeNetworkFailure
	switch resp.StatusCode {
	case http.StatusNotFound:
		code = apperrors.CodeInviteNotFound
	case http.StatusGone:
		code = apperrors.CodeInviteExpired
	case http.StatusConflict:
		code = apperrors.CodeInviteAlreadyRedeemed
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = apperrors.CodeInvalidInput
	case http.StatusUnauthorized:
		code = apperrors.CodeUnauthenticated
	}
	// A recognized code in the body is more precise than the status line.
	switch mapped := apperrors.Code(payload.Code); mapped {
	case apperrors.CodeInviteNotFound, apperrors.CodeInviteExpired,
		apperrors.CodeInviteAlreadyRedeemed, apperrors.CodeInviteRoleUnknown,
		apperrors.CodeInvalidInput, apperrors.CodeUnauthenticated:
		code = mapped
	}

	message := strings.TrimSpace(payload.Message)
	if message == "" {
		message = fmt.Sprintf("backend returned status %d", resp.StatusCode)
	}
	return apperrors.New(code, message)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.SessionToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/siraat/companion/pkg/httputil"
	"github.com/siraat/companion/pkg/logger"
	"github.com/siraat/companion/pkg/session"
	"github.com/siraat/companion/pkg/siraat"
	"github.com/siraat/companion/pkg/validator"
)

// Authenticator signs the companion's session in and out.
type Authenticator interface {
	Login(ctx context.Context, req siraat.LoginRequest) (siraat.AuthResult, error)
	Logout(ctx context.Context) error
	Coordinator() *session.Coordinator
}

// SessionHandler serves /session. Tokens never leave the daemon; callers
// only learn whether a session exists and whose it is.
type SessionHandler struct {
	auth   Authenticator
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(auth Authenticator, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{auth: auth, logger: logger, now: time.Now}
}

// SessionStatus describes the held session.
type SessionStatus struct {
	Authenticated bool       `json:"authenticated"`
	Subject       string     `json:"subject,omitempty"`
	Email         string     `json:"email,omitempty"`
	Role          string     `json:"role,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Expired       bool       `json:"expired"`
	State         string     `json:"state"`
}

type loginResponse struct {
	User    json.RawMessage `json:"user,omitempty"`
	Session SessionStatus   `json:"session"`
}

func (h *SessionHandler) status(ctx context.Context) (SessionStatus, error) {
	return DescribeSession(ctx, h.auth.Coordinator(), h.now())
}

// DescribeSession reports the session held by coord as of now. Identity and
// expiry come from the unverified access token claims.
func DescribeSession(ctx context.Context, coord *session.Coordinator, now time.Time) (SessionStatus, error) {
	st := SessionStatus{State: coord.State().String()}

	tokens, err := coord.Store().Get(ctx)
	if err != nil {
		return st, err
	}
	st.Authenticated = tokens.AccessToken != "" || tokens.RefreshToken != ""
	if tokens.AccessToken == "" {
		return st, nil
	}

	claims, err := session.ParseClaims(tokens.AccessToken)
	if err != nil {
		logger.FromContext(ctx).DebugContext(ctx, "stored access token is not a readable JWT", slog.String("error", err.Error()))
		return st, nil
	}
	st.Subject = claims.Subject
	st.Email = claims.Email
	st.Role = claims.Role
	if !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt
		st.ExpiresAt = &exp
		st.Expired = claims.Expired(now)
	}
	return st, nil
}

// Status handles GET /session.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.status(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: st})
}

// Login handles POST /session/login.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req siraat.LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	st, err := h.status(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.logger.InfoContext(r.Context(), "companion session signed in", slog.String("subject", st.Subject))
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: loginResponse{User: res.User, Session: st}})
}

// Logout handles POST /session/logout.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

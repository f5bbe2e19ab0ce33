package siraat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/session"
	"github.com/siraat/companion/pkg/validator"
)

// LoginRequest holds sign-in credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest holds the fields of a new account.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// AuthResult is the payload of a successful login or registration.
type AuthResult struct {
	User         json.RawMessage `json:"user"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

type authPayload struct {
	AuthResult
	AccessTokenSnake  string `json:"access_token"`
	RefreshTokenSnake string `json:"refresh_token"`
}

func (p authPayload) result() AuthResult {
	r := p.AuthResult
	if r.AccessToken == "" {
		r.AccessToken = p.AccessTokenSnake
	}
	if r.RefreshToken == "" {
		r.RefreshToken = p.RefreshTokenSnake
	}
	return r
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
}

// Login signs in and stores the issued tokens.
func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	if err := validator.Validate(req); err != nil {
		return AuthResult{}, invalid(err)
	}
	return c.signIn(ctx, "/auth/login", req)
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	if err := validator.Validate(req); err != nil {
		return AuthResult{}, invalid(err)
	}
	return c.signIn(ctx, "/auth/register", req)
}

func (c *Client) signIn(ctx context.Context, path string, body any) (AuthResult, error) {
	payload, err := call[authPayload](ctx, c.anon, http.MethodPost, c.endpoint(path, nil), body)
	if err != nil {
		return AuthResult{}, err
	}
	res := payload.result()
	if res.AccessToken == "" {
		return AuthResult{}, errors.New("sign-in response has no access token")
	}

	if err := c.coordinator.SignIn(ctx, session.Tokens{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}); err != nil {
		return AuthResult{}, fmt.Errorf("store session: %w", err)
	}
	return res, nil
}

// Logout tells the backend to revoke the session, then clears the stored
// tokens whatever the backend answered.
func (c *Client) Logout(ctx context.Context) error {
	tokens, err := c.coordinator.Store().Get(ctx)
	if err == nil && tokens.AccessToken != "" {
		if _, err := c.raw(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
			c.logger.WarnContext(ctx, "backend logout failed, clearing local session anyway",
				slog.String("error", err.Error()),
			)
		}
	}
	return c.coordinator.SignOut(ctx)
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/auth/me", nil, nil)
}

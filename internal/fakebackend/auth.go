package fakebackend

import (
	"net/http"
	"time"

	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/httputil"
	"github.com/siraat/companion/pkg/logger"
	"github.com/siraat/companion/pkg/validator"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type authResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type flatTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[req.Email]; exists {
		s.mu.Unlock()
		httputil.WriteError(w, r, apperrors.Conflict("email already registered"), s.logger)
		return
	}
	u := s.addUserLocked(req.Name, req.Email, req.Password)
	access, refresh, err := s.issueLocked(u)
	s.mu.Unlock()
	if err != nil {
		httputil.WriteError(w, r, apperrors.Internal(err), s.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Data: authResponse{User: u, AccessToken: access, RefreshToken: refresh},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[req.Email]
	if !ok || a.password != req.Password {
		s.mu.Unlock()
		httputil.WriteError(w, r, apperrors.Unauthorized("invalid email or password"), s.logger)
		return
	}
	access, refresh, err := s.issueLocked(a.User)
	s.mu.Unlock()
	if err != nil {
		httputil.WriteError(w, r, apperrors.Internal(err), s.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: authResponse{User: a.User, AccessToken: access, RefreshToken: refresh},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	if s.failRefresh.Load() > 0 && s.failRefresh.Add(-1) >= 0 {
		httputil.WriteError(w, r, apperrors.ServiceUnavailable("refresh temporarily unavailable"), s.logger)
		return
	}

	var req refreshRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	claims, err := s.jwt.VerifyRefresh(req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, apperrors.Unauthorized("invalid refresh token"), s.logger)
		return
	}

	s.mu.Lock()
	userID, ok := s.refresh[claims.ID]
	var user *User
	for _, a := range s.accounts {
		if a.ID == userID {
			user = &a.User
			break
		}
	}
	if !ok || user == nil {
		s.mu.Unlock()
		httputil.WriteError(w, r, apperrors.Unauthorized("refresh token revoked"), s.logger)
		return
	}

	var resp flatTokens
	resp.AccessToken, err = s.jwt.Access(*user, s.gen.Load())
	if err == nil && s.cfg.RotateRefreshTokens {
		var id string
		resp.RefreshToken, id, err = s.jwt.Refresh(user.ID)
		if err == nil {
			delete(s.refresh, claims.ID)
			s.refresh[id] = user.ID
		}
	}
	s.mu.Unlock()
	if err != nil {
		httputil.WriteError(w, r, apperrors.Internal(err), s.logger)
		return
	}

	if s.flatRefresh.Load() {
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"accessToken": resp.AccessToken, "refreshToken": resp.RefreshToken},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := logger.SubjectFromContext(r.Context())

	s.mu.Lock()
	for id, owner := range s.refresh {
		if owner == userID {
			delete(s.refresh, id)
		}
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := logger.SubjectFromContext(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == userID {
			httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: a.User})
			return
		}
	}
	httputil.WriteError(w, r, apperrors.NotFound("user", userID), s.logger)
}

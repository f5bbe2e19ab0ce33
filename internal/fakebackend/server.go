// Package fakebackend is an in-process stand-in for the Siraat REST API. It
// issues real HS256 tokens and exposes knobs to expire or revoke them, so the
// session layer can be exercised end to end against it.
package fakebackend

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/siraat/companion/pkg/logger"
	"github.com/siraat/companion/pkg/middleware"
)

// Config tunes the fake backend.
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RotateRefreshTokens makes every refresh issue a new refresh token and
	// revoke the one presented.
	RotateRefreshTokens bool
}

// DefaultConfig returns settings suitable for tests and local development.
func DefaultConfig() Config {
	return Config{
		Secret:              "fakebackend-secret",
		AccessTTL:           15 * time.Minute,
		RefreshTTL:          24 * time.Hour,
		RotateRefreshTokens: true,
	}
}

// User is an account known to the backend.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type account struct {
	User
	password string
}

// Server is the fake Siraat API.
type Server struct {
	cfg    Config
	jwt    *Signer
	logger *slog.Logger
	router chi.Router

	mu       sync.Mutex
	accounts map[string]*account         // by email
	refresh  map[string]string           // refresh token ID -> user ID
	prefs    map[string]map[string]any   // by user ID
	tallies  map[string]map[string]int64 // by user ID, then dhikr ID

	gen          atomic.Int64
	refreshCalls atomic.Int32
	flatRefresh  atomic.Bool
	refreshDelay atomic.Int64
	failRefresh  atomic.Int32
}

// New creates a fake backend with no accounts.
func New(cfg Config, log *slog.Logger) *Server {
	if cfg.Secret == "" {
		cfg.Secret = DefaultConfig().Secret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultConfig().AccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultConfig().RefreshTTL
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		cfg:      cfg,
		jwt:      NewSigner(cfg.Secret, cfg.AccessTTL, cfg.RefreshTTL),
		logger:   log,
		accounts: make(map[string]*account),
		refresh:  make(map[string]string),
		prefs:    make(map[string]map[string]any),
		tallies:  make(map[string]map[string]int64),
	}
	s.router = s.routes()
	return s
}

// Handler returns the API router, rooted at the API base path.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.RequestLogger(s.logger))

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Bearer(s.validateAccess))

		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/me", s.handleMe)

		r.Get("/prayers/times", s.handlePrayerTimes)

		r.Route("/quran/surahs", func(r chi.Router) {
			r.Get("/", s.handleSurahs)
			r.Get("/{number}", s.handleSurah)
			r.Get("/{number}/ayahs/{ayah}", s.handleAyah)
		})

		r.Get("/dhikr", s.handleDhikrList)
		r.Post("/dhikr/{id}/increment", s.handleDhikrIncrement)

		r.Get("/calendar/hijri", s.handleHijri)
		r.Get("/calendar/events", s.handleEvents)

		r.Get("/qibla", s.handleQibla)

		r.Get("/names", s.handleNames)
		r.Get("/names/{number}", s.handleName)

		r.Get("/duas", s.handleDuas)
		r.Get("/duas/{id}", s.handleDua)

		r.Get("/feelings", s.handleFeelings)
		r.Get("/feelings/{slug}", s.handleFeeling)

		r.Get("/users/me/preferences", s.handleGetPreferences)
		r.Put("/users/me/preferences", s.handlePutPreferences)
	})
	return r
}

// AddUser registers an account directly, bypassing the HTTP API.
func (s *Server) AddUser(name, email, password string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(name, email, password)
}

func (s *Server) addUserLocked(name, email, password string) User {
	a := &account{
		User:     User{ID: uuid.NewString(), Name: name, Email: email, Role: "user"},
		password: password,
	}
	s.accounts[email] = a
	return a.User
}

// IssueTokens signs a fresh token pair for the account with email.
func (s *Server) IssueTokens(email string) (access, refresh string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return "", "", errors.New("unknown account")
	}
	return s.issueLocked(a.User)
}

func (s *Server) issueLocked(u User) (access, refresh string, err error) {
	access, err = s.jwt.Access(u, s.gen.Load())
	if err != nil {
		return "", "", err
	}
	refresh, id, err := s.jwt.Refresh(u.ID)
	if err != nil {
		return "", "", err
	}
	s.refresh[id] = u.ID
	return access, refresh, nil
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.gen.Add(1)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refresh)
}

// SetFlatRefresh makes /auth/refresh answer with a bare snake_case body
// instead of the {"data":{...}} envelope.
func (s *Server) SetFlatRefresh(flat bool) {
	s.flatRefresh.Store(flat)
}

// SetRefreshDelay delays every /auth/refresh answer by d.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.refreshDelay.Store(int64(d))
}

// FailRefreshes makes the next n /auth/refresh calls answer 503.
func (s *Server) FailRefreshes(n int) {
	s.failRefresh.Store(int32(n))
}

// RefreshCalls reports how many times /auth/refresh was called.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

func (s *Server) validateAccess(token string) (*middleware.Claims, error) {
	claims, err := s.jwt.VerifyAccess(token)
	if err != nil {
		return nil, err
	}
	if claims.Gen < s.gen.Load() {
		return nil, errors.New("token expired")
	}
	return &middleware.Claims{Subject: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestIPAllowlist(t *testing.T) {
	var buf bytes.Buffer
	handler := IPAllowlist([]string{"127.0.0.0/8", "10.1.0.0/16", "not-a-cidr"}, newTestLogger(&buf))(okHandler())

	tests := []struct {
		remote string
		status int
	}{
		{"127.0.0.1:5555", http.StatusOK},
		{"10.1.2.3:80", http.StatusOK},
		{"[::ffff:10.1.9.9]:80", http.StatusOK},
		{"192.168.1.10:4444", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
		req.RemoteAddr = tt.remote
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, tt.status, rr.Code, tt.remote)
	}
	assert.Contains(t, buf.String(), "invalid allowlist CIDR")
}

func TestRegisterPprof(t *testing.T) {
	var buf bytes.Buffer

	r := chi.NewRouter()
	RegisterPprof(r, []string{"192.0.2.0/24"}, newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req.RemoteAddr = "203.0.113.1:1234"
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRegisterPprof_DisabledWithoutCIDRs(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	RegisterPprof(r, nil, newTestLogger(&buf))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

package middleware

import (
	"cmp"
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins lists allowed origins. "*" allows any origin.
	AllowedOrigins []string

	// AllowedMethods defaults to GET, POST, PUT, PATCH, DELETE, OPTIONS.
	AllowedMethods []string

	// AllowedHeaders defaults to Accept, Content-Type, X-Correlation-ID.
	// Browsers never send Authorization; the daemon attaches credentials
	// itself.
	AllowedHeaders []string

	ExposedHeaders []string

	// MaxAge is the preflight cache lifetime in seconds. Defaults to 3600.
	MaxAge int

	AllowCredentials bool
}

// DefaultCORSConfig allows any origin.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		ExposedHeaders: []string{CorrelationIDHeader},
	}
}

// corsPolicy is a CORSConfig with defaults applied and header values
// pre-joined.
type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]bool
	credentials bool
	static      http.Header
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	methods := cmp.Or(strings.Join(cfg.AllowedMethods, ", "), "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	headers := cmp.Or(strings.Join(cfg.AllowedHeaders, ", "), "Accept, Content-Type, "+CorrelationIDHeader)

	p := &corsPolicy{
		origins:     make(map[string]bool, len(cfg.AllowedOrigins)),
		credentials: cfg.AllowCredentials,
		static: http.Header{
			"Access-Control-Allow-Methods": {methods},
			"Access-Control-Allow-Headers": {headers},
			"Access-Control-Max-Age":       {strconv.Itoa(cmp.Or(cfg.MaxAge, 3600))},
		},
	}
	for _, o := range cfg.AllowedOrigins {
		p.anyOrigin = p.anyOrigin || o == "*"
		p.origins[o] = true
	}
	if len(cfg.ExposedHeaders) > 0 {
		p.static.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposedHeaders, ", "))
	}
	if cfg.AllowCredentials {
		p.static.Set("Access-Control-Allow-Credentials", "true")
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin and
// whether the response varies by it. Credentials forbid "*", so a wildcard
// policy with credentials echoes the caller's origin.
func (p *corsPolicy) allowOrigin(origin string) (value string, vary bool) {
	switch {
	case p.anyOrigin && !p.credentials:
		return "*", false
	case origin == "":
		return "", false
	case p.anyOrigin || p.origins[origin]:
		return origin, true
	default:
		return "", false
	}
}

// CORS returns middleware that sets Cross-Origin Resource Sharing headers and
// answers preflight requests with 204.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if value, vary := policy.allowOrigin(r.Header.Get("Origin")); value != "" {
				h.Set("Access-Control-Allow-Origin", value)
				if vary {
					h.Add("Vary", "Origin")
				}
			}
			for k, v := range policy.static {
				h.Set(k, v[0])
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

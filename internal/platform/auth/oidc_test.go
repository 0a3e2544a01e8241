package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

type silentLogger struct{}

func (silentLogger) Printf(string, ...any) {}

type captureMetrics struct {
	mu      sync.Mutex
	entries []metricEntry
}

type metricEntry struct {
	kind    string
	success bool
	reason  string
}

func (m *captureMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, metricEntry{kind: kind, success: success, reason: reason})
}

func (m *captureMetrics) lastReason(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		t.Fatalf("expected at least one metric entry")
	}
	return m.entries[len(m.entries)-1].reason
}

type oidcEnv struct {
	validator *OIDCValidator
	metrics   *captureMetrics
	token     string
}

// newOIDCEnv builds a validator backed by a local JWKS server and a signed
// service token. mutateClaims adjusts the default claim set before signing.
func newOIDCEnv(t *testing.T, mutateClaims func(jwt.MapClaims)) oidcEnv {
	t.Helper()

	key, jwk := newSigningKey(t, "svc-key")
	server, _ := serveJWKS(t, jwk, "max-age=600")

	now := time.Unix(1_700_000_000, 0)
	originalTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = originalTimeFunc })

	metrics := &captureMetrics{}
	validator := NewOIDCValidator(NewJWKSCache(server.URL,
		WithJWKSLogger(silentLogger{}),
		WithJWKSClock(func() time.Time { return now }),
	),
		WithOIDCLogger(silentLogger{}),
		WithOIDCMetrics(metrics),
		WithOIDCClock(func() time.Time { return now }),
	)

	claims := jwt.MapClaims{
		"aud":   []string{"https://admin.starcafe.example"},
		"iss":   "https://accounts.google.com",
		"sub":   "reports-sync@star-cafe.iam.gserviceaccount.com",
		"email": "reports-sync@star-cafe.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutateClaims != nil {
		mutateClaims(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return oidcEnv{validator: validator, metrics: metrics, token: signed}
}

// serveAdmin runs a request through RequireOIDC and returns the recorder.
func (env oidcEnv) serveAdmin(audience string, issuers []string, attach func(*http.Request), next http.HandlerFunc) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/reports/daily", nil)
	if attach != nil {
		attach(req)
	}
	env.validator.RequireOIDC(audience, issuers)(next).ServeHTTP(rr, req)
	return rr
}

func (env oidcEnv) bearer(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+env.token)
}

func TestRequireOIDCAllowsValidToken(t *testing.T) {
	env := newOIDCEnv(t, nil)

	rr := env.serveAdmin("https://admin.starcafe.example", []string{"https://accounts.google.com"}, env.bearer,
		func(w http.ResponseWriter, r *http.Request) {
			identity, ok := ServiceIdentityFromContext(r.Context())
			if !ok {
				t.Fatalf("expected service identity in context")
			}
			if identity.Email != "reports-sync@star-cafe.iam.gserviceaccount.com" {
				t.Fatalf("unexpected identity email %q", identity.Email)
			}
			w.WriteHeader(http.StatusNoContent)
		})

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if reason := env.metrics.lastReason(t); reason != "ok" {
		t.Fatalf("expected ok metric, got %s", reason)
	}
}

func TestRequireOIDCAudienceMismatch(t *testing.T) {
	env := newOIDCEnv(t, nil)

	rr := env.serveAdmin("https://reports.starcafe.example", []string{"https://accounts.google.com"}, env.bearer,
		func(http.ResponseWriter, *http.Request) {
			t.Fatalf("handler should not be called")
		})

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if reason := env.metrics.lastReason(t); reason != "audience_mismatch" {
		t.Fatalf("expected audience_mismatch metric, got %s", reason)
	}
}

func TestRequireOIDCAcceptsIAPHeader(t *testing.T) {
	env := newOIDCEnv(t, func(claims jwt.MapClaims) {
		claims["aud"] = []string{"/projects/123/global/backendServices/456"}
		claims["iss"] = "https://cloud.google.com/iap"
	})

	rr := env.serveAdmin("/projects/123/global/backendServices/456", []string{"https://cloud.google.com/iap"},
		func(req *http.Request) {
			req.Header.Set("X-Goog-Iap-Jwt-Assertion", env.token)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
}

func TestRequireOIDCJWKSUnavailable(t *testing.T) {
	env := newOIDCEnv(t, nil)

	// Point the cache at a closed port so the refresh fails.
	env.validator.cache.url = "http://127.0.0.1:65535/invalid"

	rr := env.serveAdmin("https://admin.starcafe.example", []string{"https://accounts.google.com"}, env.bearer,
		func(http.ResponseWriter, *http.Request) {
			t.Fatalf("handler should not be called")
		})

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if reason := env.metrics.lastReason(t); reason != "jwks_unavailable" {
		t.Fatalf("expected jwks_unavailable metric, got %s", reason)
	}
}

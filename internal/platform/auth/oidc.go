package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// OIDCValidator validates Google-signed OIDC/IAP tokens using a JWKS cache.
// Internal admin routes sit behind it.
type OIDCValidator struct {
	cache   *JWKSCache
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	validator := &OIDCValidator{
		cache:  cache,
		logger: log.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}

	return validator
}

// WithOIDCLogger overrides the validator logger.
func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCMetrics sets the metrics recorder.
func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) {
		v.metrics = recorder
	}
}

// WithOIDCClock injects a custom clock, primarily for tests.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// ServiceIdentity captures details about the authenticated service principal.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string

	Token  *jwt.Token
	Claims map[string]any
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by the middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// oidcRejection describes why a token was refused and how to answer the client.
type oidcRejection struct {
	status  int
	code    string
	reason  string
	message string
}

// RequireOIDC enforces a valid Google-signed OIDC/IAP token on the request.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	expectedAudience := strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			identity, rejected := v.verify(ctx, r, expectedAudience, allowedIssuers)
			if rejected != nil {
				v.record(ctx, false, rejected.reason, start)
				respondAuthError(w, rejected.status, rejected.code, rejected.message)
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) verify(ctx context.Context, r *http.Request, expectedAudience string, allowedIssuers map[string]struct{}) (*ServiceIdentity, *oidcRejection) {
	if expectedAudience == "" {
		return nil, &oidcRejection{
			status:  http.StatusServiceUnavailable,
			code:    "verification_unavailable",
			reason:  "audience_not_configured",
			message: "oidc audience not configured",
		}
	}

	tokenStr, source := extractOIDCToken(r)
	if tokenStr == "" {
		return nil, &oidcRejection{
			status:  http.StatusUnauthorized,
			code:    "unauthenticated",
			reason:  "token_missing",
			message: "oidc token missing",
		}
	}

	if v == nil || v.cache == nil {
		return nil, &oidcRejection{
			status:  http.StatusServiceUnavailable,
			code:    "verification_unavailable",
			reason:  "cache_unavailable",
			message: "oidc verification unavailable",
		}
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))

	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx))
	if err != nil {
		rejection := &oidcRejection{
			status:  http.StatusUnauthorized,
			code:    "invalid_token",
			reason:  "token_invalid",
			message: "oidc token verification failed",
		}
		if errors.Is(err, ErrJWKSFetchFailed) {
			rejection.status = http.StatusServiceUnavailable
			rejection.reason = "jwks_unavailable"
		}
		if v.logger != nil {
			v.logger.Printf("auth: oidc verification failed (%s): %v", rejection.reason, err)
		}
		return nil, rejection
	}

	issuer, _ := claims["iss"].(string)
	if len(allowedIssuers) > 0 {
		if _, ok := allowedIssuers[issuer]; !ok {
			if v.logger != nil {
				v.logger.Printf("auth: oidc issuer mismatch, got %q", issuer)
			}
			return nil, &oidcRejection{
				status:  http.StatusUnauthorized,
				code:    "invalid_token",
				reason:  "issuer_mismatch",
				message: "oidc issuer mismatch",
			}
		}
	}

	if !audienceMatches(claims, expectedAudience) {
		if v.logger != nil {
			v.logger.Printf("auth: oidc audience mismatch, expected %q (hdr=%s)", expectedAudience, source)
		}
		return nil, &oidcRejection{
			status:  http.StatusUnauthorized,
			code:    "invalid_token",
			reason:  "audience_mismatch",
			message: "oidc audience mismatch",
		}
	}

	email, _ := claims["email"].(string)
	subject, _ := claims["sub"].(string)

	return &ServiceIdentity{
		Subject:  subject,
		Email:    email,
		Issuer:   issuer,
		Audience: expectedAudience,
		Token:    parsed,
		Claims:   cloneClaims(claims),
	}, nil
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
}

func extractOIDCToken(r *http.Request) (token string, source string) {
	if r == nil {
		return "", ""
	}
	if authz := r.Header.Get("Authorization"); authz != "" {
		if bearer, ok := extractBearerToken(authz); ok {
			return bearer, "authorization"
		}
	}
	if assertion := strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion")); assertion != "" {
		return assertion, "iap"
	}
	return "", ""
}

// audienceMatches accepts the aud claim as a string or a string slice.
func audienceMatches(claims jwt.MapClaims, expected string) bool {
	switch v := claims["aud"].(type) {
	case string:
		return strings.TrimSpace(v) == expected
	case []string:
		for _, item := range v {
			if strings.TrimSpace(item) == expected {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if str, ok := item.(string); ok && strings.TrimSpace(str) == expected {
				return true
			}
		}
	}
	return false
}

func cloneClaims(claims jwt.MapClaims) map[string]any {
	out := make(map[string]any, len(claims))
	for key, value := range claims {
		out[key] = value
	}
	return out
}

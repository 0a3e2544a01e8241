package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// minimalEnv carries just the fields validation insists on.
func minimalEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID":   "star-cafe-dev",
		"API_STORAGE_ASSETS_BUCKET": "cafe-assets-dev",
	}
}

func loadWith(t *testing.T, env map[string]string, opts ...Option) Config {
	t.Helper()
	all := append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, opts...)
	cfg, err := Load(context.Background(), all...)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return cfg
}

func mapResolver(secrets map[string]string) SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})
}

func TestLoadWithDefaults(t *testing.T) {
	cfg := loadWith(t, minimalEnv())

	if cfg.Server.Port != "8080" || cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "star-cafe-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.DefaultPerMinute)
	}
	if len(cfg.Webhooks.AllowedHosts) != 0 {
		t.Errorf("expected no allowed hosts, got %v", cfg.Webhooks.AllowedHosts)
	}
	if cfg.Pricing.Currency != "JPY" {
		t.Errorf("expected default currency JPY, got %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.DeliveryFlatFee != 50 || cfg.Pricing.FreeDeliveryThreshold != 500 {
		t.Errorf("unexpected default delivery pricing %+v", cfg.Pricing)
	}
	if cfg.Loyalty.TierSpec != defaultLoyaltyTiers {
		t.Errorf("unexpected default tier spec %s", cfg.Loyalty.TierSpec)
	}
	if !cfg.Features.EnableRealtimeOrders || !cfg.Features.EnablePromotions {
		t.Errorf("expected feature flags on by default, got %+v", cfg.Features)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("unexpected jwks url %s", cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected google and iap issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Security.HMAC.SignatureHeader != defaultHMACSignatureHeader {
		t.Errorf("unexpected signature header %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.CleanupInterval != defaultIdempotencyInterval || cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected idempotency cleanup defaults %+v", cfg.Idempotency)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                     "9090",
		"API_SERVER_READ_TIMEOUT":             "20s",
		"API_SERVER_WRITE_TIMEOUT":            "25s",
		"API_SERVER_IDLE_TIMEOUT":             "2m",
		"API_FIREBASE_PROJECT_ID":             "star-cafe-prod",
		"API_FIRESTORE_PROJECT_ID":            "star-cafe-fire",
		"API_STORAGE_ASSETS_BUCKET":           "assets-prod",
		"API_STORAGE_LOGS_BUCKET":             "logs-prod",
		"API_STORAGE_EXPORTS_BUCKET":          "exports-prod",
		"API_PSP_STRIPE_API_KEY":              "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":       "secret://stripe/webhook",
		"API_PSP_PAYPAL_CLIENT_ID":            "paypal-client",
		"API_PSP_PAYPAL_SECRET":               "secret://paypal/secret",
		"API_PRICING_CURRENCY":                "usd",
		"API_PRICING_DELIVERY_FLAT_FEE":       "300",
		"API_PRICING_FREE_DELIVERY_THRESHOLD": "2500",
		"API_LOYALTY_TIERS":                   "bronze=0:10000,gold=50000:12000",
		"API_WEBHOOK_SIGNING_SECRET":          "secret://webhook/secret",
		"API_WEBHOOK_ALLOWED_HOSTS":           "https://example.com, https://foo.bar",
		"API_RATELIMIT_DEFAULT_PER_MIN":       "150",
		"API_RATELIMIT_AUTH_PER_MIN":          "300",
		"API_RATELIMIT_WEBHOOK_BURST":         "80",
		"API_FEATURE_REALTIME_ORDERS":         "false",
		"API_FEATURE_PROMOTIONS":              "false",
		"API_SECURITY_ENVIRONMENT":            "prod",
		"API_SECURITY_OIDC_AUDIENCE":          "https://service.example.com",
		"API_SECURITY_OIDC_ISSUERS":           "https://accounts.google.com, https://cloud.google.com/iap",
		"API_SECURITY_OIDC_JWKS_URL":          "https://example.com/jwks.json",
		"API_SECURITY_HMAC_SECRETS":           "payments/stripe=secret://hmac/stripe,kitchen=kitchen-secret",
		"API_SECURITY_HMAC_HEADER_SIGNATURE":  "X-Custom-Signature",
		"API_SECURITY_HMAC_CLOCK_SKEW":        "3m",
		"API_SECURITY_HMAC_NONCE_TTL":         "10m",
		"API_IDEMPOTENCY_HEADER":              "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                 "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL":    "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":       "500",
	}

	resolver := mapResolver(map[string]string{
		"secret://stripe/api":     "stripe-key",
		"secret://stripe/webhook": "stripe-webhook",
		"secret://paypal/secret":  "paypal-secret",
		"secret://webhook/secret": "webhook-secret",
		"secret://hmac/stripe":    "stripe-hmac",
	})

	cfg := loadWith(t, env, WithSecretResolver(resolver))

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server overrides %+v", cfg.Server)
	}
	if cfg.PSP.StripeAPIKey != "stripe-key" || cfg.PSP.PayPalSecret != "paypal-secret" {
		t.Errorf("expected resolved payment secrets, got %+v", cfg.PSP)
	}
	if len(cfg.Webhooks.AllowedHosts) != 2 {
		t.Fatalf("expected 2 allowed hosts, got %v", cfg.Webhooks.AllowedHosts)
	}
	if cfg.Pricing.Currency != "USD" {
		t.Errorf("expected currency upper-cased, got %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.DeliveryFlatFee != 300 || cfg.Pricing.FreeDeliveryThreshold != 2500 {
		t.Errorf("unexpected delivery pricing %+v", cfg.Pricing)
	}
	if cfg.Loyalty.TierSpec != "bronze=0:10000,gold=50000:12000" {
		t.Errorf("unexpected tier spec %s", cfg.Loyalty.TierSpec)
	}
	if cfg.Features.EnableRealtimeOrders || cfg.Features.EnablePromotions {
		t.Errorf("expected feature flags disabled, got %+v", cfg.Features)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected security environment prod, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.Audience != "https://service.example.com" {
		t.Errorf("unexpected oidc audience %s", cfg.Security.OIDC.Audience)
	}
	if cfg.Security.OIDC.JWKSURL != "https://example.com/jwks.json" {
		t.Errorf("unexpected jwks url %s", cfg.Security.OIDC.JWKSURL)
	}
	if cfg.Security.HMAC.Secrets["payments/stripe"] != "stripe-hmac" {
		t.Errorf("expected resolved stripe hmac secret, got %s", cfg.Security.HMAC.Secrets["payments/stripe"])
	}
	if cfg.Security.HMAC.Secrets["kitchen"] != "kitchen-secret" {
		t.Errorf("expected literal kitchen secret kept, got %s", cfg.Security.HMAC.Secrets["kitchen"])
	}
	if cfg.Security.HMAC.SignatureHeader != "X-Custom-Signature" {
		t.Errorf("unexpected signature header %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Security.HMAC.ClockSkew != 3*time.Minute || cfg.Security.HMAC.NonceTTL != 10*time.Minute {
		t.Errorf("unexpected hmac windows %+v", cfg.Security.HMAC)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency overrides %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency cleanup overrides %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=star-cafe-dot\nAPI_STORAGE_ASSETS_BUCKET=assets-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "star-cafe-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(validation.Fields()) == 0 {
		t.Fatal("expected missing field names in validation error")
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := minimalEnv()
	env["API_PSP_STRIPE_API_KEY"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://stripe/api=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	expectations := map[string]string{
		"API_FIREBASE_PROJECT_ID":  "override-project",
		"API_SECRET_FALLBACK_FILE": ".dot.local",
		"API_SECRET_PROJECT_IDS":   "prod=project-prod",
		"API_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	}
	for key, want := range expectations {
		if got := values[key]; got != want {
			t.Errorf("%s: expected %q, got %q", key, want, got)
		}
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(minimalEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Webhooks.SigningSecret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	want := redactSecretName("Webhooks.SigningSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != want {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Webhooks.SigningSecret" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	Load(context.Background(),
		WithEnvMap(minimalEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Webhooks.SigningSecret"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := minimalEnv()
	env["API_WEBHOOK_SIGNING_SECRET"] = "sm://webhook/secret"

	resolver := mapResolver(map[string]string{
		"secret://webhook/secret": "legacy-secret",
	})

	cfg := loadWith(t, env, WithSecretResolver(resolver))
	if cfg.Webhooks.SigningSecret != "legacy-secret" {
		t.Fatalf("expected legacy scheme resolved, got %s", cfg.Webhooks.SigningSecret)
	}
}

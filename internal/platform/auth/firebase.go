package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/star-cafe/api/internal/platform/config"
	"google.golang.org/api/option"
)

var errVerifierNotInitialised = errors.New("firebase verifier not initialised")

// FirebaseVerifier wraps the Firebase Admin SDK for token verification and
// user lookups. Every outbound call runs under a bounded context.
type FirebaseVerifier struct {
	client      *firebaseauth.Client
	callTimeout time.Duration
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.callTimeout = d
		}
	}
}

// newAdminAuthClient initialises the Admin SDK app and returns its auth client.
func newAdminAuthClient(ctx context.Context, cfg config.FirebaseConfig) (*firebaseauth.Client, error) {
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return client, nil
}

// NewFirebaseVerifier constructs a verifier over the Admin SDK auth client.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	client, err := newAdminAuthClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	verifier := &FirebaseVerifier{client: client, callTimeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier, nil
}

func (v *FirebaseVerifier) ready() error {
	if v == nil || v.client == nil {
		return errVerifierNotInitialised
	}
	return nil
}

func (v *FirebaseVerifier) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, v.callTimeout)
}

// VerifyIDToken verifies the token with the Admin SDK.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	ctx, cancel := v.callContext(ctx)
	defer cancel()
	return v.client.VerifyIDToken(ctx, idToken)
}

// GetUser loads the Firebase user record for the given UID.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	ctx, cancel := v.callContext(ctx)
	defer cancel()
	return v.client.GetUser(ctx, uid)
}

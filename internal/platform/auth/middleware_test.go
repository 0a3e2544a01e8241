package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

type recordingUserLoader struct {
	record  *firebaseauth.UserRecord
	calls   int
	lastUID string
}

func (l *recordingUserLoader) GetUser(_ context.Context, uid string) (*firebaseauth.UserRecord, error) {
	l.calls++
	l.lastUID = uid
	return l.record, nil
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRequireFirebaseAuthAllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "cust_001",
			Claims: map[string]interface{}{
				"role":   []interface{}{"staff", "admin"},
				"locale": "en-US",
				"email":  "barista@starcafe.example",
			},
		},
	}
	users := &recordingUserLoader{record: &firebaseauth.UserRecord{
		UserInfo: &firebaseauth.UserInfo{UID: "cust_001", Email: "barista@starcafe.example"},
	}}

	authn := NewAuthenticator(verifier, WithUserGetter(users))

	handlerCalled := false
	handler := authn.RequireFirebaseAuth(RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "cust_001" || identity.Email != "barista@starcafe.example" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if !identity.HasRole(RoleStaff) {
			t.Fatalf("expected staff role, got %v", identity.Roles)
		}
		if identity.Locale != "en-US" {
			t.Fatalf("expected locale en-US, got %s", identity.Locale)
		}

		// The user record loads lazily and only once.
		first, err := identity.User(r.Context())
		if err != nil {
			t.Fatalf("unexpected user load error: %v", err)
		}
		second, err := identity.User(r.Context())
		if err != nil {
			t.Fatalf("unexpected second user load error: %v", err)
		}
		if first != second {
			t.Fatalf("expected cached user record")
		}

		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bearerRequest("token-value"))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
	if users.calls != 1 || users.lastUID != "cust_001" {
		t.Fatalf("expected one user fetch for cust_001, got %d for %s", users.calls, users.lastUID)
	}
}

func TestRequireFirebaseAuthExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})

	handler := authn.RequireFirebaseAuth(RoleUser)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bearerRequest("expired-token"))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "token_expired" {
		t.Fatalf("expected token_expired error, got %v", body["error"])
	}
}

func TestRequireFirebaseAuthMissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID:    "cust_002",
			Claims: map[string]interface{}{},
		},
	}

	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleUser {
			t.Fatalf("expected fallback role %q, got %v", RoleUser, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bearerRequest("missing-role-token"))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

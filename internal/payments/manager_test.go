package payments

import (
	"context"
	"errors"
	"testing"
)

type recordingProvider struct {
	lastOp  string
	session CheckoutSession
	payment PaymentDetails
	err     error
}

func (p *recordingProvider) CreateCheckoutSession(context.Context, CheckoutSessionRequest) (CheckoutSession, error) {
	p.lastOp = "create"
	return p.session, p.err
}

func (p *recordingProvider) Confirm(context.Context, ConfirmRequest) (PaymentDetails, error) {
	p.lastOp = "confirm"
	return p.payment, p.err
}

func (p *recordingProvider) Capture(context.Context, CaptureRequest) (PaymentDetails, error) {
	p.lastOp = "capture"
	return p.payment, p.err
}

func (p *recordingProvider) Refund(context.Context, RefundRequest) (PaymentDetails, error) {
	p.lastOp = "refund"
	return p.payment, p.err
}

func (p *recordingProvider) LookupPayment(context.Context, LookupRequest) (PaymentDetails, error) {
	p.lastOp = "lookup"
	return p.payment, p.err
}

func TestManagerCreateCheckoutSessionUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripeProvider := &recordingProvider{session: CheckoutSession{ID: "cs_stripe"}}
	squareProvider := &recordingProvider{session: CheckoutSession{ID: "cs_square"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripeProvider,
		"square": squareProvider,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateCheckoutSession(ctx, PaymentContext{PreferredProvider: "square"}, CheckoutSessionRequest{Currency: "USD"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if session.Provider != "square" {
		t.Fatalf("expected provider 'square', got %q", session.Provider)
	}
	if squareProvider.lastOp != "create" {
		t.Fatalf("expected square provider to handle call")
	}
	if stripeProvider.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripeProvider := &recordingProvider{session: CheckoutSession{ID: "cs_stripe"}}
	squareProvider := &recordingProvider{session: CheckoutSession{ID: "cs_square"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripeProvider,
			"square": squareProvider,
		},
		WithCurrencyRoutes(map[string]string{"JPY": "square"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateCheckoutSession(ctx, PaymentContext{Currency: "JPY"}, CheckoutSessionRequest{Currency: "JPY"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != "square" {
		t.Fatalf("expected provider 'square', got %q", session.Provider)
	}
	if squareProvider.lastOp != "create" {
		t.Fatalf("expected square provider to handle call")
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripeProvider := &recordingProvider{payment: PaymentDetails{Provider: "stripe"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripeProvider})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Capture(ctx, PaymentContext{}, CaptureRequest{IntentID: "pi_123"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if stripeProvider.lastOp != "capture" {
		t.Fatalf("expected capture to invoke default provider")
	}
	if details.Provider != "stripe" {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(
		map[string]Provider{"stripe": &recordingProvider{}, "square": &recordingProvider{}},
		WithDefaultProvider(""),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreateCheckoutSession(ctx, PaymentContext{PreferredProvider: "unknown"}, CheckoutSessionRequest{Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

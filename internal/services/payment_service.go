package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/star-cafe/api/internal/payments"
	"github.com/star-cafe/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput indicates the caller supplied invalid parameters.
	ErrPaymentInvalidInput = errors.New("payment service: invalid input")
	// ErrPaymentNotFound indicates the referenced payment record does not exist.
	ErrPaymentNotFound = errors.New("payment service: payment not found")
	// ErrPaymentSignature indicates webhook signature verification failed.
	ErrPaymentSignature = errors.New("payment service: invalid webhook signature")
	// ErrPaymentUnavailable indicates a downstream dependency failed.
	ErrPaymentUnavailable = errors.New("payment service: unavailable")
	// ErrPaymentProviderRejected indicates the PSP rejected the operation.
	ErrPaymentProviderRejected = errors.New("payment service: provider rejected operation")
)

// paymentGateway abstracts payments.Manager for capture/refund flows.
type paymentGateway interface {
	Capture(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CaptureRequest) (payments.PaymentDetails, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Gateway  paymentGateway
	Records  repositories.OrderPaymentRepository
	Checkout CheckoutService

	// WebhookSecret is the Stripe signing secret for webhook verification.
	// Verification is skipped when empty, which is only acceptable in tests
	// and local development.
	WebhookSecret string

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	gateway       paymentGateway
	records       repositories.OrderPaymentRepository
	checkout      CheckoutService
	webhookSecret string
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Records == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Checkout == nil {
		return nil, errors.New("payment service: checkout service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		gateway:       deps.Gateway,
		records:       deps.Records,
		checkout:      deps.Checkout,
		webhookSecret: strings.TrimSpace(deps.WebhookSecret),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// RecordWebhookEvent verifies and dispatches a PSP webhook delivery. Stripe is
// the only supported provider. Events the service does not act on are logged
// and acknowledged so Stripe stops retrying them.
func (s *paymentService) RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error {
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider != "stripe" {
		return fmt.Errorf("%w: unsupported provider %q", ErrPaymentInvalidInput, cmd.Provider)
	}
	if len(cmd.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrPaymentInvalidInput)
	}

	event, err := s.parseStripeEvent(cmd)
	if err != nil {
		return err
	}

	switch event.Type {
	case "checkout.session.completed":
		return s.handleSessionCompleted(ctx, event)
	case "payment_intent.succeeded":
		return s.handleIntentSucceeded(ctx, event)
	case "checkout.session.expired", "payment_intent.payment_failed":
		return s.handleCheckoutAbandoned(ctx, event)
	default:
		s.logger(ctx, "payment_webhook_ignored", map[string]any{
			"eventId":   event.ID,
			"eventType": string(event.Type),
		})
		return nil
	}
}

func (s *paymentService) parseStripeEvent(cmd PaymentWebhookCommand) (stripe.Event, error) {
	if s.webhookSecret != "" {
		signature := headerValue(cmd.Headers, "Stripe-Signature")
		if signature == "" {
			return stripe.Event{}, fmt.Errorf("%w: missing Stripe-Signature header", ErrPaymentSignature)
		}
		event, err := webhook.ConstructEvent(cmd.Payload, signature, s.webhookSecret)
		if err != nil {
			return stripe.Event{}, fmt.Errorf("%w: %v", ErrPaymentSignature, err)
		}
		return event, nil
	}

	var event stripe.Event
	if err := json.Unmarshal(cmd.Payload, &event); err != nil {
		return stripe.Event{}, fmt.Errorf("%w: malformed event payload", ErrPaymentInvalidInput)
	}
	return event, nil
}

func (s *paymentService) handleSessionCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: malformed checkout session", ErrPaymentInvalidInput)
	}

	orderID := strings.TrimSpace(session.Metadata["order_id"])
	if orderID == "" {
		s.logger(ctx, "payment_webhook_missing_order", map[string]any{
			"eventId":   event.ID,
			"sessionId": session.ID,
		})
		return nil
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	return s.checkout.HandlePaymentSucceeded(ctx, PaymentSucceededCommand{
		OrderID:  orderID,
		IntentID: intentID,
		Amount:   session.AmountTotal,
		Currency: strings.ToUpper(string(session.Currency)),
		Raw:      rawEventPayload(event),
	})
}

func (s *paymentService) handleIntentSucceeded(ctx context.Context, event stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("%w: malformed payment intent", ErrPaymentInvalidInput)
	}

	orderID := strings.TrimSpace(intent.Metadata["order_id"])
	if orderID == "" {
		s.logger(ctx, "payment_webhook_missing_order", map[string]any{
			"eventId":       event.ID,
			"paymentIntent": intent.ID,
		})
		return nil
	}

	return s.checkout.HandlePaymentSucceeded(ctx, PaymentSucceededCommand{
		OrderID:  orderID,
		IntentID: intent.ID,
		Amount:   intent.Amount,
		Currency: strings.ToUpper(string(intent.Currency)),
		Raw:      rawEventPayload(event),
	})
}

func (s *paymentService) handleCheckoutAbandoned(ctx context.Context, event stripe.Event) error {
	var meta struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &meta); err != nil {
		return fmt.Errorf("%w: malformed event object", ErrPaymentInvalidInput)
	}

	orderID := strings.TrimSpace(meta.Metadata["order_id"])
	if orderID == "" {
		return nil
	}

	reason := "checkout_abandoned"
	if event.Type == "payment_intent.payment_failed" {
		reason = "checkout_payment_failed"
	}
	return s.checkout.ReleaseOnCancel(ctx, ReleaseCheckoutCommand{OrderID: orderID, Reason: reason})
}

// ManualCapture captures a previously authorised payment from the admin
// console.
func (s *paymentService) ManualCapture(ctx context.Context, cmd PaymentManualCaptureCommand) (Payment, error) {
	record, err := s.findPayment(ctx, cmd.OrderID, cmd.PaymentID)
	if err != nil {
		return Payment{}, err
	}
	if s.gateway == nil {
		return Payment{}, ErrPaymentUnavailable
	}
	if record.Captured {
		return record, nil
	}

	details, err := s.gateway.Capture(ctx, payments.PaymentContext{
		PreferredProvider: record.Provider,
		Currency:          record.Currency,
	}, payments.CaptureRequest{
		IntentID: record.IntentID,
	})
	if err != nil {
		s.logger(ctx, "payment_manual_capture_failed", map[string]any{
			"orderId":   record.OrderID,
			"paymentId": record.ID,
			"actorId":   cmd.ActorID,
			"error":     err.Error(),
		})
		return Payment{}, fmt.Errorf("%w: %v", ErrPaymentProviderRejected, err)
	}

	updated := s.applyDetails(record, details)
	if err := s.records.Update(ctx, updated); err != nil {
		return Payment{}, s.translateRecordError(err)
	}

	s.logger(ctx, "payment_manual_captured", map[string]any{
		"orderId":   updated.OrderID,
		"paymentId": updated.ID,
		"actorId":   cmd.ActorID,
	})
	return updated, nil
}

// ManualRefund refunds a captured payment, optionally partially.
func (s *paymentService) ManualRefund(ctx context.Context, cmd PaymentManualRefundCommand) (Payment, error) {
	record, err := s.findPayment(ctx, cmd.OrderID, cmd.PaymentID)
	if err != nil {
		return Payment{}, err
	}
	if s.gateway == nil {
		return Payment{}, ErrPaymentUnavailable
	}
	if cmd.Amount != nil && (*cmd.Amount <= 0 || *cmd.Amount > record.Amount) {
		return Payment{}, fmt.Errorf("%w: refund amount out of range", ErrPaymentInvalidInput)
	}

	details, err := s.gateway.Refund(ctx, payments.PaymentContext{
		PreferredProvider: record.Provider,
		Currency:          record.Currency,
	}, payments.RefundRequest{
		IntentID: record.IntentID,
		Amount:   cmd.Amount,
		Reason:   strings.TrimSpace(cmd.Reason),
	})
	if err != nil {
		s.logger(ctx, "payment_manual_refund_failed", map[string]any{
			"orderId":   record.OrderID,
			"paymentId": record.ID,
			"actorId":   cmd.ActorID,
			"error":     err.Error(),
		})
		return Payment{}, fmt.Errorf("%w: %v", ErrPaymentProviderRejected, err)
	}

	updated := s.applyDetails(record, details)
	if err := s.records.Update(ctx, updated); err != nil {
		return Payment{}, s.translateRecordError(err)
	}

	s.logger(ctx, "payment_manual_refunded", map[string]any{
		"orderId":   updated.OrderID,
		"paymentId": updated.ID,
		"actorId":   cmd.ActorID,
	})
	return updated, nil
}

// ListPayments returns the payment records for one order, oldest first.
func (s *paymentService) ListPayments(ctx context.Context, orderID string) ([]Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrPaymentInvalidInput
	}
	records, err := s.records.List(ctx, orderID)
	if err != nil {
		return nil, s.translateRecordError(err)
	}
	return records, nil
}

func (s *paymentService) findPayment(ctx context.Context, orderID, paymentID string) (Payment, error) {
	orderID = strings.TrimSpace(orderID)
	paymentID = strings.TrimSpace(paymentID)
	if orderID == "" || paymentID == "" {
		return Payment{}, ErrPaymentInvalidInput
	}

	records, err := s.records.List(ctx, orderID)
	if err != nil {
		return Payment{}, s.translateRecordError(err)
	}
	for _, record := range records {
		if record.ID == paymentID {
			return record, nil
		}
	}
	return Payment{}, ErrPaymentNotFound
}

func (s *paymentService) applyDetails(record Payment, details payments.PaymentDetails) Payment {
	now := s.now()
	record.Status = string(details.Status)
	record.Captured = details.Captured
	if details.CapturedAt != nil {
		record.CapturedAt = details.CapturedAt
	}
	if details.RefundedAt != nil {
		record.RefundedAt = details.RefundedAt
	}
	if len(details.Raw) > 0 {
		record.Raw = details.Raw
	}
	record.UpdatedAt = now
	return record
}

func (s *paymentService) translateRecordError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPaymentNotFound
		case repoErr.IsUnavailable():
			return ErrPaymentUnavailable
		}
	}
	return err
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	if value, ok := headers[key]; ok {
		return strings.TrimSpace(value)
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func rawEventPayload(event stripe.Event) map[string]any {
	raw := map[string]any{
		"eventId":   event.ID,
		"eventType": string(event.Type),
	}
	var object map[string]any
	if err := json.Unmarshal(event.Data.Raw, &object); err == nil {
		raw["object"] = object
	}
	return raw
}

var _ PaymentService = (*paymentService)(nil)

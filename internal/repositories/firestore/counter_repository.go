package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const countersCollection = "counters"

type counterDoc struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository backs order and invoice numbering with Firestore
// transactions, so concurrent checkouts never draw the same sequence value.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDoc]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDoc](provider, countersCollection, nil, nil),
	}, nil
}

// Next atomically advances the counter and returns its new value. A step of
// zero reuses the counter's configured step, defaulting to one.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	now := time.Now().UTC()
	var nextValue int64

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			nextValue, err = seedCounter(tx, ref, step, now)
			return err
		}
		if err != nil {
			return err
		}

		var doc counterDoc
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore counters decode %s: %w", id, err)
		}

		nextValue, err = advanceCounter(tx, ref, id, doc, step, now)
		return err
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return nextValue, nil
}

func seedCounter(tx *firestore.Transaction, ref *firestore.DocumentRef, step int64, now time.Time) (int64, error) {
	if step <= 0 {
		step = 1
	}
	doc := counterDoc{
		CurrentValue: step,
		Step:         step,
		UpdatedAt:    now,
	}
	if err := tx.Create(ref, doc); err != nil {
		return 0, err
	}
	return doc.CurrentValue, nil
}

func advanceCounter(tx *firestore.Transaction, ref *firestore.DocumentRef, id string, doc counterDoc, step int64, now time.Time) (int64, error) {
	increment := step
	if increment <= 0 {
		increment = doc.Step
		if increment <= 0 {
			increment = 1
		}
	}

	newValue := doc.CurrentValue + increment
	if doc.MaxValue != nil && newValue > *doc.MaxValue {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *doc.MaxValue), nil)
	}

	doc.CurrentValue = newValue
	doc.Step = increment
	doc.UpdatedAt = now

	if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
		return 0, err
	}
	return newValue, nil
}

// Configure merges step, max and initial value settings onto the counter
// document without touching fields the config leaves unset.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}

	payload := map[string]any{
		"updatedAt": time.Now().UTC(),
	}
	if cfg.Step > 0 {
		payload["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		payload["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		payload["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.counters.DocumentRef(ctx, id)
	if err != nil {
		return err
	}

	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/star-cafe/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the counter reached its configured maximum.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

// counterService issues sequential order and invoice numbers on top of the
// counter repository. Counter configuration is pushed down lazily and cached
// per counter so repeat calls with the same options skip the extra write.
type counterService struct {
	repo     repositories.CounterRepository
	clock    func() time.Time
	appliedM sync.Mutex
	applied  map[string]appliedCounterConfig
}

type appliedCounterConfig struct {
	stepSet      bool
	step         int64
	maxSet       bool
	maxValue     int64
	initialSet   bool
	initialValue int64
}

// NewCounterService constructs a counter sequence service.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		applied: make(map[string]appliedCounterConfig),
	}, nil
}

func (s *counterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	scope = strings.TrimSpace(scope)
	name = strings.TrimSpace(name)
	if scope == "" {
		return CounterValue{}, fmt.Errorf("%w: scope is required", ErrCounterInvalidInput)
	}
	if name == "" {
		return CounterValue{}, fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	}

	counterID := scope + ":" + name

	if err := s.syncConfig(ctx, counterID, opts); err != nil {
		return CounterValue{}, err
	}

	value, err := s.repo.Next(ctx, counterID, opts.Step)
	if err != nil {
		return CounterValue{}, mapCounterError(err)
	}

	return CounterValue{Value: value, Formatted: renderCounterValue(s.clock(), value, opts)}, nil
}

// NextOrderNumber issues the customer-visible order number, e.g. SC-2025-000007.
// Numbers reset per calendar year via the year-scoped counter name.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	now := s.clock()
	opts := CounterGenerationOptions{
		Formatter: func(current time.Time, seq int64) string {
			return fmt.Sprintf("SC-%04d-%06d", current.Year(), seq)
		},
	}
	result, err := s.Next(ctx, "orders", fmt.Sprintf("%04d", now.Year()), opts)
	if err != nil {
		return "", err
	}
	return result.Formatted, nil
}

// NextInvoiceNumber issues monthly-scoped invoice numbers, e.g. INV-202503-000012.
func (s *counterService) NextInvoiceNumber(ctx context.Context) (string, error) {
	now := s.clock()
	period := fmt.Sprintf("%04d%02d", now.Year(), int(now.Month()))
	opts := CounterGenerationOptions{
		Step:      1,
		Prefix:    "INV-" + period + "-",
		PadLength: 6,
	}
	result, err := s.Next(ctx, "invoices", period, opts)
	if err != nil {
		return "", err
	}
	return result.Formatted, nil
}

func (s *counterService) syncConfig(ctx context.Context, counterID string, opts CounterGenerationOptions) error {
	signature := appliedCounterConfig{}
	if opts.Step > 0 {
		signature.stepSet = true
		signature.step = opts.Step
	}
	if opts.MaxValue != nil {
		signature.maxSet = true
		signature.maxValue = *opts.MaxValue
	}
	if opts.InitialValue != nil {
		signature.initialSet = true
		signature.initialValue = *opts.InitialValue
	}

	s.appliedM.Lock()
	defer s.appliedM.Unlock()

	if existing, ok := s.applied[counterID]; ok && existing == signature {
		return nil
	}

	if signature.stepSet || signature.maxSet || signature.initialSet {
		cfg := repositories.CounterConfig{}
		if signature.stepSet {
			cfg.Step = signature.step
		}
		if signature.maxSet {
			cfg.MaxValue = &signature.maxValue
		}
		if signature.initialSet {
			cfg.InitialValue = &signature.initialValue
		}
		if err := s.repo.Configure(ctx, counterID, cfg); err != nil {
			return err
		}
	}
	s.applied[counterID] = signature
	return nil
}

func mapCounterError(err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		}
	}
	return err
}

func renderCounterValue(now time.Time, value int64, opts CounterGenerationOptions) string {
	if opts.Formatter != nil {
		return opts.Formatter(now, value)
	}

	formatted := strconv.FormatInt(value, 10)
	if opts.PadLength > 0 {
		formatted = fmt.Sprintf("%0*d", opts.PadLength, value)
	}
	return opts.Prefix + formatted + opts.Suffix
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

type fakeHealthRepo struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (f *fakeHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	f.calls++
	return f.report, f.err
}

type fakeAuditService struct {
	filter AuditLogFilter
	result domain.CursorPage[domain.AuditLogEntry]
	err    error
}

func (f *fakeAuditService) Record(context.Context, AuditLogRecord) {}

func (f *fakeAuditService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	f.filter = filter
	return f.result, f.err
}

type fakeCounterService struct {
	scope string
	name  string
	opts  CounterGenerationOptions
	value CounterValue
	err   error
}

func (f *fakeCounterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	f.scope = scope
	f.name = name
	f.opts = opts
	return f.value, f.err
}

func (f *fakeCounterService) NextOrderNumber(context.Context) (string, error) { return "", nil }

func (f *fakeCounterService) NextInvoiceNumber(context.Context) (string, error) { return "", nil }

var (
	_ repositories.HealthRepository = (*fakeHealthRepo)(nil)
	_ AuditLogService               = (*fakeAuditService)(nil)
	_ CounterService                = (*fakeCounterService)(nil)
)

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &fakeHealthRepo{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "2.4.0",
			CommitSHA:   "9f2c1ab",
			Environment: "prod",
			StartedAt:   start,
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}

	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if report.Version != "2.4.0" {
		t.Fatalf("expected version 2.4.0, got %s", report.Version)
	}
	if report.CommitSHA != "9f2c1ab" {
		t.Fatalf("expected commit 9f2c1ab, got %s", report.CommitSHA)
	}
	if report.Environment != "prod" {
		t.Fatalf("expected environment prod, got %s", report.Environment)
	}
	if report.Uptime != now.Sub(start) {
		t.Fatalf("expected uptime %s, got %s", now.Sub(start), report.Uptime)
	}
	if report.GeneratedAt != now {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportErrors(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &fakeHealthRepo{err: expected},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestSystemServiceDerivesStatusWhenMissing(t *testing.T) {
	repo := &fakeHealthRepo{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub":  {Status: domain.HealthStatusDegraded},
				"secrets": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected status degraded, got %s", report.Status)
	}
}

func TestSystemServiceListAuditLogsDelegates(t *testing.T) {
	audit := &fakeAuditService{
		result: domain.CursorPage[domain.AuditLogEntry]{Items: []domain.AuditLogEntry{{ID: "log_001"}}},
	}

	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &fakeHealthRepo{}, Audit: audit})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	result, err := svc.ListAuditLogs(context.Background(), AuditLogFilter{Actor: "staff:barista_07"})
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if audit.filter.Actor != "staff:barista_07" {
		t.Fatalf("expected actor filter propagated, got %s", audit.filter.Actor)
	}
	if len(result.Items) != 1 || result.Items[0].ID != "log_001" {
		t.Fatalf("unexpected result: %+v", result.Items)
	}
}

func TestSystemServiceListAuditLogsMissing(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &fakeHealthRepo{}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.ListAuditLogs(context.Background(), AuditLogFilter{}); err == nil {
		t.Fatalf("expected error when audit service missing")
	}
}

func TestSystemServiceNextCounterValueDelegates(t *testing.T) {
	counters := &fakeCounterService{value: CounterValue{Value: 42}}

	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &fakeHealthRepo{}, Counters: counters})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	value, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "orders:store_downtown", Step: 5})
	if err != nil {
		t.Fatalf("NextCounterValue: %v", err)
	}
	if value != 42 {
		t.Fatalf("expected 42, got %d", value)
	}
	if counters.scope != "orders" || counters.name != "store_downtown" {
		t.Fatalf("expected scope orders and name store_downtown, got %s:%s", counters.scope, counters.name)
	}
	if counters.opts.Step != 5 {
		t.Fatalf("expected step 5, got %d", counters.opts.Step)
	}
}

func TestSystemServiceNextCounterValueMissing(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &fakeHealthRepo{}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "orders:store_downtown"}); err == nil {
		t.Fatalf("expected error when counters missing")
	}
}

func TestSystemServiceNextCounterValueInvalidID(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &fakeHealthRepo{}, Counters: &fakeCounterService{}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "no-scope"}); err == nil {
		t.Fatalf("expected error for invalid counter id")
	}
}

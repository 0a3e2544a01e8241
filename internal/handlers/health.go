package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes. Healthz answers from
// local state only; Readyz consults the system service's dependency report.
type HealthHandlers struct {
	build  services.BuildInfo
	system services.SystemService
	now    func() time.Time
}

// HealthOption customises a HealthHandlers instance.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo attaches build metadata to probe responses.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = info }
}

// WithHealthSystemService wires the dependency report source for Readyz.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) { h.system = system }
}

// WithHealthClock overrides the time source, used by tests.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHealthHandlers constructs probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	handlers := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(handlers)
		}
	}
	return handlers
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime,omitempty"`
}

type readyzCheck struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs,omitempty"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readyzResponse struct {
	Status      string                 `json:"status"`
	Checks      map[string]readyzCheck `json:"checks"`
	Details     []string               `json:"details"`
	GeneratedAt string                 `json:"generatedAt,omitempty"`
}

// Healthz reports process liveness with build metadata.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	payload := healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
	}
	if !h.build.StartedAt.IsZero() {
		payload.Uptime = h.now().Sub(h.build.StartedAt).String()
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// Readyz reports readiness based on downstream dependency probes. Anything
// other than an OK aggregate yields 503 so load balancers stop routing.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, readyzResponse{
			Status:  domain.HealthStatusOK,
			Checks:  map[string]readyzCheck{},
			Details: []string{},
		})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzResponse{
			Status:  domain.HealthStatusError,
			Checks:  map[string]readyzCheck{},
			Details: []string{"health: " + err.Error()},
		})
		return
	}

	checks := make(map[string]readyzCheck, len(report.Checks))
	details := make([]string, 0)
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		entry := readyzCheck{
			Status: check.Status,
			Detail: check.Detail,
			Error:  check.Error,
		}
		if check.Latency > 0 {
			entry.LatencyMS = check.Latency.Milliseconds()
		}
		if !check.CheckedAt.IsZero() {
			entry.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339Nano)
		}
		checks[name] = entry
		if check.Status != domain.HealthStatusOK && check.Error != "" {
			details = append(details, name+": "+check.Error)
		}
	}

	payload := readyzResponse{
		Status:  report.Status,
		Checks:  checks,
		Details: details,
	}
	if !report.GeneratedAt.IsZero() {
		payload.GeneratedAt = report.GeneratedAt.UTC().Format(time.RFC3339Nano)
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

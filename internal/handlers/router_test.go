package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/services"
)

func serve(t *testing.T, router http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestRouterMountsProbeEndpoints(t *testing.T) {
	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&fakeSystemSvc{
			report: services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
		}),
	)

	router := NewRouter(WithHealthHandlers(healthHandlers))

	rr := serve(t, router, http.MethodGet, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("healthz: expected content-type application/json, got %s", ct)
	}

	if rr := serve(t, router, http.MethodGet, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected status 200, got %d", rr.Code)
	}
}

func TestRouterUnregisteredGroupReturns501(t *testing.T) {
	router := NewRouter()

	rr := serve(t, router, http.MethodGet, "/api/v1/menu")
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "not_implemented" {
		t.Fatalf("expected not_implemented error, got %v", body["error"])
	}
}

func TestRouterRegistrarsTakeOverGroups(t *testing.T) {
	menu := func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	orders := func(r chi.Router) {
		r.Get("/{orderId}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}

	router := NewRouter(WithMenuRoutes(menu), WithOrderRoutes(orders))

	if rr := serve(t, router, http.MethodGet, "/api/v1/menu"); rr.Code != http.StatusNoContent {
		t.Fatalf("menu: expected status 204, got %d", rr.Code)
	}
	if rr := serve(t, router, http.MethodGet, "/api/v1/orders/ord_900"); rr.Code != http.StatusOK {
		t.Fatalf("orders: expected status 200, got %d", rr.Code)
	}
}

func TestRouterUnknownPathReturns404(t *testing.T) {
	router := NewRouter()

	rr := serve(t, router, http.MethodGet, "/espresso/unknown")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found error, got %v", body["error"])
	}
}

func TestRouterGroupMiddlewares(t *testing.T) {
	marker := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Group", name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewRouter(
		WithWebhookMiddlewares(marker("webhooks")),
		WithInternalMiddlewares(marker("internal")),
	)

	if rr := serve(t, router, http.MethodGet, "/api/v1/webhooks/stripe"); rr.Header().Get("X-Group") != "webhooks" {
		t.Fatalf("expected webhook middleware to run, got %q", rr.Header().Get("X-Group"))
	}
	if rr := serve(t, router, http.MethodGet, "/api/v1/internal/counters"); rr.Header().Get("X-Group") != "internal" {
		t.Fatalf("expected internal middleware to run, got %q", rr.Header().Get("X-Group"))
	}
}

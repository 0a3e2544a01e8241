//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"testing"
	"time"

	pconfig "github.com/star-cafe/api/internal/platform/config"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

func TestCounterRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "star-cafe-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// A burst of concurrent checkouts must draw a gapless sequence.
	const baristas = 16
	drawn := make([]int64, baristas)
	var wg sync.WaitGroup
	wg.Add(baristas)
	for i := 0; i < baristas; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orders:store_downtown", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			drawn[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(drawn, func(i, j int) bool { return drawn[i] < drawn[j] })
	for i, val := range drawn {
		if want := int64(i + 1); val != want {
			t.Fatalf("expected sequence %d at position %d, got %d (all: %v)", want, i, val, drawn)
		}
	}

	// A bounded counter refuses to advance past its maximum.
	max := int64(3)
	start := int64(0)
	if err := repo.Configure(ctx, "invoices:monthly", repositories.CounterConfig{
		Step:         1,
		MaxValue:     &max,
		InitialValue: &start,
	}); err != nil {
		t.Fatalf("configure counter: %v", err)
	}

	for i := int64(1); i <= max; i++ {
		value, err := repo.Next(ctx, "invoices:monthly", 0)
		if err != nil {
			t.Fatalf("next bounded %d: %v", i, err)
		}
		if value != i {
			t.Fatalf("expected bounded counter %d got %d", i, value)
		}
	}

	_, err = repo.Next(ctx, "invoices:monthly", 0)
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) {
		t.Fatalf("expected counter error, got %T %v", err, err)
	}
	if counterErr.Code != repositories.CounterErrorExhausted {
		t.Fatalf("expected exhausted code, got %s", counterErr.Code)
	}
}

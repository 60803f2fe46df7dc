package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/humlab-sead/sead-reconciler/internal/app"
	"github.com/humlab-sead/sead-reconciler/internal/config"
	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	authoritymock "github.com/humlab-sead/sead-reconciler/pkg/authority/mock"
	llmmock "github.com/humlab-sead/sead-reconciler/pkg/provider/llm/mock"
	"github.com/humlab-sead/sead-reconciler/pkg/reconcile"
)

// testConfig returns a minimal config with one location entity type.
func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			Name:              "test-service",
			IdentifierSpace:   "https://data.sead.se/id",
			DefaultQueryLimit: 10,
		},
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   "info",
		},
		Authority: config.AuthorityConfig{
			PostgresDSN:        "postgres://unused/for-this-test",
			TrigramWeight:      0.5,
			AutoMatchThreshold: 0.92,
			AutoMatchMargin:    0.08,
			CandidateLimit:     20,
			KTrgm:              30,
			KSem:               30,
		},
		Entities: []config.EntityConfig{
			{
				ID:          "location",
				Name:        "Location",
				Table:       "locations",
				IDColumn:    "location_id",
				LabelColumn: "norm_label",
				Properties: []config.PropertyConfig{
					{ID: "country", Name: "Country", Column: "country", Type: "string", Kind: "exact_boost", BoostWeight: 0.1},
				},
			},
		},
	}
}

func testStore() authority.Store {
	store := authoritymock.New()
	store.Seed("locations", []authority.Row{
		{ID: 1, Label: "Stockholm", NormLabel: "stockholm", Secondary: map[string]any{"country": "Sweden"}},
	})
	return store
}

func TestNew_WithInjectedStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	providers := &app.Providers{LLM: &llmmock.Provider{}}

	application, err := app.New(context.Background(), cfg, providers, app.WithStore(testStore()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	if application.Service() == nil {
		t.Fatal("expected a non-nil reconciliation service")
	}
	if got := application.Registry().Names(); len(got) != 1 || got[0] != "location" {
		t.Fatalf("expected registry to contain the location entity type, got %v", got)
	}
}

func TestNew_RequiresDSNWhenNoStoreInjected(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Authority.PostgresDSN = ""

	_, err := app.New(context.Background(), cfg, &app.Providers{})
	if err == nil {
		t.Fatal("expected an error when no store is injected and no DSN is configured")
	}
}

func TestNew_ReconcilesAgainstInjectedStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	application, err := app.New(context.Background(), cfg, &app.Providers{}, app.WithStore(testStore()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	batch := reconcile.NewBatchRequest()
	batch.Add("q0", reconcile.Query{MentionText: "Stockholm", EntityType: "location"})
	result := application.Service().Reconcile(context.Background(), batch)
	if err := result.Errors["q0"]; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Results["q0"].Candidates) == 0 {
		t.Fatal("expected at least one candidate")
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	application, err := app.New(context.Background(), cfg, &app.Providers{}, app.WithStore(testStore()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	application, err := app.New(context.Background(), cfg, &app.Providers{}, app.WithStore(testStore()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() (idempotent) error: %v", err)
	}
}

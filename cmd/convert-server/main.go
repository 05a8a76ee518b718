package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Lllllllleong/conversionflow/internal/api"
	"github.com/Lllllllleong/conversionflow/internal/artifact"
	"github.com/Lllllllleong/conversionflow/internal/auth"
	"github.com/Lllllllleong/conversionflow/internal/config"
	"github.com/Lllllllleong/conversionflow/internal/gcp"
	"github.com/Lllllllleong/conversionflow/internal/jobstore"
	"github.com/Lllllllleong/conversionflow/internal/notify"
	"github.com/Lllllllleong/conversionflow/internal/orchestrator"
	"github.com/Lllllllleong/conversionflow/internal/provider"
)

func main() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Server terminated", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}
	repo, err := newRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	converter := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey,
		provider.WithPolling(cfg.PollInterval(), cfg.Provider.PollAttempts))
	orch := orchestrator.New(store, repo, converter, orchestrator.WithWorkers(cfg.Orchestrator.Workers))

	hub := notify.NewHub()
	relay := notify.NewRelay(hub)
	go relay.Run(ctx, repo.Events())

	verifier := auth.StaticVerifier(staticTokens())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewServer(orch, repo, store, hub).Routes(verifier),
	}

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down")
		_ = server.Shutdown(context.Background())
	}()

	slog.Info("Conversion server listening", "port", cfg.Server.Port, "store", cfg.Store.Backend)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	if cfg.Store.Backend == config.StoreMemory {
		return artifact.NewMemStore(), nil
	}
	client, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	return artifact.NewGCSStore(client, cfg.Storage.Bucket), nil
}

func newRepository(ctx context.Context, cfg *config.Config) (jobstore.Repository, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		return jobstore.NewPostgresRepository(ctx, cfg.Store.PostgresDSN)
	case config.StoreFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.Store.FirestoreProject)
		if err != nil {
			return nil, err
		}
		return jobstore.NewFirestoreRepository(client, cfg.Store.FirestoreCollection), nil
	default:
		return jobstore.NewMemRepository(), nil
	}
}

// staticTokens reads API_TOKENS as comma-separated token=user pairs. Real
// deployments swap the verifier for the identity provider's.
func staticTokens() map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(gcp.GetEnv("API_TOKENS", ""), ",") {
		if token, user, ok := strings.Cut(pair, "="); ok && token != "" {
			tokens[token] = user
		}
	}
	return tokens
}

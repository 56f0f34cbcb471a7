package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent2allow/gateway/internal/apiauth"
	"github.com/agent2allow/gateway/internal/audit"
	"github.com/agent2allow/gateway/internal/config"
	"github.com/agent2allow/gateway/internal/connector"
	"github.com/agent2allow/gateway/internal/gateway"
	"github.com/agent2allow/gateway/internal/policy"
	"github.com/agent2allow/gateway/internal/rbac"
	"github.com/agent2allow/gateway/internal/service"
	"github.com/agent2allow/gateway/internal/store"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization gateway",
		RunE:  runServe,
	}

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := policy.NewEngine(cfg.Policy.Path)
	if err != nil {
		return fmt.Errorf("invalid policy document: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	sink, err := audit.BuildSink(ctx, cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to build audit sink: %w", err)
	}

	authorizer, err := rbac.New(cfg.RBAC)
	if err != nil {
		return fmt.Errorf("invalid approval rbac config: %w", err)
	}

	keyAuth, err := apiauth.New(cfg.APIAuth)
	if err != nil {
		return fmt.Errorf("invalid approval api auth config: %w", err)
	}

	client := connector.NewGitHubClient(connector.GitHubOptions{
		BaseURL:       cfg.GitHub.BaseURL,
		Token:         cfg.GitHub.Token,
		RetryAttempts: cfg.GitHub.RetryAttempts,
		RetryBackoff:  time.Duration(cfg.GitHub.RetryBackoffMS) * time.Millisecond,
		Timeout:       time.Duration(cfg.GitHub.TimeoutSeconds) * time.Second,
	})

	svc := service.New(st, engine, client, authorizer, sink)
	server := gateway.New(cfg.Server, svc, keyAuth)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Printf("Agent2Allow gateway running at http://%s\nPress Ctrl+C to stop.\n", server.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("server component failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway shutdown failed", "error", err)
	}

	return runErr
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parsera-labs/dispatch/internal/gateway"
	"github.com/parsera-labs/dispatch/internal/scheduler"
)

const shutdownGrace = 10 * time.Second

// newGatewayCmd creates the 'gateway' subcommand: the HTTP surface for
// registering crawlers plus the cron runner for recurring crawls.
func newGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the HTTP gateway and the crawl scheduler",
		Long: `Serves the crawler registration API and re-enqueues recurring
crawls on their timer rules. Requires the relational store.`,
		RunE: runGatewayCommand,
	}
}

func runGatewayCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.ConnectStore(ctx); err != nil {
		return err
	}
	if err := a.Broker().DeclareTopology(ctx); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}

	sched := scheduler.New(a.Store(), a.Broker(), logger)
	if err := sched.Reload(ctx); err != nil {
		return fmt.Errorf("load crawler schedules: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config().Gateway.Port),
		Handler:           gateway.NewServer(a.Store(), a.Broker(), logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}

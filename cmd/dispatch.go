package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parsera-labs/dispatch/internal/router"
)

// newDispatchCmd creates the 'run' subcommand: the consumer loop that routes
// pipeline events between stages.
func newDispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the event dispatcher",
		Long: `Declares the broker topology, then consumes the inbound queue and
routes every event to its next pipeline stage until interrupted. In-flight
events are drained before exit.`,
		RunE: runDispatchCommand,
	}
}

func runDispatchCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := a.Broker()
	if err := b.DeclareTopology(ctx); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}

	r := router.New(b, a.Limiter(), a.Stages(), logger)
	deliveries := b.Consume(ctx, b.Topology().ConsumeQueue)

	logger.Info("dispatcher started",
		zap.String("queue", b.Topology().ConsumeQueue),
	)

	// Run returns once the delivery stream closes, which happens after the
	// signal context is canceled and the consumer drains.
	r.Run(ctx, deliveries)

	logger.Info("dispatcher stopped")
	return nil
}

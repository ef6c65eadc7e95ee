package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rt-technologie/freightd/config"
	"github.com/rt-technologie/freightd/core/sync"
	"github.com/rt-technologie/freightd/infra/agent"
	"github.com/rt-technologie/freightd/infra/logger"
	"github.com/rt-technologie/freightd/infra/store"
	"github.com/rt-technologie/freightd/internal/eventbus"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the driver-side outbox agent",
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return runAgentWith(ctx, cfg)
}

func runAgentWith(ctx context.Context, cfg *config.Config) error {
	logg := logger.New("agent")
	storage, err := store.NewSyncStorage(cfg.Agent.QueuePath)
	if err != nil {
		return err
	}
	submitter := agent.NewHTTPSubmitter(cfg.Agent.ServerURL)
	queue, err := sync.NewQueue(storage, submitter, eventbus.New(), logg, cfg.Agent.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logg.Errorf("queue close: %v", err)
		}
	}()

	a, err := agent.New(queue, logg)
	if err != nil {
		return err
	}
	return a.Run(ctx, cfg.Agent.Addr)
}

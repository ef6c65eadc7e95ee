package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rt-technologie/freightd/app"
	"github.com/rt-technologie/freightd/infra/logger"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <mission-id>",
	Short: "Start the carrier chain for a mission",
	Args:  cobra.ExactArgs(1),
	RunE:  dispatchMission,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

func dispatchMission(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	logg := logger.New("dispatch-command")
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()

	missionID := args[0]
	if err := svc.Engine.Offer(ctx, missionID); err != nil {
		return fmt.Errorf("dispatch mission %s: %w", missionID, err)
	}
	logg.Infof("dispatch chain started for mission %s, waiting for resolution", missionID)

	// Keep the process alive so SLA timers can fire. Interrupt to stop.
	<-ctx.Done()
	return nil
}

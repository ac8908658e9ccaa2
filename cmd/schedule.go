package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	"github.com/predicateautomate/drugsync/internal/config"
	"github.com/predicateautomate/drugsync/internal/utils"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule [module...]",
	Short: "Run now, then every day at schedule.at until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newScheduler(ctx, cfg, args)
		if err != nil {
			return err
		}

		// Initial run
		scheduledRun(ctx, cfg, args)

		s.StartAsync()
		_, next := s.NextRun()
		utils.Log.Infof("Next run at %s", next.Format(time.RFC3339))

		<-ctx.Done()
		utils.Log.Info("Stopping scheduler")
		s.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	addRunFlags(scheduleCmd)
}

// newScheduler registers the daily job. Singleton mode skips a tick while
// the previous run is still going, so runs never overlap.
func newScheduler(ctx context.Context, cfg config.Config, args []string) (*gocron.Scheduler, error) {
	times, err := cfg.ScheduleTimes()
	if err != nil {
		return nil, err
	}
	s := gocron.NewScheduler(time.Local)
	s.SingletonModeAll()
	if _, err := s.Every(1).Days().At(strings.Join(times, ";")).Do(func() {
		scheduledRun(ctx, cfg, args)
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule runs: %w", err)
	}
	return s, nil
}

func scheduledRun(ctx context.Context, cfg config.Config, args []string) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	ok, err := runModules(ctx, cfg, args)
	switch {
	case err != nil:
		utils.Log.Errorf("Scheduled run failed: %v", err)
	case !ok:
		utils.Log.Warnf("Scheduled run finished with errors after %s", time.Since(start).Round(time.Second))
	default:
		utils.Log.Infof("Scheduled run finished in %s", time.Since(start).Round(time.Second))
	}
}

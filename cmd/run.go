package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/predicateautomate/drugsync/internal/config"
	"github.com/predicateautomate/drugsync/internal/utils"
	"github.com/predicateautomate/drugsync/pkg/artifacts"
	"github.com/predicateautomate/drugsync/pkg/metrics"
	"github.com/predicateautomate/drugsync/pkg/pipeline"
	"github.com/predicateautomate/drugsync/pkg/report"
	"github.com/predicateautomate/drugsync/pkg/storage"
	"github.com/predicateautomate/drugsync/pkg/whttp"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [module...]",
	Short: "Fetch, flatten and load every enabled module once",
	Long: `Runs the enabled modules one after another. With arguments, only the named
modules run. Exits non-zero when any module ends partial or failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ok, err := runModules(ctx, cfg, args)
		if err != nil {
			return err
		}
		if !ok {
			return errUnclean
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

// addRunFlags registers the flags shared by run and schedule and binds
// them to their config keys.
func addRunFlags(c *cobra.Command) {
	f := c.Flags()
	f.Int("trial-limit", 0, "Process only the first N applications (0 = all)")
	f.Int("batch-size", 0, "Records per load transaction")
	f.Int("max-retries", 0, "Retries per download after the first attempt")
	f.String("timeout", "", "Per-request timeout (e.g. 300s)")
	f.String("transport", "", "Upstream transport: bulk or api")
	f.String("source-file", "", "Load from a local JSON or zip file instead of downloading")
	f.String("dbpath", "", "Path to SQLite DB file")
	f.String("dsn", "", "Database DSN (postgres://... selects Postgres)")
	f.String("table", "", "Target table")
	f.StringP("output-dir", "o", "", "Directory for audit artifacts")
	f.Bool("no-artifacts", false, "Do not write audit artifacts")
	f.Bool("dry-run", false, "Load into an in-memory store instead of the database")

	// Bound at PreRun so run and schedule do not steal each other's flags.
	c.PreRun = func(cmd *cobra.Command, args []string) {
		for flag, key := range map[string]string{
			"trial-limit": "trial_limit",
			"batch-size":  "batch_size",
			"max-retries": "max_retries",
			"timeout":     "request_timeout",
			"transport":   "fda.transport",
			"source-file": "fda.source_file",
			"dbpath":      "database.path",
			"dsn":         "database.dsn",
			"table":       "database.table",
			"output-dir":  "output.dir",
			"dry-run":     "dry_run",
		} {
			viper.BindPFlag(key, cmd.Flags().Lookup(flag))
		}
		if off, _ := cmd.Flags().GetBool("no-artifacts"); off {
			viper.Set("output.artifacts", false)
		}
		if dsn, _ := cmd.Flags().GetString("dsn"); isPostgresDSN(dsn) {
			viper.Set("database.driver", config.DriverPostgres)
		}
	}
}

func isPostgresDSN(dsn string) bool {
	return config.IsPostgresURL(dsn)
}

// selectModules returns the registered modules to run, in registry order.
func selectModules(cfg config.Config, only []string) ([]module, error) {
	if len(only) > 0 {
		var out []module
		for _, key := range only {
			m, ok := findModule(key)
			if !ok {
				return nil, fmt.Errorf("unknown module %q", key)
			}
			out = append(out, m)
		}
		return out, nil
	}
	var out []module
	for _, m := range registry {
		if cfg.ModuleEnabled(m.Key) {
			out = append(out, m)
		} else {
			utils.Log.Infof("Module %s is disabled, skipping", m.Key)
		}
	}
	return out, nil
}

func openStore(cfg config.Config) (storage.Store, func() error, error) {
	if cfg.DryRun {
		utils.Log.Warnf("Dry run: records are loaded into memory and discarded")
		return storage.NewMemoryStore(), func() error { return nil }, nil
	}
	db, err := storage.Open(cfg.DSN(), cfg.Database.Table)
	if err != nil {
		return nil, nil, err
	}
	utils.Log.Infof("Loading into %s table %s", db.Dialect(), db.Table())
	return db, db.Close, nil
}

// runModules runs the selected modules sequentially under the run lock and
// reports whether every one of them succeeded.
func runModules(ctx context.Context, cfg config.Config, only []string) (bool, error) {
	mods, err := selectModules(cfg, only)
	if err != nil {
		return false, err
	}
	if len(mods) == 0 {
		utils.Log.Warnf("No modules enabled, nothing to do")
		return true, nil
	}

	if !cfg.DryRun {
		lock, err := utils.NewRunLock(cfg.LockPath())
		if err != nil {
			return false, err
		}
		if err := lock.Lock(); err != nil {
			return false, err
		}
		defer lock.Unlock()
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return false, err
	}
	defer closeStore()

	allOK := true
	for _, m := range mods {
		summary := runModule(ctx, cfg, m, store)
		summary.Print(os.Stdout)
		fmt.Println()
		if !summary.OK() {
			allOK = false
			if cfg.StopOnError {
				utils.Log.Warnf("Stopping after %s ended %s (settings.stop_on_error)", m.Key, summary.Status)
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	return allOK, nil
}

func runModule(ctx context.Context, cfg config.Config, m module, store storage.Store) report.RunSummary {
	runID := uuid.NewString()
	log := utils.Log.WithField("run", runID[:8])
	met := metrics.New(m.Key)

	client := whttp.New(whttp.Options{
		MaxRetries:   cfg.MaxRetries,
		Timeout:      cfg.RequestTimeout,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
		Log:          log,
		OnAttempt:    func(string, int) { met.HTTPAttempts.Inc() },
	})

	var aw *artifacts.Writer
	if cfg.Artifacts {
		aw = &artifacts.Writer{Dir: cfg.OutputDir, Module: m.Key, Log: log}
	}

	log.Infof("Starting module %s (%s)", m.Key, m.Description)
	// Run already logged the failure and recorded it in summary.Failure.
	summary, _ := pipeline.Run(ctx, pipeline.Config{
		Source:     m.NewSource(cfg, client),
		Store:      store,
		Country:    m.Country(cfg),
		TrialLimit: cfg.TrialLimit,
		BatchSize:  cfg.BatchSize,
		RunID:      runID,
		Artifacts:  aw,
		Metrics:    met,
		Log:        log,
	})
	return summary
}

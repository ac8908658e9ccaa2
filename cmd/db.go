package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/predicateautomate/drugsync/internal/config"
	"github.com/predicateautomate/drugsync/internal/utils"
	"github.com/predicateautomate/drugsync/pkg/storage"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the drugsync database",
}

func openConfiguredDB() (*storage.DB, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	if cfg.Database.Driver == config.DriverSQLite && cfg.Database.DSN == "" {
		if _, err := os.Stat(cfg.Database.Path); os.IsNotExist(err) {
			return nil, cfg, fmt.Errorf("database file not found: %s", cfg.Database.Path)
		}
	}
	db, err := storage.Open(cfg.DSN(), cfg.Database.Table)
	return db, cfg, err
}

// countCmd represents the count command
var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Prints the number of rows in the target table",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openConfiguredDB()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.Count(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d rows\n", db.Table(), n)
		return nil
	},
}

// dbStatsCmd represents the stats command
var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints rows and registrations per submission type",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openConfiguredDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(context.Background())
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "SUBMISSION TYPE\tROWS\tREGISTRATIONS\t")

		var totalRows, totalRegistrations int
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t\n", utils.Truncate(s.SubmissionType, 24), s.Rows, s.Registrations)
			totalRows += s.Rows
			totalRegistrations += s.Registrations
		}

		fmt.Fprintln(w, " \t \t \t")
		// Registrations can span submission types, so this total over-counts.
		fmt.Fprintf(w, "TOTAL\t%d\t%d\t\n", totalRows, totalRegistrations)

		w.Flush()

		return nil
	},
}

// schemaCmd represents the schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Prints the table DDL for the configured database",
	Long: `Prints the DDL for the configured dialect. SQLite tables are created on
first use; for Postgres the output is meant for whoever owns the schema and is
never executed by drugsync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dialect := storage.DialectSQLite
		if cfg.Database.Driver == config.DriverPostgres {
			dialect = storage.DialectPostgres
		}
		if d, _ := cmd.Flags().GetString("dialect"); d != "" {
			dialect = storage.Dialect(d)
		}
		if dialect != storage.DialectSQLite && dialect != storage.DialectPostgres {
			return fmt.Errorf("unknown dialect %q", dialect)
		}
		table := cfg.Database.Table
		if table == "" {
			table = storage.DefaultTable(dialect)
		}
		fmt.Println(storage.Schema(dialect, table))
		return nil
	},
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var c *exec.Cmd
		if cfg.Database.Driver == config.DriverPostgres || isPostgresDSN(cfg.Database.DSN) {
			psqlPath, err := exec.LookPath("psql")
			if err != nil {
				return fmt.Errorf("psql command not found in your PATH. Please install it to use the db shell")
			}
			c = exec.Command(psqlPath, cfg.DSN())
		} else {
			if _, err := os.Stat(cfg.Database.Path); os.IsNotExist(err) {
				return fmt.Errorf("database file not found: %s", cfg.Database.Path)
			}
			sqlitePath, err := exec.LookPath("sqlite3")
			if err != nil {
				return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
			}
			c = exec.Command(sqlitePath, cfg.Database.Path)
		}

		fmt.Println("--> Starting interactive shell... (Ctrl+D to exit)")
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(countCmd)
	dbCmd.AddCommand(dbStatsCmd)
	dbCmd.AddCommand(schemaCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file")
	dbCmd.PersistentFlags().String("dsn", "", "Database DSN (postgres://... selects Postgres)")
	schemaCmd.Flags().String("dialect", "", "sqlite or postgres (default: configured driver)")
	dbCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("database.path", dbCmd.PersistentFlags().Lookup("dbpath"))
		viper.BindPFlag("database.dsn", dbCmd.PersistentFlags().Lookup("dsn"))
		if dsn, _ := dbCmd.PersistentFlags().GetString("dsn"); isPostgresDSN(dsn) {
			viper.Set("database.driver", config.DriverPostgres)
		}
	}
}

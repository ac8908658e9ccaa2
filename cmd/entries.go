package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/predicateautomate/drugsync/internal/utils"
	"github.com/predicateautomate/drugsync/pkg/drugsfda"
	"github.com/predicateautomate/drugsync/pkg/sources"
	"github.com/predicateautomate/drugsync/pkg/sources/fda"
	"github.com/predicateautomate/drugsync/pkg/sources/file"
	"github.com/predicateautomate/drugsync/pkg/whttp"
)

// entriesCmd represents the entries command
var entriesCmd = &cobra.Command{
	Use:   "entries [file]",
	Short: "Predict how many rows the Drugs@FDA dataset flattens into",
	Long: `Counts applications, submissions and products and the rows they expand
into (submissions x products per application). Reads a local JSON or zip file
when given, otherwise downloads the dataset like run does. Nothing is loaded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var src sources.Source
		if len(args) == 1 {
			src = &file.Source{Module: fda.ModuleName, Path: args[0]}
		} else {
			m, _ := findModule(fda.ModuleName)
			src = m.NewSource(cfg, whttp.New(whttp.Options{
				MaxRetries:   cfg.MaxRetries,
				Timeout:      cfg.RequestTimeout,
				RetryWaitMin: cfg.RetryWaitMin,
				RetryWaitMax: cfg.RetryWaitMax,
				Log:          utils.Log,
			}))
		}

		raw, err := src.Fetch(context.Background())
		if err != nil {
			return err
		}
		doc, err := drugsfda.Parse(raw.Body, utils.Log)
		if err != nil {
			return err
		}
		analysis := drugsfda.Analyze(doc.Applications)

		if out, _ := cmd.Flags().GetString("json"); out != "" {
			data, err := json.MarshalIndent(analysis, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			utils.Log.Infof("Analysis written to %s", out)
		}
		top, _ := cmd.Flags().GetInt("top")
		printAnalysis(os.Stdout, analysis, top)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(entriesCmd)
	entriesCmd.Flags().String("json", "", "Also write the full analysis to this JSON file")
	entriesCmd.Flags().Int("top", 10, "Distribution rows to print")
}

func printAnalysis(out io.Writer, a drugsfda.EntryAnalysis, top int) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "\tTOTAL\tPER APPLICATION\t")
	fmt.Fprintf(w, "APPLICATIONS\t%d\t\t\n", a.Applications)
	fmt.Fprintf(w, "SUBMISSIONS\t%d\t%.2f\t\n", a.Submissions, a.Averages.Submissions)
	fmt.Fprintf(w, "PRODUCTS\t%d\t%.2f\t\n", a.Products, a.Averages.Products)
	fmt.Fprintf(w, "ENTRIES\t%d\t%.2f\t\n", a.Entries, a.Averages.Entries)
	fmt.Fprintf(w, "NO PRODUCTS\t%d\t\t\n", a.NoProducts)
	fmt.Fprintf(w, "NO SUBMISSIONS\t%d\t\t\n", a.NoSubmissions)
	w.Flush()

	if a.Max != nil {
		fmt.Fprintf(out, "\nLargest application: %s (%d submissions x %d products = %d entries)\n",
			a.Max.ApplicationNumber, a.Max.Submissions, a.Max.Products, a.Max.Entries)
	}

	buckets := a.TopDistribution(top)
	if len(buckets) == 0 {
		return
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "ENTRIES/APPLICATION\tAPPLICATIONS\t")
	for _, b := range buckets {
		fmt.Fprintf(w, "%d\t%d\t\n", b.EntriesPerApplication, b.Applications)
	}
	w.Flush()
}

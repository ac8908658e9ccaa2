// Package report folds one module run into the summary handed to the
// orchestrator.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/predicateautomate/drugsync/pkg/loader"
	"github.com/predicateautomate/drugsync/pkg/stats"
)

// MaxListedErrors bounds error_list; the errors counter keeps the full count.
const MaxListedErrors = 100

type Status string

const (
	StatusSuccess Status = "success"
	// StatusPartial means the load finished but some records failed.
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Input is everything a run knows when it ends. Missing parts count as zero.
type Input struct {
	RunID      string
	Module     string
	TrialLimit int
	// Applications is the number of applications handed to flattening,
	// after the trial limit.
	Applications int
	Entries      int
	Statistics   *stats.RunStatistics
	Load         *loader.LoadReport
	CountBefore  int64
	CountAfter   int64
	StartedAt    time.Time
	FinishedAt   time.Time
	// Err is the terminal error that ended the run early, if any.
	Err error
}

type RunSummary struct {
	RunID            string               `json:"run_id"`
	Module           string               `json:"module"`
	Status           Status               `json:"status"`
	TrialMode        bool                 `json:"trial_mode"`
	TrialLimit       int                  `json:"trial_limit"`
	RecordsProcessed int                  `json:"records_processed"`
	TotalEntries     int                  `json:"total_entries"`
	Inserted         int                  `json:"inserted"`
	Duplicates       int                  `json:"duplicates_skipped"`
	Errors           int                  `json:"errors"`
	DBCountBefore    int64                `json:"db_count_before"`
	DBCountAfter     int64                `json:"db_count_after"`
	NetIncrease      int64                `json:"net_increase"`
	StartedAt        time.Time            `json:"started_at"`
	FinishedAt       time.Time            `json:"finished_at"`
	Duration         string               `json:"duration"`
	DurationSeconds  float64              `json:"duration_seconds"`
	Failure          string               `json:"failure,omitempty"`
	ErrorList        []loader.RecordError `json:"error_list"`
	Statistics       stats.RunStatistics  `json:"statistics"`
}

// Build is pure aggregation.
func Build(in Input) RunSummary {
	s := RunSummary{
		RunID:            in.RunID,
		Module:           in.Module,
		TrialMode:        in.TrialLimit > 0,
		TrialLimit:       in.TrialLimit,
		RecordsProcessed: in.Applications,
		TotalEntries:     in.Entries,
		DBCountBefore:    in.CountBefore,
		DBCountAfter:     in.CountAfter,
		NetIncrease:      in.CountAfter - in.CountBefore,
		StartedAt:        in.StartedAt,
		FinishedAt:       in.FinishedAt,
		ErrorList:        []loader.RecordError{},
	}
	if s.RunID == "" {
		s.RunID = uuid.NewString()
	}
	if in.Statistics != nil {
		s.Statistics = *in.Statistics
	}
	if !in.StartedAt.IsZero() && in.FinishedAt.After(in.StartedAt) {
		d := in.FinishedAt.Sub(in.StartedAt)
		s.Duration = d.Round(time.Millisecond).String()
		s.DurationSeconds = d.Seconds()
	} else {
		s.Duration = "0s"
	}

	if l := in.Load; l != nil {
		s.Inserted = l.Inserted
		s.Duplicates = l.Duplicates
		s.Errors = l.Errors
		list := l.ErrorList
		if len(list) > MaxListedErrors {
			list = list[:MaxListedErrors]
		}
		s.ErrorList = append(s.ErrorList, list...)
	}

	switch {
	case in.Err != nil:
		s.Status = StatusFailed
		s.Failure = in.Err.Error()
	case s.Errors > 0:
		s.Status = StatusPartial
	default:
		s.Status = StatusSuccess
	}
	return s
}

// OK reports whether the orchestrator should see a zero exit status.
func (s RunSummary) OK() bool { return s.Status == StatusSuccess }

func (s RunSummary) Print(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "MODULE\t%s\t\n", s.Module)
	fmt.Fprintf(w, "RUN\t%s\t\n", s.RunID)
	fmt.Fprintf(w, "STATUS\t%s\t\n", s.Status)
	if s.TrialMode {
		fmt.Fprintf(w, "TRIAL LIMIT\t%d\t\n", s.TrialLimit)
	}
	fmt.Fprintf(w, "APPLICATIONS\t%d\t\n", s.RecordsProcessed)
	fmt.Fprintf(w, "TOTAL ENTRIES\t%d\t\n", s.TotalEntries)
	fmt.Fprintf(w, "INSERTED\t%d\t\n", s.Inserted)
	fmt.Fprintf(w, "DUPLICATES\t%d\t\n", s.Duplicates)
	fmt.Fprintf(w, "ERRORS\t%d\t\n", s.Errors)
	fmt.Fprintf(w, "DB COUNT\t%d -> %d (%+d)\t\n", s.DBCountBefore, s.DBCountAfter, s.NetIncrease)
	fmt.Fprintf(w, "DURATION\t%s\t\n", s.Duration)
	if s.Failure != "" {
		fmt.Fprintf(w, "FAILURE\t%s\t\n", s.Failure)
	}
	w.Flush()

	if len(s.ErrorList) > 0 {
		fmt.Fprintf(out, "\nFirst %d record error(s):\n", len(s.ErrorList))
		for _, e := range s.ErrorList {
			fmt.Fprintf(out, "  %s: %s\n", e.Key, e.Err)
		}
	}
}

// Package metrics collects per-run Prometheus metrics. A run is a batch job,
// so nothing is served: the registry is written out as a node-exporter
// textfile once the run ends.
//
// Exported series, all labelled with the module:
//   - drugsync_records_total{outcome}: inserted, duplicate and error counts
//   - drugsync_http_attempts_total: upstream HTTP attempts, retries included
//   - drugsync_malformed_applications_total: applications skipped by the parser
//   - drugsync_stage_duration_seconds{stage}: wall time per pipeline stage
//   - drugsync_table_rows: persisted row count after the run
//   - drugsync_last_run_status: 1 for the status the run ended in
//   - drugsync_last_success_timestamp_seconds
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/predicateautomate/drugsync/pkg/loader"
	"github.com/predicateautomate/drugsync/pkg/report"
)

const namespace = "drugsync"

type Run struct {
	reg *prometheus.Registry

	Records       *prometheus.CounterVec
	HTTPAttempts  prometheus.Counter
	Malformed     prometheus.Counter
	StageDuration *prometheus.GaugeVec
	TableRows     prometheus.Gauge
	Status        *prometheus.GaugeVec
	LastSuccess   prometheus.Gauge
}

func New(module string) *Run {
	labels := prometheus.Labels{"module": module}
	r := &Run{
		reg: prometheus.NewRegistry(),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "records_total",
			Help:        "Flat records handled by the loader, by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		HTTPAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_attempts_total",
			Help:        "Upstream HTTP attempts including retries",
			ConstLabels: labels,
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "malformed_applications_total",
			Help:        "Applications skipped because they failed validation",
			ConstLabels: labels,
		}),
		StageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "stage_duration_seconds",
			Help:        "Wall time of each pipeline stage in the last run",
			ConstLabels: labels,
		}, []string{"stage"}),
		TableRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "table_rows",
			Help:        "Rows in the target table after the run",
			ConstLabels: labels,
		}),
		Status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_status",
			Help:        "1 for the status the last run ended in, 0 otherwise",
			ConstLabels: labels,
		}, []string{"status"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time the last successful run finished",
			ConstLabels: labels,
		}),
	}
	r.reg.MustRegister(r.Records, r.HTTPAttempts, r.Malformed, r.StageDuration, r.TableRows, r.Status, r.LastSuccess)
	// Materialise every outcome so a clean run still exports zeros.
	for _, o := range []string{"inserted", "duplicate", "error"} {
		r.Records.WithLabelValues(o)
	}
	return r
}

func (r *Run) Registry() *prometheus.Registry { return r.reg }

// ObserveStage records how long a stage took.
func (r *Run) ObserveStage(stage string, d time.Duration) {
	r.StageDuration.WithLabelValues(stage).Set(d.Seconds())
}

func (r *Run) ObserveLoad(l *loader.LoadReport) {
	if l == nil {
		return
	}
	r.Records.WithLabelValues("inserted").Add(float64(l.Inserted))
	r.Records.WithLabelValues("duplicate").Add(float64(l.Duplicates))
	r.Records.WithLabelValues("error").Add(float64(l.Errors))
}

func (r *Run) ObserveSummary(s report.RunSummary) {
	r.TableRows.Set(float64(s.DBCountAfter))
	for _, st := range []report.Status{report.StatusSuccess, report.StatusPartial, report.StatusFailed} {
		v := 0.0
		if s.Status == st {
			v = 1
		}
		r.Status.WithLabelValues(string(st)).Set(v)
	}
	if s.Status == report.StatusSuccess {
		r.LastSuccess.Set(float64(s.FinishedAt.Unix()))
	}
}

// WriteTextfile writes the registry atomically in the text exposition format.
func (r *Run) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

// Package pipeline runs one regulatory module end to end: fetch, parse,
// flatten, summarize, load and report, strictly one stage after another.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/predicateautomate/drugsync/pkg/artifacts"
	"github.com/predicateautomate/drugsync/pkg/drugsfda"
	"github.com/predicateautomate/drugsync/pkg/flatten"
	"github.com/predicateautomate/drugsync/pkg/loader"
	"github.com/predicateautomate/drugsync/pkg/metrics"
	"github.com/predicateautomate/drugsync/pkg/report"
	"github.com/predicateautomate/drugsync/pkg/sources"
	"github.com/predicateautomate/drugsync/pkg/stats"
	"github.com/predicateautomate/drugsync/pkg/storage"
)

const TracerName = "drugsync/pipeline"

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Config holds everything Run needs for a single module.
type Config struct {
	Source     sources.Source
	Store      storage.Store
	Country    int
	TrialLimit int // 0 = full dataset
	BatchSize  int
	RunID      string

	Artifacts *artifacts.Writer // optional
	Metrics   *metrics.Run      // optional
	Log       Logger            // optional; nil = no logging
}

type runner struct {
	cfg    Config
	log    Logger
	tracer trace.Tracer
}

// Run executes the module once. The summary is always returned; err is the
// terminal error that made its status failed, if any.
func Run(ctx context.Context, cfg Config) (report.RunSummary, error) {
	r := &runner{cfg: cfg, log: cfg.Log, tracer: otel.Tracer(TracerName)}
	if r.log == nil {
		r.log = nopLogger{}
	}
	module := cfg.Source.Name()
	if cfg.Artifacts != nil && cfg.Artifacts.Module == "" {
		cfg.Artifacts.Module = module
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("drugsync.module", module),
		attribute.Int("drugsync.trial_limit", cfg.TrialLimit),
	))
	defer span.End()

	in := report.Input{
		RunID:      cfg.RunID,
		Module:     module,
		TrialLimit: cfg.TrialLimit,
		StartedAt:  time.Now().UTC(),
	}
	in.Err = r.execute(ctx, &in)

	if in.Load != nil || in.Err == nil {
		r.countAfter(ctx, &in)
	} else {
		in.CountAfter = in.CountBefore
	}
	in.FinishedAt = time.Now().UTC()

	var summary report.RunSummary
	_ = r.stage(ctx, "report", func(context.Context) error {
		summary = report.Build(in)
		return nil
	})
	cfg.Artifacts.JSON(artifacts.KindSummary, summary)
	if m := cfg.Metrics; m != nil {
		m.ObserveSummary(summary)
		if cfg.Artifacts != nil && cfg.Artifacts.Dir != "" {
			path := filepath.Join(cfg.Artifacts.Dir, module+".prom")
			if err := m.WriteTextfile(path); err != nil {
				r.log.Warnf("Could not write metrics file %s: %v", path, err)
			}
		}
	}

	span.SetAttributes(
		attribute.String("drugsync.status", string(summary.Status)),
		attribute.Int("drugsync.inserted", summary.Inserted),
		attribute.Int("drugsync.errors", summary.Errors),
	)
	if in.Err != nil {
		span.RecordError(in.Err)
		span.SetStatus(codes.Error, "run failed")
		r.log.Errorf("[%s] Run failed: %v", module, in.Err)
	} else {
		r.log.Infof("[%s] Run finished: %s, %d inserted, %d duplicates, %d errors in %s",
			module, summary.Status, summary.Inserted, summary.Duplicates, summary.Errors, summary.Duration)
	}
	return summary, in.Err
}

func (r *runner) execute(ctx context.Context, in *report.Input) error {
	cfg := r.cfg
	module := in.Module

	before, err := cfg.Store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count existing rows: %w", err)
	}
	in.CountBefore = before
	r.log.Infof("[%s] %d rows stored before this run", module, before)

	var raw *sources.RawDocument
	if err := r.stage(ctx, "fetch", func(ctx context.Context) error {
		raw, err = cfg.Source.Fetch(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	r.log.Infof("[%s] Fetched %d bytes from %d location(s)", module, len(raw.Body), len(raw.Origins))
	cfg.Artifacts.Raw(raw.Body)

	var doc *drugsfda.Document
	if err := r.stage(ctx, "parse", func(context.Context) error {
		doc, err = drugsfda.Parse(raw.Body, r.log)
		return err
	}); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if cfg.Metrics != nil {
		cfg.Metrics.Malformed.Add(float64(len(doc.Malformed)))
	}
	apps := doc.Applications
	r.log.Infof("[%s] Parsed %d applications (%d skipped as malformed, upstream total %d)",
		module, len(apps), len(doc.Malformed), doc.Total)

	if cfg.TrialLimit > 0 && len(apps) > cfg.TrialLimit {
		r.log.Infof("[%s] Trial mode: limiting to the first %d of %d applications", module, cfg.TrialLimit, len(apps))
		apps = apps[:cfg.TrialLimit]
	}
	in.Applications = len(apps)
	cfg.Artifacts.JSON(artifacts.KindEntries, drugsfda.Analyze(apps))

	var records []storage.FlatRecord
	_ = r.stage(ctx, "flatten", func(context.Context) error {
		records = flatten.Flatten(apps, flatten.Options{Country: cfg.Country, Log: r.log})
		return nil
	})
	in.Entries = len(records)
	r.log.Infof("[%s] Flattened into %d records", module, len(records))
	cfg.Artifacts.JSON(artifacts.KindProcessed, records)

	var st stats.RunStatistics
	_ = r.stage(ctx, "stats", func(context.Context) error {
		st = stats.Summarize(records)
		return nil
	})
	in.Statistics = &st
	cfg.Artifacts.JSON(artifacts.KindStats, st)

	l := &loader.Loader{Store: cfg.Store, BatchSize: cfg.BatchSize, Log: r.log}
	err = r.stage(ctx, "load", func(ctx context.Context) error {
		var lerr error
		in.Load, lerr = l.Load(ctx, records)
		return lerr
	})
	if cfg.Metrics != nil {
		cfg.Metrics.ObserveLoad(in.Load)
	}
	return err
}

func (r *runner) countAfter(ctx context.Context, in *report.Input) {
	after, err := r.cfg.Store.Count(ctx)
	if err == nil {
		in.CountAfter = after
		return
	}
	in.CountAfter = in.CountBefore
	if in.Load != nil {
		in.CountAfter += int64(in.Load.Inserted)
	}
	r.log.Warnf("[%s] Could not count rows after load, estimating %d: %v", in.Module, in.CountAfter, err)
}

// stage runs fn inside its own span and records its duration.
func (r *runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveStage(name, d)
	}
	r.log.Debugf("Stage %s took %s", name, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

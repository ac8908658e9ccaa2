// Package loader inserts flat records that are not yet persisted, counting
// inserts, duplicates and per-record failures.
package loader

import (
	"context"
	"fmt"

	"github.com/predicateautomate/drugsync/pkg/storage"
)

const DefaultBatchSize = 1000

// Logger abstracts logging so callers can use logrus or anything with the
// same printf-style methods.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// RecordError is one record that could not be persisted.
type RecordError struct {
	Key string `json:"key"`
	Err string `json:"error"`
}

// LoadReport holds the counters of one Load call. Processed always equals
// Inserted + Duplicates + Errors.
type LoadReport struct {
	Processed  int           `json:"processed"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates_skipped"`
	Errors     int           `json:"errors"`
	ErrorList  []RecordError `json:"error_list,omitempty"`
	Batches    int           `json:"batches"`
	Aborted    bool          `json:"aborted"`
}

func (r *LoadReport) fail(key storage.IdentityKey, err error) {
	r.Errors++
	r.ErrorList = append(r.ErrorList, RecordError{Key: key.String(), Err: err.Error()})
}

type Loader struct {
	Store storage.Store
	// BatchSize bounds transaction size only; it has no effect on which
	// records are treated as duplicates.
	BatchSize int
	Log       Logger
	// OnBatch, when set, is called after every committed batch.
	OnBatch func(report LoadReport)
}

// Load persists every record whose identity key is neither already stored nor
// seen earlier in records. Per-record failures are counted and skipped. A
// terminal store error stops the load and is returned together with the
// partial report; batches committed before it stay committed.
func (l *Loader) Load(ctx context.Context, records []storage.FlatRecord) (*LoadReport, error) {
	log := l.Log
	if log == nil {
		log = nopLogger{}
	}
	size := l.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	report := &LoadReport{}
	// Keys claimed earlier in this run, whether inserted or already stored.
	seen := make(map[storage.IdentityKey]struct{}, len(records))

	for start := 0; start < len(records); start += size {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			return report, fmt.Errorf("load interrupted after %d of %d records: %w", report.Processed, len(records), err)
		}
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		if err := l.loadBatch(ctx, records[start:end], seen, report, log); err != nil {
			report.Aborted = true
			return report, fmt.Errorf("load aborted after %d of %d records: %w", report.Processed, len(records), err)
		}
		report.Batches++
		log.Infof("Progress: %d/%d records | inserted %d | duplicates %d | errors %d",
			report.Processed, len(records), report.Inserted, report.Duplicates, report.Errors)
		if l.OnBatch != nil {
			l.OnBatch(*report)
		}
	}
	return report, nil
}

func (l *Loader) loadBatch(ctx context.Context, batch []storage.FlatRecord, seen map[storage.IdentityKey]struct{}, report *LoadReport, log Logger) error {
	// Phase one: settle collisions with earlier records of this run without
	// touching the store.
	candidates := make([]int, 0, len(batch))
	keys := make([]storage.IdentityKey, len(batch))
	for i := range batch {
		keys[i] = batch[i].Key()
		if _, dup := seen[keys[i]]; dup {
			report.Processed++
			report.Duplicates++
			log.Debugf("Duplicate within run: %s", keys[i])
			continue
		}
		seen[keys[i]] = struct{}{}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return nil
	}

	// Phase two: one existence probe per remaining key, insert when absent.
	b, err := l.Store.BeginBatch(ctx)
	if err != nil {
		for _, i := range candidates {
			delete(seen, keys[i])
		}
		return err
	}

	var pending []storage.IdentityKey
	abort := func(cause error, rest []int) error {
		_ = b.Rollback()
		for _, k := range pending {
			delete(seen, k)
			report.Processed++
			report.fail(k, fmt.Errorf("rolled back: %w", cause))
		}
		for _, i := range rest {
			delete(seen, keys[i])
		}
		return cause
	}

	for n, i := range candidates {
		key := keys[i]

		exists, err := b.Exists(ctx, key)
		if err == nil && !exists {
			err = b.Insert(ctx, batch[i])
		}
		switch {
		case err != nil && storage.IsTerminal(err):
			report.Processed++
			report.fail(key, err)
			delete(seen, key)
			log.Errorf("Failed to persist %s: %v", key, err)
			return abort(err, candidates[n+1:])
		case err != nil:
			report.Processed++
			report.fail(key, err)
			delete(seen, key)
			log.Errorf("Failed to persist %s: %v", key, err)
		case exists:
			report.Processed++
			report.Duplicates++
			log.Debugf("Already stored: %s", key)
		default:
			pending = append(pending, key)
		}
	}

	if err := b.Commit(); err != nil {
		log.Errorf("Commit of %d inserts failed: %v", len(pending), err)
		return abort(err, nil)
	}
	report.Processed += len(pending)
	report.Inserted += len(pending)
	return nil
}

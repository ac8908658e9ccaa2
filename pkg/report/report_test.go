package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predicateautomate/drugsync/pkg/loader"
	"github.com/predicateautomate/drugsync/pkg/stats"
)

func TestBuildSuccess(t *testing.T) {
	start := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	st := stats.RunStatistics{TotalRecords: 12}
	s := Build(Input{
		Module:       "usa_drug",
		Applications: 5,
		Entries:      12,
		Statistics:   &st,
		Load:         &loader.LoadReport{Processed: 12, Inserted: 10, Duplicates: 2},
		CountBefore:  100,
		CountAfter:   110,
		StartedAt:    start,
		FinishedAt:   start.Add(90 * time.Second),
	})

	assert.Equal(t, StatusSuccess, s.Status)
	assert.True(t, s.OK())
	assert.False(t, s.TrialMode)
	assert.EqualValues(t, 10, s.NetIncrease)
	assert.Equal(t, "1m30s", s.Duration)
	assert.Equal(t, 90.0, s.DurationSeconds)
	assert.Equal(t, 5, s.RecordsProcessed)
	assert.Equal(t, 12, s.TotalEntries)
	assert.Equal(t, 12, s.Statistics.TotalRecords)
	_, err := uuid.Parse(s.RunID)
	assert.NoError(t, err)
}

func TestBuildWithoutInputsIsAllZero(t *testing.T) {
	s := Build(Input{})
	assert.Equal(t, StatusSuccess, s.Status)
	assert.Zero(t, s.RecordsProcessed)
	assert.Zero(t, s.NetIncrease)
	assert.Equal(t, "0s", s.Duration)
	assert.NotNil(t, s.ErrorList)
}

func TestBuildPartialCapsErrorList(t *testing.T) {
	l := &loader.LoadReport{Processed: 300, Inserted: 50, Errors: 250}
	for i := 0; i < 250; i++ {
		l.ErrorList = append(l.ErrorList, loader.RecordError{Key: fmt.Sprintf("k%d", i), Err: "boom"})
	}
	s := Build(Input{Module: "usa_drug", Load: l, TrialLimit: 5})

	assert.Equal(t, StatusPartial, s.Status)
	assert.False(t, s.OK())
	assert.True(t, s.TrialMode)
	assert.Equal(t, 250, s.Errors)
	assert.Len(t, s.ErrorList, MaxListedErrors)
	assert.Len(t, l.ErrorList, 250, "input must not be truncated")
}

func TestBuildFailed(t *testing.T) {
	s := Build(Input{RunID: "fixed", Err: errors.New("connection refused"), Load: &loader.LoadReport{Processed: 4, Inserted: 4}})
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "fixed", s.RunID)
	assert.Equal(t, "connection refused", s.Failure)
	assert.Equal(t, 4, s.Inserted)
}

func TestSummaryJSONKeys(t *testing.T) {
	raw, err := json.Marshal(Build(Input{Module: "usa_drug"}))
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, k := range []string{"records_processed", "total_entries", "inserted", "duplicates_skipped", "errors", "db_count_before", "db_count_after", "duration", "status", "error_list"} {
		assert.Contains(t, m, k)
	}
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Build(Input{
		Module: "usa_drug",
		Load: &loader.LoadReport{Processed: 2, Inserted: 1, Errors: 1,
			ErrorList: []loader.RecordError{{Key: "NDA1|P|ORIG|1|<null>", Err: "too long"}}},
	}).Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "NDA1|P|ORIG|1|<null>: too long")
}

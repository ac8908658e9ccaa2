package sources

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/predicateautomate/drugsync/pkg/drugsfda"
)

func zipOf(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractJSONFromZip(t *testing.T) {
	body := zipOf(t, map[string]string{
		"README.txt":                          "not json",
		"drug-drugsfda-0001-of-0001.json":     `{"results":[]}`,
		"drug-drugsfda-0001-of-0001.json.bak": "{}",
	}, "README.txt", "drug-drugsfda-0001-of-0001.json", "drug-drugsfda-0001-of-0001.json.bak")

	require.True(t, IsZip(body))
	data, err := ExtractJSON(body)
	require.NoError(t, err)
	assert.Equal(t, `{"results":[]}`, string(data))
}

func TestExtractJSONPassesPlainBodies(t *testing.T) {
	data, err := ExtractJSON([]byte(`{"results":[]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"results":[]}`, string(data))
}

func TestExtractJSONWithoutJSONMember(t *testing.T) {
	body := zipOf(t, map[string]string{"notes.txt": "x"}, "notes.txt")
	_, err := ExtractJSON(body)
	assert.True(t, errors.Is(err, drugsfda.ErrMalformedDocument))
}

func TestMergeResults(t *testing.T) {
	a := []byte(`{"meta":{"last_updated":"2025-01-02","results":{"total":2}},"results":[{"application_number":"NDA1"},{"application_number":"NDA2"}]}`)
	b := []byte(`[{"application_number":"ANDA3"}]`)

	merged, err := MergeResults(a, b)
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(merged))
	assert.EqualValues(t, 3, gjson.GetBytes(merged, "meta.results.total").Int())
	assert.Equal(t, "2025-01-02", gjson.GetBytes(merged, "meta.last_updated").String())
	assert.Equal(t, `["NDA1","NDA2","ANDA3"]`, gjson.GetBytes(merged, "results.#.application_number").Raw)

	doc, err := drugsfda.Parse(merged, nil)
	require.NoError(t, err)
	assert.Len(t, doc.Applications, 3)
}

func TestMergeResultsSinglePartIsUntouched(t *testing.T) {
	in := []byte(`{"meta":{"results":{"total":9}},"results":[]}`)
	out, err := MergeResults(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMergeResultsRejectsGarbage(t *testing.T) {
	_, err := MergeResults([]byte(`{"results":[]}`), []byte(`<html>`))
	assert.True(t, errors.Is(err, drugsfda.ErrMalformedDocument))

	_, err = MergeResults([]byte(`{"results":[]}`), []byte(`{"error":{}}`))
	assert.True(t, errors.Is(err, drugsfda.ErrMalformedDocument))
}

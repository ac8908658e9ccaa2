package drugsfda

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `{
  "meta": {"last_updated": "2025-06-10", "results": {"skip": 0, "limit": 1, "total": 2}},
  "results": [
    {
      "application_number": "ANDA000001",
      "sponsor_name": "ACME LABS",
      "openfda": {"generic_name": ["DRUGA GENERIC"], "manufacturer_name": ["Acme Pharma Inc."]},
      "submissions": [
        {"submission_type": "ORIG", "submission_number": "1", "submission_status": "AP", "submission_status_date": "20200101"}
      ],
      "products": [
        {"product_number": "001", "brand_name": "DrugA", "dosage_form": "TABLET", "route": "ORAL",
         "marketing_status": "Prescription", "reference_drug": "No",
         "active_ingredients": [{"name": "X", "strength": "50MG"}]}
      ]
    },
    {
      "application_number": "NDA000002",
      "sponsor_name": "OTHER",
      "openfda": {"generic_name": "SINGLE STRING"},
      "submissions": [],
      "products": []
    }
  ]
}`

func TestParseEnvelope(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, doc.Total)
	assert.Equal(t, "2025-06-10", doc.LastUpdated)
	require.Len(t, doc.Applications, 2)
	assert.Empty(t, doc.Malformed)

	app := doc.Applications[0]
	assert.Equal(t, "ANDA000001", app.ApplicationNumber)
	assert.Equal(t, "DRUGA GENERIC", app.OpenFDA.GenericName.First())
	assert.Equal(t, "Acme Pharma Inc.", app.OpenFDA.ManufacturerName.First())
	require.Len(t, app.Submissions, 1)
	require.Len(t, app.Products, 1)
	assert.Equal(t, "ORIG", app.Submissions[0].Type)
	assert.Equal(t, "20200101", app.Submissions[0].StatusDate)
	assert.Equal(t, []ActiveIngredient{{Name: "X", Strength: "50MG"}}, app.Products[0].ActiveIngredients)
	assert.Contains(t, string(app.Products[0].Raw), `"brand_name": "DrugA"`)
	assert.Contains(t, string(app.Submissions[0].Raw), `"submission_number": "1"`)
	assert.Contains(t, string(app.RawOpenFDA), "DRUGA GENERIC")

	assert.Equal(t, "SINGLE STRING", doc.Applications[1].OpenFDA.GenericName.First())
	assert.Equal(t, "", doc.Applications[1].OpenFDA.ManufacturerName.First())
}

func TestParseBareArray(t *testing.T) {
	doc, err := Parse([]byte(`[{"application_number":"BLA1"}]`), nil)
	require.NoError(t, err)
	require.Len(t, doc.Applications, 1)
	assert.Equal(t, 1, doc.Total)
	assert.Nil(t, doc.Applications[0].Submissions)
}

func TestParseRejectsNonEnvelope(t *testing.T) {
	for _, body := range []string{`not json`, `{"meta":{}}`, `{"results":{}}`, ``} {
		_, err := Parse([]byte(body), nil)
		require.Error(t, err, "body %q", body)
		assert.True(t, errors.Is(err, ErrMalformedDocument), "body %q: %v", body, err)
	}
}

func TestParseSkipsMalformedApplications(t *testing.T) {
	logger, hook := test.NewNullLogger()

	body := `{"results":[
	  {"application_number":"NDA1","submissions":[],"products":[]},
	  {"sponsor_name":"NO ID"},
	  {"application_number":"   "},
	  {"application_number":"NDA4","products":[{"brand_name": 7}]},
	  {"application_number":"NDA5"}
	]}`
	doc, err := Parse([]byte(body), logger)
	require.NoError(t, err)

	var ids []string
	for _, app := range doc.Applications {
		ids = append(ids, app.ApplicationNumber)
	}
	assert.Equal(t, []string{"NDA1", "NDA5"}, ids)

	require.Len(t, doc.Malformed, 3)
	assert.Equal(t, 1, doc.Malformed[0].Index)
	assert.Equal(t, "", doc.Malformed[0].ApplicationNumber)
	assert.Equal(t, 3, doc.Malformed[2].Index)
	assert.Equal(t, "NDA4", doc.Malformed[2].ApplicationNumber)
	assert.Contains(t, doc.Malformed[0].Error(), "<missing application_number>")

	require.Len(t, hook.AllEntries(), 3)
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, logrus.WarnLevel, entry.Level)
	}
}

func TestParseIsolatesOneBadApplicationAmongMany(t *testing.T) {
	var parts []string
	for i := 0; i < 100; i++ {
		parts = append(parts, fmt.Sprintf(`{"application_number":"NDA%06d"}`, i))
	}
	parts = append(parts[:50], append([]string{`{"sponsor_name":"MISSING"}`}, parts[50:]...)...)
	body := `{"results":[` + strings.Join(parts, ",") + `]}`

	logger, hook := test.NewNullLogger()
	doc, err := Parse([]byte(body), logger)
	require.NoError(t, err)
	assert.Len(t, doc.Applications, 100)
	assert.Len(t, doc.Malformed, 1)
	assert.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, 101, doc.Total)
}

func TestAnalyze(t *testing.T) {
	apps := []RawApplication{
		{ApplicationNumber: "A", Submissions: make([]Submission, 2), Products: make([]Product, 3)},
		{ApplicationNumber: "B", Submissions: make([]Submission, 1), Products: make([]Product, 1)},
		{ApplicationNumber: "C", Submissions: make([]Submission, 4)},
		{ApplicationNumber: "D", Products: make([]Product, 2)},
		{ApplicationNumber: "E", Submissions: make([]Submission, 1), Products: make([]Product, 1)},
	}
	a := Analyze(apps)

	assert.Equal(t, 5, a.Applications)
	assert.Equal(t, 8, a.Submissions)
	assert.Equal(t, 7, a.Products)
	assert.Equal(t, 8, a.Entries)
	assert.Equal(t, 1, a.NoProducts)
	assert.Equal(t, 1, a.NoSubmissions)
	assert.InDelta(t, 1.6, a.Averages.Entries, 0.001)
	require.NotNil(t, a.Max)
	assert.Equal(t, "A", a.Max.ApplicationNumber)
	assert.Equal(t, 6, a.Max.Entries)
	assert.Equal(t, map[int]int{6: 1, 1: 2, 0: 2}, a.Distribution)

	top := a.TopDistribution(2)
	assert.Equal(t, []DistributionBucket{
		{EntriesPerApplication: 0, Applications: 2},
		{EntriesPerApplication: 1, Applications: 2},
	}, top)
}

func TestAnalyzeEmpty(t *testing.T) {
	a := Analyze(nil)
	assert.Zero(t, a.Entries)
	assert.Nil(t, a.Max)
	assert.Empty(t, a.TopDistribution(10))
}

package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/predicateautomate/drugsync/pkg/storage"
)

func TestSummarize(t *testing.T) {
	d := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []storage.FlatRecord{
		{RegistrationNumber: "A", RegistrationHolder: "S1", Manufacturer: "M1", GenericName: "G1", DosageForm: "TABLET", SubmissionType: "ORIG", Strength: "X-1MG", ApprovalDate: &d, Route: "ORAL", MarketingStatus: "Prescription"},
		{RegistrationNumber: "A", RegistrationHolder: "S1", Manufacturer: "M1", GenericName: "G1", DosageForm: "TABLET", SubmissionType: "SUPPL", Route: "ORAL"},
		{RegistrationNumber: "B", RegistrationHolder: "S2", GenericName: "G2", DosageForm: "INJECTION", SubmissionType: "ORIG", Strength: "Y-2MG", ApprovalDate: &d, MarketingStatus: "Discontinued"},
	}
	before := fmt.Sprintf("%+v", records)

	s := Summarize(records)

	assert.Equal(t, 3, s.TotalRecords)
	assert.Equal(t, 2, s.Applications)
	assert.Equal(t, 1, s.UniqueManufacturers)
	assert.Equal(t, 2, s.UniqueGenericNames)
	assert.Equal(t, 2, s.UniqueDosageForms)
	assert.Equal(t, 2, s.UniqueSponsors)
	assert.Equal(t, 2, s.UniqueSubmissionTypes)
	assert.Equal(t, 1, s.UniqueRoutes)
	assert.Equal(t, 2, s.UniqueMarketingStatuses)
	assert.Equal(t, 1, s.NullStrength)
	assert.Equal(t, 1, s.NoApprovalDate)
	assert.Equal(t, map[string]int{"TABLET": 2, "INJECTION": 1}, s.DosageForms)
	assert.Equal(t, map[string]int{"ORIG": 2, "SUPPL": 1}, s.SubmissionTypes)
	assert.Equal(t, []string{"S1", "S2"}, s.SponsorSample)

	assert.Equal(t, before, fmt.Sprintf("%+v", records), "input must not be mutated")
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.TotalRecords)
	assert.Empty(t, s.SponsorSample)
	assert.NotNil(t, s.DosageForms)
}

func TestSponsorSampleIsCapped(t *testing.T) {
	var records []storage.FlatRecord
	for i := 0; i < 30; i++ {
		records = append(records, storage.FlatRecord{RegistrationHolder: fmt.Sprintf("SPONSOR %02d", 29-i)})
	}
	s := Summarize(records)
	assert.Equal(t, 30, s.UniqueSponsors)
	assert.Len(t, s.SponsorSample, 20)
	assert.Equal(t, "SPONSOR 00", s.SponsorSample[0])
	assert.Equal(t, "SPONSOR 19", s.SponsorSample[19])
}

// Package stats derives per-run counts from flattened records.
package stats

import (
	"sort"

	"github.com/predicateautomate/drugsync/pkg/storage"
)

const sponsorSampleSize = 20

// RunStatistics is computed once per run and only ever written to reports.
type RunStatistics struct {
	TotalRecords int `json:"total_records"`
	Applications int `json:"unique_applications"`

	UniqueManufacturers     int `json:"unique_manufacturers"`
	UniqueGenericNames      int `json:"unique_generic_names"`
	UniqueDosageForms       int `json:"unique_dosage_forms"`
	UniqueSponsors          int `json:"unique_sponsors"`
	UniqueSubmissionTypes   int `json:"unique_submission_types"`
	UniqueRoutes            int `json:"unique_routes"`
	UniqueMarketingStatuses int `json:"unique_marketing_statuses"`

	// NullStrength counts records whose strength will be stored as NULL.
	NullStrength   int `json:"null_strength_records"`
	NoApprovalDate int `json:"records_without_approval_date"`

	DosageForms     map[string]int `json:"dosage_form_distribution"`
	SubmissionTypes map[string]int `json:"submission_type_distribution"`
	SponsorSample   []string       `json:"sponsor_list"`
}

// Summarize makes a single pass over records without modifying them.
func Summarize(records []storage.FlatRecord) RunStatistics {
	s := RunStatistics{
		TotalRecords:    len(records),
		DosageForms:     make(map[string]int),
		SubmissionTypes: make(map[string]int),
	}

	var (
		apps          = map[string]struct{}{}
		manufacturers = map[string]struct{}{}
		generics      = map[string]struct{}{}
		sponsors      = map[string]struct{}{}
		routes        = map[string]struct{}{}
		statuses      = map[string]struct{}{}
	)
	add := func(set map[string]struct{}, v string) {
		if v != "" {
			set[v] = struct{}{}
		}
	}

	for i := range records {
		r := &records[i]
		add(apps, r.RegistrationNumber)
		add(manufacturers, r.Manufacturer)
		add(generics, r.GenericName)
		add(sponsors, r.RegistrationHolder)
		add(routes, r.Route)
		add(statuses, r.MarketingStatus)
		if r.DosageForm != "" {
			s.DosageForms[r.DosageForm]++
		}
		if r.SubmissionType != "" {
			s.SubmissionTypes[r.SubmissionType]++
		}
		if r.Strength == "" {
			s.NullStrength++
		}
		if r.ApprovalDate == nil {
			s.NoApprovalDate++
		}
	}

	s.Applications = len(apps)
	s.UniqueManufacturers = len(manufacturers)
	s.UniqueGenericNames = len(generics)
	s.UniqueDosageForms = len(s.DosageForms)
	s.UniqueSponsors = len(sponsors)
	s.UniqueSubmissionTypes = len(s.SubmissionTypes)
	s.UniqueRoutes = len(routes)
	s.UniqueMarketingStatuses = len(statuses)

	s.SponsorSample = make([]string, 0, len(sponsors))
	for name := range sponsors {
		s.SponsorSample = append(s.SponsorSample, name)
	}
	sort.Strings(s.SponsorSample)
	if len(s.SponsorSample) > sponsorSampleSize {
		s.SponsorSample = s.SponsorSample[:sponsorSampleSize]
	}
	return s
}

package drugsfda

import "sort"

// EntryAnalysis predicts how many flat rows a document expands into before
// anything is loaded.
type EntryAnalysis struct {
	Applications int `json:"total_fda_records"`
	Submissions  int `json:"total_submissions"`
	Products     int `json:"total_products"`
	Entries      int `json:"total_database_entries"`

	Averages struct {
		Submissions float64 `json:"submissions_per_record"`
		Products    float64 `json:"products_per_record"`
		Entries     float64 `json:"entries_per_record"`
	} `json:"averages"`

	NoProducts    int `json:"records_with_no_products"`
	NoSubmissions int `json:"records_with_no_submissions"`

	Max *MaxEntries `json:"max_entries_record,omitempty"`

	// Distribution maps entries-per-application to the number of applications
	// with that count.
	Distribution map[int]int `json:"distribution"`
}

type MaxEntries struct {
	ApplicationNumber string `json:"application_number"`
	Submissions       int    `json:"submissions"`
	Products          int    `json:"products"`
	Entries           int    `json:"entries"`
}

type DistributionBucket struct {
	EntriesPerApplication int
	Applications          int
}

func Analyze(apps []RawApplication) EntryAnalysis {
	a := EntryAnalysis{
		Applications: len(apps),
		Distribution: make(map[int]int),
	}
	for _, app := range apps {
		s, p := len(app.Submissions), len(app.Products)
		entries := s * p

		a.Submissions += s
		a.Products += p
		a.Entries += entries
		if p == 0 {
			a.NoProducts++
		}
		if s == 0 {
			a.NoSubmissions++
		}
		a.Distribution[entries]++

		if entries > 0 && (a.Max == nil || entries > a.Max.Entries) {
			a.Max = &MaxEntries{
				ApplicationNumber: app.ApplicationNumber,
				Submissions:       s,
				Products:          p,
				Entries:           entries,
			}
		}
	}
	if n := float64(len(apps)); n > 0 {
		a.Averages.Submissions = round2(float64(a.Submissions) / n)
		a.Averages.Products = round2(float64(a.Products) / n)
		a.Averages.Entries = round2(float64(a.Entries) / n)
	}
	return a
}

// TopDistribution returns the n most common entries-per-application counts.
// Ties are broken by the smaller entry count.
func (a EntryAnalysis) TopDistribution(n int) []DistributionBucket {
	out := make([]DistributionBucket, 0, len(a.Distribution))
	for entries, apps := range a.Distribution {
		out = append(out, DistributionBucket{EntriesPerApplication: entries, Applications: apps})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Applications != out[j].Applications {
			return out[i].Applications > out[j].Applications
		}
		return out[i].EntriesPerApplication < out[j].EntriesPerApplication
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

// Package flatten expands applications into one FlatRecord per
// (submission, product) pair.
package flatten

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/predicateautomate/drugsync/pkg/drugsfda"
	"github.com/predicateautomate/drugsync/pkg/storage"
)

// Logger receives a warning for every application that has to be skipped.
type Logger interface {
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{}) {}

type Options struct {
	// Country is the country_of_origin id stamped on every record.
	Country int
	Log     Logger
}

// Flatten walks apps in order and, within each, submissions then products.
// An application with no submissions or no products contributes nothing.
// Applications without an identifier are skipped with a warning.
func Flatten(apps []drugsfda.RawApplication, opts Options) []storage.FlatRecord {
	log := opts.Log
	if log == nil {
		log = nopLogger{}
	}

	var out []storage.FlatRecord
	for i := range apps {
		app := &apps[i]
		if strings.TrimSpace(app.ApplicationNumber) == "" {
			log.Warnf("Skipping application at index %d: missing application_number", i)
			continue
		}
		if len(app.Submissions) == 0 || len(app.Products) == 0 {
			continue
		}
		for s := range app.Submissions {
			for p := range app.Products {
				out = append(out, buildRecord(app, &app.Submissions[s], &app.Products[p], opts.Country))
			}
		}
	}
	return out
}

func buildRecord(app *drugsfda.RawApplication, sub *drugsfda.Submission, prod *drugsfda.Product, country int) storage.FlatRecord {
	reference := prod.ReferenceDrug
	if reference == "" {
		reference = "No"
	}
	return storage.FlatRecord{
		CountryOfOrigin:    country,
		RegistrationNumber: strings.TrimSpace(app.ApplicationNumber),
		RegistrationHolder: app.SponsorName,
		GenericName:        app.OpenFDA.GenericName.First(),
		Manufacturer:       app.OpenFDA.ManufacturerName.First(),
		ProductNumber:      prod.Number,
		ProductName:        prod.BrandName,
		IngredientName:     IngredientNames(prod.ActiveIngredients),
		ReferenceDrug:      reference,
		DosageForm:         prod.DosageForm,
		Strength:           FormatStrength(prod.ActiveIngredients),
		Route:              prod.Route,
		MarketingStatus:    prod.MarketingStatus,
		ApprovalDate:       ParseApprovalDate(sub.StatusDate),
		ApplicationType:    sub.Type,
		SubmissionType:     sub.Type,
		SubmissionNumber:   sub.Number,
		SubmissionStatus:   sub.Status,
		SubmissionDate:     SubmissionDate(sub.StatusDate),
		JSONData:           traceFragment(app, sub, prod),
	}
}

// FormatStrength joins "name-strength" pairs with "; ". An ingredient without
// a strength contributes its name alone; one without a name is dropped.
func FormatStrength(ingredients []drugsfda.ActiveIngredient) string {
	parts := make([]string, 0, len(ingredients))
	for _, ing := range ingredients {
		switch {
		case ing.Name != "" && ing.Strength != "":
			parts = append(parts, ing.Name+"-"+ing.Strength)
		case ing.Name != "":
			parts = append(parts, ing.Name)
		}
	}
	return strings.Join(parts, "; ")
}

// IngredientNames is the comma-separated list of ingredient names.
func IngredientNames(ingredients []drugsfda.ActiveIngredient) string {
	names := make([]string, 0, len(ingredients))
	for _, ing := range ingredients {
		if ing.Name != "" {
			names = append(names, ing.Name)
		}
	}
	return strings.Join(names, ", ")
}

// ParseApprovalDate converts a YYYYMMDD status date. Anything else, including
// impossible calendar dates, yields nil.
func ParseApprovalDate(s string) *time.Time {
	if len(s) != 8 {
		return nil
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return nil
	}
	return &t
}

// SubmissionDate renders a YYYYMMDD status date as DD-MM-YYYY, or "".
func SubmissionDate(s string) string {
	t := ParseApprovalDate(s)
	if t == nil {
		return ""
	}
	return t.Format("02-01-2006")
}

type trace struct {
	ApplicationNumber string          `json:"application_number"`
	ProductNumber     string          `json:"product_number"`
	Submission        json.RawMessage `json:"submission"`
	Product           json.RawMessage `json:"product"`
	OpenFDA           json.RawMessage `json:"openfda"`
	SponsorName       string          `json:"sponsor_name"`
}

// traceFragment names the exact (application, submission, product) triple a
// record came from, keeping the nested objects as received.
func traceFragment(app *drugsfda.RawApplication, sub *drugsfda.Submission, prod *drugsfda.Product) json.RawMessage {
	t := trace{
		ApplicationNumber: strings.TrimSpace(app.ApplicationNumber),
		ProductNumber:     prod.Number,
		Submission:        rawOr(sub.Raw, sub),
		Product:           rawOr(prod.Raw, prod),
		OpenFDA:           app.RawOpenFDA,
		SponsorName:       app.SponsorName,
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	return b
}

func rawOr(raw json.RawMessage, v interface{}) json.RawMessage {
	if len(raw) > 0 {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

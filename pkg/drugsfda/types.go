// Package drugsfda holds the typed shape of the openFDA Drugs@FDA dataset and
// the validating parse that turns a downloaded document into it.
package drugsfda

import (
	"encoding/json"
)

// Document is one parsed Drugs@FDA results envelope.
type Document struct {
	// Total is meta.results.total when the upstream reported it, else the
	// number of results entries seen.
	Total        int
	LastUpdated  string
	Applications []RawApplication
	// Malformed lists the entries dropped during parsing, in document order.
	Malformed []*MalformedRecordError
}

// RawApplication is one registration filing. ApplicationNumber is never empty
// once parsing succeeds.
type RawApplication struct {
	ApplicationNumber string       `json:"application_number"`
	SponsorName       string       `json:"sponsor_name"`
	Submissions       []Submission `json:"submissions"`
	Products          []Product    `json:"products"`
	OpenFDA           OpenFDA      `json:"openfda"`

	// RawOpenFDA is the openfda object exactly as received, nil when absent.
	RawOpenFDA json.RawMessage `json:"-"`
}

type Submission struct {
	Type                 string `json:"submission_type"`
	Number               string `json:"submission_number"`
	Status               string `json:"submission_status"`
	StatusDate           string `json:"submission_status_date"`
	ReviewPriority       string `json:"review_priority"`
	ClassCode            string `json:"submission_class_code"`
	ClassCodeDescription string `json:"submission_class_code_description"`

	Raw json.RawMessage `json:"-"`
}

func (s *Submission) UnmarshalJSON(b []byte) error {
	type plain Submission
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = Submission(p)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type Product struct {
	Number            string             `json:"product_number"`
	BrandName         string             `json:"brand_name"`
	DosageForm        string             `json:"dosage_form"`
	Route             string             `json:"route"`
	MarketingStatus   string             `json:"marketing_status"`
	ReferenceDrug     string             `json:"reference_drug"`
	ReferenceStandard string             `json:"reference_standard"`
	TECode            string             `json:"te_code"`
	ActiveIngredients []ActiveIngredient `json:"active_ingredients"`

	Raw json.RawMessage `json:"-"`
}

func (p *Product) UnmarshalJSON(b []byte) error {
	type plain Product
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = Product(v)
	p.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type ActiveIngredient struct {
	Name     string `json:"name"`
	Strength string `json:"strength"`
}

// OpenFDA carries the harmonized alias arrays. Only the first element of each
// is ever used downstream.
type OpenFDA struct {
	GenericName      Aliases `json:"generic_name"`
	BrandName        Aliases `json:"brand_name"`
	ManufacturerName Aliases `json:"manufacturer_name"`
	SubstanceName    Aliases `json:"substance_name"`
	ProductType      Aliases `json:"product_type"`
	Route            Aliases `json:"route"`
}

// Aliases is an openfda name list. A bare string is accepted as a one-element
// list since older partitions are not consistent about it.
type Aliases []string

func (a *Aliases) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Aliases{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*a = list
	return nil
}

// First returns the first element, or "" when there is none.
func (a Aliases) First() string {
	if len(a) == 0 {
		return ""
	}
	return a[0]
}

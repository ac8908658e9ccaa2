package storage

import (
	"encoding/json"
	"time"
)

// FlatRecord is one (submission, product) pair of an application,
// denormalized into the row that gets persisted.
type FlatRecord struct {
	CountryOfOrigin int `json:"country_of_origin"`

	// Application context
	RegistrationNumber string `json:"registration_number"`
	RegistrationHolder string `json:"registration_holder"`
	GenericName        string `json:"generic_name"`
	Manufacturer       string `json:"manufacturer"`

	// Product context
	ProductNumber   string `json:"product_number"`
	ProductName     string `json:"product_name"`
	IngredientName  string `json:"ingredient_name"`
	ReferenceDrug   string `json:"reference_drug"`
	DosageForm      string `json:"dosage_form"`
	Strength        string `json:"strength"` // "" is persisted as NULL
	Route           string `json:"route_administration"`
	MarketingStatus string `json:"marketing_status"`

	// Submission context
	ApprovalDate     *time.Time `json:"approval_date"`
	ApplicationType  string     `json:"application_type"`
	SubmissionType   string     `json:"submission_type"`
	SubmissionNumber string     `json:"submission_number"`
	SubmissionStatus string     `json:"submission_status"`
	SubmissionDate   string     `json:"submission_date"` // DD-MM-YYYY, "" when unknown

	// JSONData is the traceability fragment naming the source triple.
	JSONData json.RawMessage `json:"json_data"`
}

// SubmissionTypeStats is one row of the per-submission-type breakdown.
type SubmissionTypeStats struct {
	SubmissionType string
	Rows           int
	Registrations  int
}

package storage

import (
	"database/sql"
	"strings"
)

// IdentityKey is the duplicate-detection tuple. It is comparable, so it can be
// used directly as a map key; a NULL strength equals another NULL strength.
type IdentityKey struct {
	RegistrationNumber string
	ProductName        string
	SubmissionType     string
	SubmissionNumber   string
	Strength           sql.NullString
}

// Key derives the identity of r.
func (r FlatRecord) Key() IdentityKey {
	return identityKey(r.RegistrationNumber, r.ProductName, r.SubmissionType, r.SubmissionNumber, r.Strength)
}

func identityKey(registration, product, subType, subNumber, strength string) IdentityKey {
	return IdentityKey{
		RegistrationNumber: registration,
		ProductName:        product,
		SubmissionType:     subType,
		SubmissionNumber:   subNumber,
		Strength:           sql.NullString{String: strength, Valid: strength != ""},
	}
}

// String renders the key for logs, e.g. "ANDA000001|DrugA|ORIG|1|X-50MG".
func (k IdentityKey) String() string {
	strength := "<null>"
	if k.Strength.Valid {
		strength = k.Strength.String
	}
	return strings.Join([]string{k.RegistrationNumber, k.ProductName, k.SubmissionType, k.SubmissionNumber, strength}, "|")
}

func (k IdentityKey) args() []interface{} {
	return []interface{}{k.RegistrationNumber, k.ProductName, k.SubmissionType, k.SubmissionNumber, nullString(k.Strength)}
}

func nullString(ns sql.NullString) interface{} {
	if !ns.Valid {
		return nil
	}
	return ns.String
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

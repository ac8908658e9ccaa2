package storage

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect selects SQL flavour and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	defaultSQLiteTable   = "drug_predicate_assessments"
	defaultPostgresTable = "drug.drug_predicate_assessments"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// DefaultTable returns the table used when none is configured.
func DefaultTable(d Dialect) string {
	if d == DialectPostgres {
		return defaultPostgresTable
	}
	return defaultSQLiteTable
}

func checkTable(table string) error {
	if !tableNameRe.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// bareName strips a schema qualifier for use in index and constraint names.
func bareName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

// Schema returns the DDL for table. The SQLite form is applied automatically by
// Open; the Postgres form is only printed since that schema is owned elsewhere.
func Schema(d Dialect, table string) string {
	if table == "" {
		table = DefaultTable(d)
	}
	name := bareName(table)

	if d == DialectPostgres {
		var b strings.Builder
		if i := strings.IndexByte(table, '.'); i > 0 {
			fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", table[:i])
		}
		fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %s (
  id                   BIGSERIAL PRIMARY KEY,
  country_of_origin    INTEGER,
  product_name         TEXT NOT NULL,
  ingredient_name      TEXT,
  registration_number  TEXT NOT NULL,
  registration_holder  TEXT,
  manufacturer         TEXT,
  generic_name         TEXT,
  reference_drug       TEXT,
  dosage_form          TEXT,
  strength             TEXT,
  route_administration TEXT,
  marketing_status     TEXT,
  approval_date        DATE,
  application_type     TEXT,
  submission_type      TEXT NOT NULL,
  submission_number    TEXT NOT NULL,
  submission_status    TEXT,
  submission_date      TEXT,
  product_number       TEXT,
  json_data            JSONB,
  created_at           TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
  CONSTRAINT %s_identity UNIQUE NULLS NOT DISTINCT
    (registration_number, product_name, submission_type, submission_number, strength)
);
CREATE INDEX IF NOT EXISTS idx_%s_registration ON %s(registration_number);
`, table, name, name, table)
		return b.String()
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id                   INTEGER PRIMARY KEY,
  country_of_origin    INTEGER,
  product_name         TEXT NOT NULL,
  ingredient_name      TEXT,
  registration_number  TEXT NOT NULL,
  registration_holder  TEXT,
  manufacturer         TEXT,
  generic_name         TEXT,
  reference_drug       TEXT,
  dosage_form          TEXT,
  strength             TEXT,
  route_administration TEXT,
  marketing_status     TEXT,
  approval_date        DATE,
  application_type     TEXT,
  submission_type      TEXT NOT NULL,
  submission_number    TEXT NOT NULL,
  submission_status    TEXT,
  submission_date      TEXT,
  product_number       TEXT,
  json_data            TEXT,
  created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_identity
  ON %s(registration_number, product_name, submission_type, submission_number, IFNULL(strength, ''));
CREATE INDEX IF NOT EXISTS idx_%s_registration ON %s(registration_number);
`, table, name, table, name, table)
}

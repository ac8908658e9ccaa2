package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store is what the loader needs from persistence.
type Store interface {
	Count(ctx context.Context) (int64, error)
	BeginBatch(ctx context.Context) (Batch, error)
}

// Batch groups the probes and inserts of one loader batch. Inserts become
// visible to other sessions only after Commit.
type Batch interface {
	Exists(ctx context.Context, key IdentityKey) (bool, error)
	Insert(ctx context.Context, r FlatRecord) error
	Commit() error
	Rollback() error
}

type DB struct {
	sql     *sql.DB
	dialect Dialect
	table   string

	existsSQL string
	insertSQL string
}

// Open connects to dsn. postgres:// and postgresql:// DSNs use pgx, anything
// else is a SQLite file path whose schema is created if missing. An empty
// table selects the dialect default.
func Open(dsn, table string) (*DB, error) {
	dialect := DialectSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialect = DialectPostgres
	}
	if table == "" {
		table = DefaultTable(dialect)
	}
	if err := checkTable(table); err != nil {
		return nil, err
	}

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = sql.Open("pgx", dsn)
	default:
		if strings.Contains(table, ".") {
			return nil, fmt.Errorf("sqlite table %q must not be schema-qualified", table)
		}
		db, err = sql.Open("sqlite", "file:"+dsn+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	}
	if err != nil {
		return nil, err
	}
	// One session for the whole run; the loader is the only writer.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if dialect == DialectSQLite {
		if _, err := db.Exec(Schema(dialect, table)); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return NewWithDB(db, dialect, table), nil
}

// NewWithDB wraps an existing handle without touching its schema.
func NewWithDB(db *sql.DB, dialect Dialect, table string) *DB {
	if table == "" {
		table = DefaultTable(dialect)
	}
	d := &DB{sql: db, dialect: dialect, table: table}

	// Only strength is nullable. Plain equality on the other four lets the
	// identity index prefix serve the lookup.
	d.existsSQL = d.rebind(fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE registration_number = ? AND product_name = ? AND submission_type = ? AND submission_number = ? AND strength IS NOT DISTINCT FROM ?)`, table))

	jsonParam := "?"
	if dialect == DialectPostgres {
		jsonParam = "CAST(? AS JSONB)"
	}
	d.insertSQL = d.rebind(fmt.Sprintf(`INSERT INTO %s(country_of_origin, product_name, ingredient_name, registration_number, registration_holder, manufacturer, generic_name, reference_drug, dosage_form, strength, route_administration, marketing_status, approval_date, application_type, submission_type, submission_number, submission_status, submission_date, product_number, json_data, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,%s,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)`, table, jsonParam))
	return d
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

func (d *DB) Dialect() Dialect { return d.dialect }
func (d *DB) Table() string    { return d.table }

// rebind turns ? placeholders into $n for Postgres.
func (d *DB) rebind(q string) string {
	if d.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Count returns the number of rows in the table.
func (d *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+d.table).Scan(&n); err != nil {
		return 0, &PersistenceError{Op: "count", Err: err, Terminal: IsTerminal(err)}
	}
	return n, nil
}

// GetStats returns rows and distinct registrations per submission type.
func (d *DB) GetStats(ctx context.Context) ([]SubmissionTypeStats, error) {
	query := `
		SELECT
			submission_type,
			COUNT(*),
			COUNT(DISTINCT registration_number)
		FROM
			` + d.table + `
		GROUP BY
			submission_type
		ORDER BY
			submission_type;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []SubmissionTypeStats
	for rows.Next() {
		var s SubmissionTypeStats
		if err := rows.Scan(&s.SubmissionType, &s.Rows, &s.Registrations); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// BeginBatch opens the transaction backing one loader batch.
func (d *DB) BeginBatch(ctx context.Context) (Batch, error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, &PersistenceError{Op: "begin", Err: err, Terminal: true}
	}
	return &dbBatch{db: d, tx: tx}, nil
}

type dbBatch struct {
	db *DB
	tx *sql.Tx
}

// guarded runs fn inside a savepoint on Postgres, where a failed statement
// would otherwise abort every later statement in the transaction.
func (b *dbBatch) guarded(ctx context.Context, fn func() error) error {
	if b.db.dialect != DialectPostgres {
		return fn()
	}
	if _, err := b.tx.ExecContext(ctx, "SAVEPOINT drugsync_record"); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rerr := b.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT drugsync_record"); rerr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rerr)
		}
		return err
	}
	_, err := b.tx.ExecContext(ctx, "RELEASE SAVEPOINT drugsync_record")
	return err
}

func (b *dbBatch) Exists(ctx context.Context, key IdentityKey) (bool, error) {
	var exists bool
	err := b.guarded(ctx, func() error {
		return b.tx.QueryRowContext(ctx, b.db.existsSQL, key.args()...).Scan(&exists)
	})
	if err != nil {
		return false, wrap("exists", key, err)
	}
	return exists, nil
}

func (b *dbBatch) Insert(ctx context.Context, r FlatRecord) error {
	var approval interface{}
	if r.ApprovalDate != nil {
		approval = r.ApprovalDate.Format("2006-01-02")
	}
	var jsonData interface{}
	if len(r.JSONData) > 0 {
		jsonData = string(r.JSONData)
	}
	args := []interface{}{
		r.CountryOfOrigin,
		r.ProductName,
		nullIfEmpty(r.IngredientName),
		r.RegistrationNumber,
		nullIfEmpty(r.RegistrationHolder),
		nullIfEmpty(r.Manufacturer),
		nullIfEmpty(r.GenericName),
		nullIfEmpty(r.ReferenceDrug),
		nullIfEmpty(r.DosageForm),
		nullIfEmpty(r.Strength),
		nullIfEmpty(r.Route),
		nullIfEmpty(r.MarketingStatus),
		approval,
		nullIfEmpty(r.ApplicationType),
		r.SubmissionType,
		r.SubmissionNumber,
		nullIfEmpty(r.SubmissionStatus),
		nullIfEmpty(r.SubmissionDate),
		nullIfEmpty(r.ProductNumber),
		jsonData,
	}
	err := b.guarded(ctx, func() error {
		_, err := b.tx.ExecContext(ctx, b.db.insertSQL, args...)
		return err
	})
	return wrap("insert", r.Key(), err)
}

func (b *dbBatch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit", Err: err, Terminal: true}
	}
	return nil
}

func (b *dbBatch) Rollback() error {
	if err := b.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

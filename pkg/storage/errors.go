package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicateKey is returned by the in-memory store when an insert would
// violate the identity constraint.
var ErrDuplicateKey = errors.New("identity key already present")

// PersistenceError wraps a failed store operation. Terminal errors mean the
// connection is gone and the remaining load must stop; everything else is
// confined to the one record named by Key.
type PersistenceError struct {
	Op       string
	Key      string
	Err      error
	Terminal bool
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func wrap(op string, key IdentityKey, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Key: key.String(), Err: err, Terminal: IsTerminal(err)}
}

// IsTerminal reports whether err means the store connection is unusable.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var pe *PersistenceError
	if errors.As(err, &pe) && pe.Terminal {
		return true
	}
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, sql.ErrTxDone),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, 57P01..03 are admin/crash shutdown.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUniqueViolation reports whether err came from the identity constraint.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, ErrDuplicateKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}

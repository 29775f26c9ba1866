package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"campus-inventory-api/internal/inverrors"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("row not found")
	// ErrUniqueViolation marks an insert rejected by a unique index. It is a
	// transient conflict: recomputing the value and retrying may succeed.
	ErrUniqueViolation = fmt.Errorf("unique constraint violation: %w", inverrors.ErrTransientConflict)
	// ErrSerialization marks a serialization failure, deadlock or busy database.
	ErrSerialization = fmt.Errorf("serialization failure: %w", inverrors.ErrTransientConflict)
)

// Dialect captures what differs between the supported SQL backends.
type Dialect interface {
	Name() string
	// DriverName is the database/sql driver the dialect opens.
	DriverName() string
	// SerializableIsolation is the isolation level requested for operations
	// that need the strongest guarantee the backend offers.
	SerializableIsolation() sql.IsolationLevel
	// SuspendConstraints defers foreign-key enforcement until RestoreConstraints
	// or the end of the current transaction.
	SuspendConstraints() string
	RestoreConstraints() string
	// Classify maps driver errors onto ErrUniqueViolation / ErrSerialization,
	// returning err unchanged when it is neither.
	Classify(err error) error
	// PrepareDSN adds any connection options the dialect relies on.
	PrepareDSN(dsn string) string
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "":
		return postgresDialect{driver: "pgx"}, nil
	case "postgres":
		return postgresDialect{driver: "postgres"}, nil
	case "sqlite":
		return sqliteDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type postgresDialect struct {
	driver string
}

func (d postgresDialect) Name() string       { return "postgres" }
func (d postgresDialect) DriverName() string { return d.driver }

func (postgresDialect) SerializableIsolation() sql.IsolationLevel { return sql.LevelSerializable }

func (postgresDialect) SuspendConstraints() string { return "SET CONSTRAINTS ALL DEFERRED" }
func (postgresDialect) RestoreConstraints() string { return "SET CONSTRAINTS ALL IMMEDIATE" }

func (postgresDialect) PrepareDSN(dsn string) string { return dsn }

func (postgresDialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	var code string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	default:
		return err
	}
	switch code {
	case "23505":
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	case "40001", "40P01":
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return err
}

// sqliteDialect serves single-school installs and the test suite. SQLite
// transactions are serializable already, so no isolation level is requested.
type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) SerializableIsolation() sql.IsolationLevel { return sql.LevelDefault }

func (sqliteDialect) SuspendConstraints() string { return "PRAGMA defer_foreign_keys = ON" }
func (sqliteDialect) RestoreConstraints() string { return "PRAGMA defer_foreign_keys = OFF" }

func (sqliteDialect) PrepareDSN(dsn string) string {
	for _, pragma := range []string{"foreign_keys(1)", "busy_timeout(5000)"} {
		if strings.Contains(dsn, pragma) {
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=" + pragma
	}
	return dsn
}

func (sqliteDialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return err
	}
	switch sqErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	switch sqErr.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		if strings.Contains(sqErr.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		}
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return err
}

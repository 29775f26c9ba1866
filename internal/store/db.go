// Package store is the data-access layer: identifier, history, asset and
// tenant tables behind sqlx, for Postgres and SQLite alike. Store methods take
// a Querier so the same code runs on the pool or inside a caller's transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier = sqlx.ExtContext

// DB wraps the connection pool with its dialect.
type DB struct {
	*sqlx.DB
	dialect Dialect
	log     logrus.FieldLogger
}

// Open connects with the given driver ("pgx", "postgres" or "sqlite") and
// verifies the connection.
func Open(ctx context.Context, driver, dsn string, log logrus.FieldLogger) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	conn, err := sqlx.Open(dialect.DriverName(), dialect.PrepareDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}
	if dialect.Name() == "sqlite" {
		// One writer at a time; concurrent writers would only trade SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}
	return &DB{DB: conn, dialect: dialect, log: log}, nil
}

// NewDB wraps an existing connection.
func NewDB(conn *sqlx.DB, dialect Dialect, log logrus.FieldLogger) *DB {
	return &DB{DB: conn, dialect: dialect, log: log}
}

func (db *DB) Dialect() Dialect { return db.dialect }

// InTx runs fn inside a transaction. The transaction is rolled back when fn
// returns an error or panics and committed otherwise. Commit failures are
// classified so serialization conflicts surface as transient.
func (db *DB) InTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return db.dialect.Classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				db.log.WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return db.dialect.Classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// SerializableTx returns options requesting the dialect's strongest isolation.
func (db *DB) SerializableTx() *sql.TxOptions {
	return &sql.TxOptions{Isolation: db.dialect.SerializableIsolation()}
}

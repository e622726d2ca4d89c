package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Querier is the subset of sqlx used by transaction-aware queries. Both
// *sqlx.DB and *sqlx.Tx satisfy it, so the same repository code serves
// one-shot reads and statements running inside an enrollment transaction.
type Querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// TxRunner opens database transactions and hands the scope to a callback.
// The coordinator passes the scope by reference into each repository call so
// the capacity re-check and the enrollment insert observe the same snapshot.
type TxRunner struct {
	db *sqlx.DB
}

// NewTxRunner constructs a TxRunner over the shared connection pool.
func NewTxRunner(db *sqlx.DB) *TxRunner {
	return &TxRunner{db: db}
}

// WithinTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Nothing partial ever becomes visible.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. The partial unique index on active enrollments surfaces racing
// duplicate admissions this way.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505"
}

// IsSerializationFailure reports whether err is a transaction abort the
// caller may resubmit (serialization failure or deadlock detection).
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

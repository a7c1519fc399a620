package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the repositories care about
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgNotNullViolation     = "23502"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// MapPostgresError translates driver errors into the models sentinels.
// A second outstanding otp_codes row trips the partial unique index and
// comes back as ErrConflict, as do serialization failures between
// concurrent issues for one tuple.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrConflict)
	case pgForeignKeyViolation, pgNotNullViolation, pgCheckViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrBadRequest)
	}
	return err
}

// WithTransaction runs fn in one transaction. It commits when fn returns
// nil and rolls back otherwise; a panic rolls back and is re-raised.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		switch p := recover(); {
		case p != nil:
			_ = tx.Rollback(ctx)
			panic(p)
		case err != nil:
			_ = tx.Rollback(ctx)
		default:
			if cerr := tx.Commit(ctx); cerr != nil {
				err = fmt.Errorf("failed to commit transaction: %w", MapPostgresError(cerr))
			}
		}
	}()

	return fn(tx)
}

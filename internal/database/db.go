package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sentinelsec/authcore/internal/models"
)

// Postgres error codes the repositories care about.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
)

// MapPostgresError translates driver errors into the model sentinels so
// services never branch on Postgres error codes. A unique violation (email
// already registered, duplicate token hash) becomes ErrConflict; constraint
// violations on caller-supplied data become ErrBadRequest.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return models.ErrConflict
		case pgForeignKeyViolation, pgNotNullViolation:
			return models.ErrBadRequest
		}
	}

	return err
}

// WithTransaction runs fn inside a transaction, committing on nil error and
// rolling back otherwise. The password-history append-and-trim relies on this
// so the retention cap holds under concurrent changes.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}

package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sentinelsec/authcore/internal/database"
	"github.com/sentinelsec/authcore/internal/models"
)

// PasswordHistoryRepository keeps prior password digests for reuse rejection.
type PasswordHistoryRepository struct {
	db *database.DB
}

// NewPasswordHistoryRepository creates a new PasswordHistoryRepository.
func NewPasswordHistoryRepository(db *database.DB) *PasswordHistoryRepository {
	return &PasswordHistoryRepository{db: db}
}

// ListRecent returns up to limit entries for the account, newest first.
func (r *PasswordHistoryRepository) ListRecent(ctx context.Context, accountID string, limit int) ([]*models.PasswordHistoryEntry, error) {
	query := `
		SELECT id, account_id, password_hash, created_at
		FROM password_history
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query password history: %w", err)
	}

	return scanPasswordHistoryRows(rows)
}

// Append records a digest and trims the account's history to keep entries.
// The trim runs in the same transaction so the cap holds under concurrency.
func (r *PasswordHistoryRepository) Append(ctx context.Context, accountID, passwordHash string, keep int) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		insertQuery := `
			INSERT INTO password_history (id, account_id, password_hash, created_at)
			VALUES ($1, $2, $3, NOW())
		`

		if _, err := tx.Exec(ctx, insertQuery, uuid.New().String(), accountID, passwordHash); err != nil {
			return database.MapPostgresError(err)
		}

		trimQuery := `
			DELETE FROM password_history
			WHERE account_id = $1 AND id NOT IN (
				SELECT id FROM password_history
				WHERE account_id = $1
				ORDER BY created_at DESC
				LIMIT $2
			)
		`

		if _, err := tx.Exec(ctx, trimQuery, accountID, keep); err != nil {
			return database.MapPostgresError(err)
		}

		return nil
	})
}

// DeleteForAccount removes all history for an account.
func (r *PasswordHistoryRepository) DeleteForAccount(ctx context.Context, accountID string) error {
	query := `DELETE FROM password_history WHERE account_id = $1`

	if _, err := r.db.Pool.Exec(ctx, query, accountID); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func scanPasswordHistoryRows(rows pgx.Rows) ([]*models.PasswordHistoryEntry, error) {
	defer rows.Close()

	entries := make([]*models.PasswordHistoryEntry, 0)

	for rows.Next() {
		var e models.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan password history entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating password history rows: %w", err)
	}

	return entries, nil
}

package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sentinelsec/authcore/internal/database"
	"github.com/sentinelsec/authcore/internal/models"
)

const twoFactorColumns = `account_id, method, secret_encrypted, secret_nonce, enabled,
	backup_codes, enrolled_at, confirmed_at`

// TwoFactorRepository persists per-account enrollment state. Backup codes are
// a jsonb array of hashed entries so use-marking is a single row update.
type TwoFactorRepository struct {
	db *database.DB
}

// NewTwoFactorRepository creates a new TwoFactorRepository.
func NewTwoFactorRepository(db *database.DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

func scanTwoFactorRow(scanner rowScanner) (*models.TwoFactorState, error) {
	var s models.TwoFactorState
	var backupCodesJSON []byte

	err := scanner.Scan(
		&s.AccountID, &s.Method, &s.SecretEncrypted, &s.SecretNonce,
		&s.Enabled, &backupCodesJSON, &s.EnrolledAt, &s.ConfirmedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(backupCodesJSON) > 0 {
		if err := json.Unmarshal(backupCodesJSON, &s.BackupCodes); err != nil {
			return nil, fmt.Errorf("failed to decode backup codes: %w", err)
		}
	}

	return &s, nil
}

// GetByAccountID returns the enrollment state, or ErrNotFound when the
// account never started enrollment.
func (r *TwoFactorRepository) GetByAccountID(ctx context.Context, accountID string) (*models.TwoFactorState, error) {
	query := `SELECT ` + twoFactorColumns + ` FROM two_factor_states WHERE account_id = $1`
	return scanTwoFactorRow(r.db.Pool.QueryRow(ctx, query, accountID))
}

// Upsert writes the full enrollment state, replacing any previous row.
func (r *TwoFactorRepository) Upsert(ctx context.Context, state *models.TwoFactorState) (*models.TwoFactorState, error) {
	backupCodesJSON, err := json.Marshal(state.BackupCodes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup codes: %w", err)
	}

	query := `
		INSERT INTO two_factor_states (account_id, method, secret_encrypted, secret_nonce, enabled, backup_codes, enrolled_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id) DO UPDATE SET
			method = EXCLUDED.method,
			secret_encrypted = EXCLUDED.secret_encrypted,
			secret_nonce = EXCLUDED.secret_nonce,
			enabled = EXCLUDED.enabled,
			backup_codes = EXCLUDED.backup_codes,
			enrolled_at = EXCLUDED.enrolled_at,
			confirmed_at = EXCLUDED.confirmed_at
		RETURNING ` + twoFactorColumns

	return scanTwoFactorRow(r.db.Pool.QueryRow(ctx, query,
		state.AccountID, state.Method, state.SecretEncrypted, state.SecretNonce,
		state.Enabled, backupCodesJSON, state.EnrolledAt, state.ConfirmedAt,
	))
}

// SetEnabled flips the enabled flag and stamps confirmed_at when enabling.
func (r *TwoFactorRepository) SetEnabled(ctx context.Context, accountID string, enabled bool) error {
	query := `
		UPDATE two_factor_states
		SET enabled = $1, confirmed_at = CASE WHEN $1 THEN NOW() ELSE confirmed_at END
		WHERE account_id = $2
	`

	result, err := r.db.Pool.Exec(ctx, query, enabled, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// UpdateBackupCodes replaces the stored backup-code list. Used both for
// regeneration and for marking a single code used.
func (r *TwoFactorRepository) UpdateBackupCodes(ctx context.Context, accountID string, codes []models.BackupCodeEntry) error {
	backupCodesJSON, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("failed to encode backup codes: %w", err)
	}

	query := `UPDATE two_factor_states SET backup_codes = $1 WHERE account_id = $2`

	result, err := r.db.Pool.Exec(ctx, query, backupCodesJSON, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Delete removes the enrollment row entirely. Disabling 2FA drops the secret
// and every backup code rather than leaving dormant credentials behind.
func (r *TwoFactorRepository) Delete(ctx context.Context, accountID string) error {
	query := `DELETE FROM two_factor_states WHERE account_id = $1`

	result, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

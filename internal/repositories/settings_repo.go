package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sentinelsec/authcore/internal/database"
	"github.com/sentinelsec/authcore/internal/models"
)

// SettingsRepository reads and writes named configuration values. Values are
// stored as text; typed interpretation happens in the settings service.
type SettingsRepository struct {
	db *database.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns one setting, or ErrNotFound when the key was never written.
func (r *SettingsRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	query := `SELECT key, value, updated_at FROM system_settings WHERE key = $1`

	var s models.Setting
	if err := r.db.Pool.QueryRow(ctx, query, key).Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

// List returns every stored setting.
func (r *SettingsRepository) List(ctx context.Context) ([]*models.Setting, error) {
	query := `SELECT key, value, updated_at FROM system_settings ORDER BY key`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}

	return scanSettingRows(rows)
}

// Set upserts a setting value.
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := r.db.Pool.Exec(ctx, query, key, value); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func scanSettingRows(rows pgx.Rows) ([]*models.Setting, error) {
	defer rows.Close()

	settings := make([]*models.Setting, 0)

	for rows.Next() {
		var s models.Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating setting rows: %w", err)
	}

	return settings, nil
}

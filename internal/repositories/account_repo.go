package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sentinelsec/authcore/internal/database"
	"github.com/sentinelsec/authcore/internal/models"
)

const accountColumns = `id, email, password_hash, name, role, active, deleted_at,
	must_change_password, password_changed_at, last_login_at, last_login_ip,
	created_at, updated_at`

// AccountRepository handles account persistence.
type AccountRepository struct {
	db *database.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner interface for scanning rows (supports single row and rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account

	err := scanner.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Name, &a.Role, &a.Active,
		&a.DeletedAt, &a.MustChangePassword, &a.PasswordChangedAt,
		&a.LastLoginAt, &a.LastLoginIP, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &a, nil
}

func scanAccountRows(rows pgx.Rows) ([]*models.Account, error) {
	defer rows.Close()

	accounts := make([]*models.Account, 0)

	for rows.Next() {
		account, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	return accounts, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, email))
}

func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}

	return scanAccountRows(rows)
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	account.ID = uuid.New().String()

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	if account.Role == "" {
		account.Role = "user"
	}

	query := `
		INSERT INTO accounts (id, email, password_hash, name, role, active, must_change_password, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		account.ID, account.Email, account.PasswordHash, account.Name,
		account.Role, account.Active, account.MustChangePassword,
		account.PasswordChangedAt, account.CreatedAt, account.UpdatedAt,
	))
}

// UpdatePassword sets a new digest, stamps password_changed_at, and clears
// the forced-change flag in one statement.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE accounts
		SET password_hash = $1, password_changed_at = NOW(), must_change_password = FALSE, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.Pool.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SetMustChangePassword flags the account for forced rotation on next login.
func (r *AccountRepository) SetMustChangePassword(ctx context.Context, id string, must bool) error {
	query := `UPDATE accounts SET must_change_password = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Pool.Exec(ctx, query, must, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// RecordLogin persists last-login metadata after a successful authentication.
func (r *AccountRepository) RecordLogin(ctx context.Context, id, ip string) error {
	query := `UPDATE accounts SET last_login_at = NOW(), last_login_ip = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Pool.Exec(ctx, query, ip, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

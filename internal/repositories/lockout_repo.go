package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sentinelsec/authcore/internal/database"
	"github.com/sentinelsec/authcore/internal/models"
)

// LockoutRepository persists failed-attempt counters and lock windows for
// accounts and source IPs. Counter increments are single-statement upserts so
// concurrent failures from the same principal never lose updates.
type LockoutRepository struct {
	db *database.DB
}

// NewLockoutRepository creates a new LockoutRepository.
func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

const accountLockoutColumns = `account_id, failed_attempts, last_failed_at, last_failed_ip,
	locked_until, unlocked_at, unlocked_by`

const ipLockoutColumns = `ip, failed_attempts, last_failed_at, locked_until, unlocked_at, unlocked_by`

func scanAccountLockoutRow(scanner rowScanner) (*models.AccountLockout, error) {
	var l models.AccountLockout

	err := scanner.Scan(
		&l.AccountID, &l.FailedAttempts, &l.LastFailedAt, &l.LastFailedIP,
		&l.LockedUntil, &l.UnlockedAt, &l.UnlockedBy,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &l, nil
}

func scanIPLockoutRow(scanner rowScanner) (*models.IPLockout, error) {
	var l models.IPLockout

	err := scanner.Scan(
		&l.IP, &l.FailedAttempts, &l.LastFailedAt,
		&l.LockedUntil, &l.UnlockedAt, &l.UnlockedBy,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &l, nil
}

// GetAccountLockout returns the lockout row for an account, or ErrNotFound if
// the account has never failed a login.
func (r *LockoutRepository) GetAccountLockout(ctx context.Context, accountID string) (*models.AccountLockout, error) {
	query := `SELECT ` + accountLockoutColumns + ` FROM account_lockouts WHERE account_id = $1`
	return scanAccountLockoutRow(r.db.Pool.QueryRow(ctx, query, accountID))
}

// GetIPLockout returns the lockout row for a source IP, or ErrNotFound.
func (r *LockoutRepository) GetIPLockout(ctx context.Context, ip string) (*models.IPLockout, error) {
	query := `SELECT ` + ipLockoutColumns + ` FROM ip_lockouts WHERE ip = $1`
	return scanIPLockoutRow(r.db.Pool.QueryRow(ctx, query, ip))
}

// IncrementAccountFailure bumps the account's consecutive-failure counter and
// returns the updated row. The upsert also clears any stale unlock audit
// fields so a re-lock after an admin unlock reads correctly.
func (r *LockoutRepository) IncrementAccountFailure(ctx context.Context, accountID, ip string) (*models.AccountLockout, error) {
	query := `
		INSERT INTO account_lockouts (account_id, failed_attempts, last_failed_at, last_failed_ip)
		VALUES ($1, 1, NOW(), $2)
		ON CONFLICT (account_id) DO UPDATE SET
			failed_attempts = account_lockouts.failed_attempts + 1,
			last_failed_at = NOW(),
			last_failed_ip = EXCLUDED.last_failed_ip,
			unlocked_at = NULL,
			unlocked_by = NULL
		RETURNING ` + accountLockoutColumns

	return scanAccountLockoutRow(r.db.Pool.QueryRow(ctx, query, accountID, ip))
}

// IncrementIPFailure bumps the per-IP failure counter and returns the row.
func (r *LockoutRepository) IncrementIPFailure(ctx context.Context, ip string) (*models.IPLockout, error) {
	query := `
		INSERT INTO ip_lockouts (ip, failed_attempts, last_failed_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (ip) DO UPDATE SET
			failed_attempts = ip_lockouts.failed_attempts + 1,
			last_failed_at = NOW(),
			unlocked_at = NULL,
			unlocked_by = NULL
		RETURNING ` + ipLockoutColumns

	return scanIPLockoutRow(r.db.Pool.QueryRow(ctx, query, ip))
}

// LockAccount sets the lock window on an existing lockout row.
func (r *LockoutRepository) LockAccount(ctx context.Context, accountID string, until time.Time) error {
	query := `UPDATE account_lockouts SET locked_until = $1 WHERE account_id = $2`

	result, err := r.db.Pool.Exec(ctx, query, until, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// LockIP sets the lock window on an IP lockout row, creating it if needed.
func (r *LockoutRepository) LockIP(ctx context.Context, ip string, until time.Time) error {
	query := `
		INSERT INTO ip_lockouts (ip, failed_attempts, last_failed_at, locked_until)
		VALUES ($1, 0, NOW(), $2)
		ON CONFLICT (ip) DO UPDATE SET locked_until = EXCLUDED.locked_until
	`

	_, err := r.db.Pool.Exec(ctx, query, ip, until)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// ResetAccount clears the account's counter and lock after a successful login.
func (r *LockoutRepository) ResetAccount(ctx context.Context, accountID string) error {
	query := `
		UPDATE account_lockouts
		SET failed_attempts = 0, locked_until = NULL
		WHERE account_id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// ResetIP clears the counter and lock for a source IP.
func (r *LockoutRepository) ResetIP(ctx context.Context, ip string) error {
	query := `
		UPDATE ip_lockouts
		SET failed_attempts = 0, locked_until = NULL
		WHERE ip = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, ip)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// UnlockAccount clears a lock and records who released it.
func (r *LockoutRepository) UnlockAccount(ctx context.Context, accountID, unlockedBy string) error {
	query := `
		UPDATE account_lockouts
		SET failed_attempts = 0, locked_until = NULL, unlocked_at = NOW(), unlocked_by = $1
		WHERE account_id = $2
	`

	result, err := r.db.Pool.Exec(ctx, query, unlockedBy, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// UnlockIP clears an IP lock and records who released it.
func (r *LockoutRepository) UnlockIP(ctx context.Context, ip, unlockedBy string) error {
	query := `
		UPDATE ip_lockouts
		SET failed_attempts = 0, locked_until = NULL, unlocked_at = NOW(), unlocked_by = $1
		WHERE ip = $2
	`

	result, err := r.db.Pool.Exec(ctx, query, unlockedBy, ip)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ClearAll resets every counter and releases every lock, account and IP
// alike. Backs the administrative bulk-clear operation.
func (r *LockoutRepository) ClearAll(ctx context.Context, unlockedBy string) (int64, error) {
	accountQuery := `
		UPDATE account_lockouts
		SET failed_attempts = 0, locked_until = NULL, unlocked_at = NOW(), unlocked_by = $1
		WHERE failed_attempts > 0 OR locked_until IS NOT NULL
	`
	ipQuery := `
		UPDATE ip_lockouts
		SET failed_attempts = 0, locked_until = NULL, unlocked_at = NOW(), unlocked_by = $1
		WHERE failed_attempts > 0 OR locked_until IS NOT NULL
	`

	var total int64

	result, err := r.db.Pool.Exec(ctx, accountQuery, unlockedBy)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	total += result.RowsAffected()

	result, err = r.db.Pool.Exec(ctx, ipQuery, unlockedBy)
	if err != nil {
		return total, database.MapPostgresError(err)
	}
	total += result.RowsAffected()

	return total, nil
}

// CountLockedAccountsByIP counts how many distinct accounts are currently
// locked with the given IP as their last failure source. Drives the
// escalation from account locks to an IP-wide lock.
func (r *LockoutRepository) CountLockedAccountsByIP(ctx context.Context, ip string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM account_lockouts
		WHERE last_failed_ip = $1 AND locked_until IS NOT NULL AND locked_until > NOW()
	`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, ip).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// ListLockedAccounts returns all accounts with an active lock, for the admin
// lockout view.
func (r *LockoutRepository) ListLockedAccounts(ctx context.Context) ([]*models.AccountLockout, error) {
	query := `
		SELECT ` + accountLockoutColumns + `
		FROM account_lockouts
		WHERE locked_until IS NOT NULL AND locked_until > NOW()
		ORDER BY locked_until DESC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked accounts: %w", err)
	}

	return scanAccountLockoutRows(rows)
}

// ListLockedIPs returns all IPs with an active lock.
func (r *LockoutRepository) ListLockedIPs(ctx context.Context) ([]*models.IPLockout, error) {
	query := `
		SELECT ` + ipLockoutColumns + `
		FROM ip_lockouts
		WHERE locked_until IS NOT NULL AND locked_until > NOW()
		ORDER BY locked_until DESC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked ips: %w", err)
	}

	return scanIPLockoutRows(rows)
}

// DeleteStale removes counter rows with no active lock and no failure within
// the retention window. Run by the background cleanup manager.
func (r *LockoutRepository) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	accountQuery := `
		DELETE FROM account_lockouts
		WHERE (locked_until IS NULL OR locked_until < NOW())
		  AND (last_failed_at IS NULL OR last_failed_at < $1)
	`
	ipQuery := `
		DELETE FROM ip_lockouts
		WHERE (locked_until IS NULL OR locked_until < NOW())
		  AND (last_failed_at IS NULL OR last_failed_at < $1)
	`

	var total int64

	result, err := r.db.Pool.Exec(ctx, accountQuery, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	total += result.RowsAffected()

	result, err = r.db.Pool.Exec(ctx, ipQuery, cutoff)
	if err != nil {
		return total, database.MapPostgresError(err)
	}
	total += result.RowsAffected()

	return total, nil
}

func scanAccountLockoutRows(rows pgx.Rows) ([]*models.AccountLockout, error) {
	defer rows.Close()

	lockouts := make([]*models.AccountLockout, 0)

	for rows.Next() {
		lockout, err := scanAccountLockoutRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account lockout: %w", err)
		}
		lockouts = append(lockouts, lockout)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account lockout rows: %w", err)
	}

	return lockouts, nil
}

func scanIPLockoutRows(rows pgx.Rows) ([]*models.IPLockout, error) {
	defer rows.Close()

	lockouts := make([]*models.IPLockout, 0)

	for rows.Next() {
		lockout, err := scanIPLockoutRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ip lockout: %w", err)
		}
		lockouts = append(lockouts, lockout)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ip lockout rows: %w", err)
	}

	return lockouts, nil
}

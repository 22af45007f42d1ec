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

const sessionColumns = `id, account_id, token_hash, purpose, device_class, ip, user_agent,
	created_at, last_activity, expires_at, suspicious, suspicious_reason,
	terminated_at, terminated_reason`

// SessionRepository persists bearer sessions. Only token hashes are stored;
// the raw token never touches the database.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session

	err := scanner.Scan(
		&s.ID, &s.AccountID, &s.TokenHash, &s.Purpose, &s.DeviceClass,
		&s.IP, &s.UserAgent, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt,
		&s.Suspicious, &s.SuspiciousReason, &s.TerminatedAt, &s.TerminatedReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sessions (id, account_id, token_hash, purpose, device_class, ip, user_agent,
			created_at, last_activity, expires_at, suspicious, suspicious_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + sessionColumns

	return scanSessionRow(r.db.Pool.QueryRow(ctx, query,
		session.ID, session.AccountID, session.TokenHash, session.Purpose,
		session.DeviceClass, session.IP, session.UserAgent,
		session.CreatedAt, session.LastActivity, session.ExpiresAt,
		session.Suspicious, session.SuspiciousReason,
	))
}

// GetByID returns a session by primary key, terminated or not.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByTokenHash returns the session matching a token hash, terminated or
// not. Liveness is the service's call, because an expired-but-unterminated
// row still needs to be terminated with the right reason.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// Touch refreshes last_activity, but only when the stored value is older
// than the throttle window. Returns true when a write happened.
func (r *SessionRepository) Touch(ctx context.Context, id string, throttle time.Duration) (bool, error) {
	query := `
		UPDATE sessions
		SET last_activity = NOW()
		WHERE id = $1 AND terminated_at IS NULL AND last_activity < NOW() - $2::interval
	`

	result, err := r.db.Pool.Exec(ctx, query, id, throttle)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}

// ExtendExpiry pushes the hard expiry out from now. Used by the sliding
// timeout on each counted activity.
func (r *SessionRepository) ExtendExpiry(ctx context.Context, id string, ttl time.Duration) error {
	query := `
		UPDATE sessions
		SET expires_at = NOW() + $1::interval
		WHERE id = $2 AND terminated_at IS NULL
	`

	_, err := r.db.Pool.Exec(ctx, query, ttl, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// Terminate marks a session terminated with a reason. Idempotent: a second
// call leaves the original termination record untouched.
func (r *SessionRepository) Terminate(ctx context.Context, id, reason string) error {
	query := `
		UPDATE sessions
		SET terminated_at = NOW(), terminated_reason = $1
		WHERE id = $2 AND terminated_at IS NULL
	`

	_, err := r.db.Pool.Exec(ctx, query, reason, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// TerminateAllForAccount terminates every live session of an account except
// the one identified by keepID (pass "" to terminate all). Returns the count
// of sessions terminated.
func (r *SessionRepository) TerminateAllForAccount(ctx context.Context, accountID, keepID, reason string) (int64, error) {
	query := `
		UPDATE sessions
		SET terminated_at = NOW(), terminated_reason = $1
		WHERE account_id = $2 AND terminated_at IS NULL AND id <> $3
	`

	result, err := r.db.Pool.Exec(ctx, query, reason, accountID, keepID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// ListActiveForAccount returns the account's live full sessions, newest first.
func (r *SessionRepository) ListActiveForAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE account_id = $1 AND purpose = 'full' AND terminated_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}

	return scanSessionRows(rows)
}

// ListRecentForAccount returns full sessions created within the window,
// terminated or not. Feeds the suspicious-activity heuristics at issuance.
func (r *SessionRepository) ListRecentForAccount(ctx context.Context, accountID string, window time.Duration) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE account_id = $1 AND purpose = 'full' AND created_at > NOW() - $2::interval
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sessions: %w", err)
	}

	return scanSessionRows(rows)
}

// CountActiveForAccount counts live full sessions for concurrency checks.
func (r *SessionRepository) CountActiveForAccount(ctx context.Context, accountID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sessions
		WHERE account_id = $1 AND purpose = 'full' AND terminated_at IS NULL AND expires_at > NOW()
	`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, accountID).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// SweepExpired terminates every session past expiry that was never closed
// explicitly. Returns the number of rows swept.
func (r *SessionRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE sessions
		SET terminated_at = NOW(), terminated_reason = $1
		WHERE terminated_at IS NULL AND expires_at < NOW()
	`

	result, err := r.db.Pool.Exec(ctx, query, models.TerminationReasonSweep)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// DeleteTerminated purges terminated session rows older than the retention
// window.
func (r *SessionRepository) DeleteTerminated(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE terminated_at IS NOT NULL AND terminated_at < NOW() - $1::interval
	`

	result, err := r.db.Pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sentinelsec/authcore/internal/database"
	"github.com/sentinelsec/authcore/internal/models"
)

// AuditLogRepository persists the security event trail. Rows are append-only;
// nothing in the service layer updates an audit entry after the fact.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository.
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditLogColumns = `id, event_type, actor_id, target_id, action, success,
	failure_reason, ip_address, user_agent, metadata, created_at`

func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog

	err := row.Scan(
		&log.ID, &log.EventType, &log.ActorID, &log.TargetID,
		&log.Action, &log.Success, &log.FailureReason,
		&log.IPAddress, &log.UserAgent, &log.Metadata, &log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &log, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)

	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

// Create inserts an audit entry. The id and created_at come back from the
// database so the caller sees exactly what was recorded.
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	query := `
		INSERT INTO audit_logs (
			event_type, actor_id, target_id, action, success,
			failure_reason, ip_address, user_agent, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + auditLogColumns

	result, err := scanAuditLogRow(r.pool.QueryRow(
		ctx, query,
		log.EventType, log.ActorID, log.TargetID, log.Action, log.Success,
		log.FailureReason, log.IPAddress, log.UserAgent, log.Metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	return result, nil
}

// GetByAccountID returns entries where the account appears as actor or
// target, newest first.
func (r *AuditLogRepository) GetByAccountID(ctx context.Context, accountID string, limit int, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditLogColumns + `
		FROM audit_logs
		WHERE actor_id = $1 OR target_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// GetByEventType returns entries of one event type, newest first.
func (r *AuditLogRepository) GetByEventType(ctx context.Context, eventType string, limit int, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditLogColumns + `
		FROM audit_logs
		WHERE event_type = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// GetFailedAttempts returns failed events across all accounts, for the
// security review view.
func (r *AuditLogRepository) GetFailedAttempts(ctx context.Context, limit int, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditLogColumns + `
		FROM audit_logs
		WHERE success = false
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// Cleanup deletes entries past the retention window. Run by the background
// cleanup manager.
func (r *AuditLogRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM audit_logs
		WHERE created_at < CURRENT_TIMESTAMP - INTERVAL '1 day' * $1
	`

	result, err := r.pool.Exec(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	return result.RowsAffected(), nil
}

// CountByAccountID counts entries for one account, actor or target.
func (r *AuditLogRepository) CountByAccountID(ctx context.Context, accountID string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM audit_logs
		WHERE actor_id = $1 OR target_id = $1
	`

	var count int64
	err := r.pool.QueryRow(ctx, query, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	return count, nil
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Event types for audit logging
const (
	AuditEventTypeLogin          = "login"
	AuditEventTypeLogout         = "logout"
	AuditEventTypeTwoFactor      = "two_factor"
	AuditEventTypeLockout        = "lockout"
	AuditEventTypeUnlock         = "admin_unlock"
	AuditEventTypePasswordChange = "password_change"
	AuditEventTypeSession        = "session"
)

// Actions
const (
	AuditActionAttempt   = "attempt"
	AuditActionEnroll    = "enroll"
	AuditActionDisable   = "disable"
	AuditActionUnlock    = "unlock"
	AuditActionTerminate = "terminate"
)

type AuditLog struct {
	ID            string        `db:"id"`
	EventType     string        `db:"event_type"`
	ActorID       *string       `db:"actor_id"`
	TargetID      *string       `db:"target_id"`
	Action        string        `db:"action"`
	Success       bool          `db:"success"`
	FailureReason *string       `db:"failure_reason"`
	IPAddress     *string       `db:"ip_address"`
	UserAgent     *string       `db:"user_agent"`
	Metadata      AuditMetadata `db:"metadata"`
	CreatedAt     time.Time     `db:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}

// MarshalJSON implements json.Marshaler
func (am AuditMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(am))
}

// UnmarshalJSON implements json.Unmarshaler
func (am *AuditMetadata) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

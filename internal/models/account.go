package models

import (
	"time"
)

// Account is an authenticatable identity. Accounts are never physically
// deleted by this core; DeletedAt marks soft deletion.
type Account struct {
	ID                 string
	Email              string
	PasswordHash       string
	Name               string
	Role               string // "user", "admin"
	Active             bool
	DeletedAt          *time.Time
	MustChangePassword bool
	PasswordChangedAt  *time.Time
	LastLoginAt        *time.Time
	LastLoginIP        *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsDeleted reports whether the account has been soft-deleted.
func (a *Account) IsDeleted() bool {
	return a.DeletedAt != nil
}

package models

import "time"

// PasswordHistoryEntry is a prior password digest kept only for reuse
// rejection, never for login. The list is capped at a configurable count.
type PasswordHistoryEntry struct {
	ID           string
	AccountID    string
	PasswordHash string
	CreatedAt    time.Time
}

// PasswordValidation lists every policy rule a candidate password violated.
type PasswordValidation struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

// PasswordExpiration is the result of an expiration check.
type PasswordExpiration struct {
	Expired       bool
	DaysRemaining int
}

package models

import "time"

// Two-factor methods. An account has at most one pending or enabled method
// at a time; switching requires disabling the current one first.
const (
	TwoFactorMethodNone  = "NONE"
	TwoFactorMethodTOTP  = "TOTP"
	TwoFactorMethodEmail = "EMAIL"
)

// TwoFactorState holds per-account enrollment state. Enabled only flips to
// true after one successful verification with the newly configured method.
type TwoFactorState struct {
	AccountID       string
	Method          string
	SecretEncrypted []byte // AES-256-GCM encrypted TOTP secret, nil for EMAIL
	SecretNonce     []byte // GCM nonce (12 bytes)
	Enabled         bool
	BackupCodes     []BackupCodeEntry
	EnrolledAt      *time.Time
	ConfirmedAt     *time.Time
}

// Active reports whether any method is pending or enabled.
func (s *TwoFactorState) Active() bool {
	return s.Method != "" && s.Method != TwoFactorMethodNone
}

// BackupCodeEntry is a single-use recovery credential. Codes are stored
// bcrypt-hashed; UsedAt nil means unused.
type BackupCodeEntry struct {
	CodeHash  string     `json:"code_hash"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// TwoFactorVerification is the outcome of a code verification.
type TwoFactorVerification struct {
	OK             bool
	UsedBackupCode bool
}

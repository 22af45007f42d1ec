package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/sentinelsec/authcore/internal/models"
	pkgauth "github.com/sentinelsec/authcore/pkg/auth"
)

// PasswordHistoryStore is the persistence interface for prior digests.
type PasswordHistoryStore interface {
	ListRecent(ctx context.Context, accountID string, limit int) ([]*models.PasswordHistoryEntry, error)
	Append(ctx context.Context, accountID, passwordHash string, keep int) error
}

// PasswordPolicyService validates candidate passwords against the live rule
// set, rejects recent reuse, and decides expiration.
type PasswordPolicyService struct {
	history  PasswordHistoryStore
	settings PolicyProvider
	logger   *slog.Logger
}

// NewPasswordPolicyService creates a new PasswordPolicyService.
func NewPasswordPolicyService(history PasswordHistoryStore, settings PolicyProvider, logger *slog.Logger) *PasswordPolicyService {
	return &PasswordPolicyService{
		history:  history,
		settings: settings,
		logger:   logger,
	}
}

// Validate checks the candidate against every enabled rule and reports all
// violations at once, so the caller can show the complete list.
func (s *PasswordPolicyService) Validate(ctx context.Context, plain string) models.PasswordValidation {
	rules := s.settings.Password(ctx)

	var violations []string

	if len(plain) < rules.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", rules.MinLength))
	}
	if len(plain) > pkgauth.MaxPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at most %d characters", pkgauth.MaxPasswordLen))
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasNumber = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if rules.RequireUppercase && !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if rules.RequireLowercase && !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if rules.RequireNumber && !hasNumber {
		violations = append(violations, "must contain a number")
	}
	if rules.RequireSpecial && !hasSpecial {
		violations = append(violations, "must contain a special character")
	}

	return models.PasswordValidation{Valid: len(violations) == 0, Violations: violations}
}

// CheckHistory reports whether the candidate matches any of the last N stored
// digests. N zero disables the check entirely, no lookup performed.
func (s *PasswordPolicyService) CheckHistory(ctx context.Context, accountID, plain string) (bool, error) {
	count := s.settings.Password(ctx).HistoryCount
	if count == 0 {
		return false, nil
	}

	entries, err := s.history.ListRecent(ctx, accountID, count)
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if pkgauth.ComparePassword(entry.PasswordHash, plain) == nil {
			return true, nil
		}
	}

	return false, nil
}

// RecordPassword appends a digest to the account's history, trimming to the
// configured retention.
func (s *PasswordPolicyService) RecordPassword(ctx context.Context, accountID, passwordHash string) error {
	count := s.settings.Password(ctx).HistoryCount
	if count == 0 {
		return nil
	}
	return s.history.Append(ctx, accountID, passwordHash, count)
}

// CheckExpiration decides whether the account's password is past its max
// age. Max-age zero means passwords never expire. An account with no
// password-changed timestamp at all is treated as already expired, forcing
// rotation on the next applicable login.
func (s *PasswordPolicyService) CheckExpiration(ctx context.Context, account *models.Account) models.PasswordExpiration {
	maxAgeDays := s.settings.Password(ctx).ExpirationDays
	if maxAgeDays == 0 {
		return models.PasswordExpiration{}
	}

	if account.PasswordChangedAt == nil {
		return models.PasswordExpiration{Expired: true}
	}

	age := time.Since(*account.PasswordChangedAt)
	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour

	if age >= maxAge {
		return models.PasswordExpiration{Expired: true}
	}

	remaining := maxAge - age
	return models.PasswordExpiration{
		DaysRemaining: int(remaining / (24 * time.Hour)),
	}
}

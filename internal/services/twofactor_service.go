package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/models"
	pkgauth "github.com/sentinelsec/authcore/pkg/auth"
)

// EmailChallengeTTL is how long an EMAIL 2FA code stays valid. The code is
// consumed on the first successful match; wrong guesses leave it in place
// until expiry, bounded by the outer login-lockout counter.
const EmailChallengeTTL = 10 * time.Minute

// TwoFactorStore is the persistence interface for enrollment state.
type TwoFactorStore interface {
	GetByAccountID(ctx context.Context, accountID string) (*models.TwoFactorState, error)
	Upsert(ctx context.Context, state *models.TwoFactorState) (*models.TwoFactorState, error)
	SetEnabled(ctx context.Context, accountID string, enabled bool) error
	UpdateBackupCodes(ctx context.Context, accountID string, codes []models.BackupCodeEntry) error
	Delete(ctx context.Context, accountID string) error
}

// ChallengeCodeSender dispatches EMAIL 2FA codes. Implemented by the SES
// email service.
type ChallengeCodeSender interface {
	SendTwoFactorCode(ctx context.Context, to, code string) error
}

// EnrollmentResult is returned when TOTP enrollment starts: the caller needs
// the provisioning URI (and QR rendering of it) to configure an authenticator.
type EnrollmentResult struct {
	Method          string
	ProvisioningURI string
	QRCodeDataURL   string
}

// TwoFactorService manages 2FA enrollment and code verification. Enrollment
// is a two-step machine: choosing a method stores it disabled, and only one
// successful verification with the new method flips it enabled.
type TwoFactorService struct {
	repo       TwoFactorStore
	totp       *auth.TOTPManager
	challenges auth.ChallengeStore
	email      ChallengeCodeSender
	audit      AuditRecorder
	logger     *slog.Logger
}

// NewTwoFactorService creates a new TwoFactorService.
func NewTwoFactorService(repo TwoFactorStore, totp *auth.TOTPManager, challenges auth.ChallengeStore, email ChallengeCodeSender, audit AuditRecorder, logger *slog.Logger) *TwoFactorService {
	return &TwoFactorService{
		repo:       repo,
		totp:       totp,
		challenges: challenges,
		email:      email,
		audit:      audit,
		logger:     logger,
	}
}

// State returns the account's enrollment state, or nil when 2FA was never
// set up.
func (s *TwoFactorService) State(ctx context.Context, accountID string) (*models.TwoFactorState, error) {
	state, err := s.repo.GetByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return state, nil
}

// Enabled reports whether the account has a confirmed, active method.
func (s *TwoFactorService) Enabled(ctx context.Context, accountID string) (bool, string, error) {
	state, err := s.State(ctx, accountID)
	if err != nil {
		return false, "", err
	}
	if state == nil || !state.Enabled || !state.Active() {
		return false, "", nil
	}
	return true, state.Method, nil
}

// Enroll starts enrollment in the given method. An already enabled method
// must be disabled first; a not-yet-confirmed enrollment may be restarted
// freely, replacing the stored secret.
func (s *TwoFactorService) Enroll(ctx context.Context, account *models.Account, method string) (*EnrollmentResult, error) {
	if method != models.TwoFactorMethodTOTP && method != models.TwoFactorMethodEmail {
		return nil, fmt.Errorf("%w: unsupported method %q", models.ErrBadRequest, method)
	}

	existing, err := s.State(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Enabled {
		return nil, models.ErrTwoFactorAlreadyActive
	}

	now := time.Now()
	state := &models.TwoFactorState{
		AccountID:  account.ID,
		Method:     method,
		EnrolledAt: &now,
	}

	result := &EnrollmentResult{Method: method}

	switch method {
	case models.TwoFactorMethodTOTP:
		encrypted, nonce, uri, qrDataURL, err := s.totp.GenerateSecret(account.Email)
		if err != nil {
			return nil, err
		}
		state.SecretEncrypted = encrypted
		state.SecretNonce = nonce
		result.ProvisioningURI = uri
		result.QRCodeDataURL = qrDataURL

	case models.TwoFactorMethodEmail:
		// Nothing stored beyond the method; a confirmation code goes out
		// immediately so the user can complete the second step.
		if err := s.dispatchChallenge(ctx, account); err != nil {
			return nil, err
		}
	}

	if _, err := s.repo.Upsert(ctx, state); err != nil {
		return nil, err
	}

	s.audit.LogTwoFactorEvent(ctx, account.ID, models.AuditActionEnroll, true, nil, models.AuditMetadata{
		"method": method,
	})

	return result, nil
}

// ConfirmEnrollment verifies one code with the newly configured method and
// flips enabled. For TOTP this is also the single moment backup codes are
// minted; the plaintext batch is returned exactly once.
func (s *TwoFactorService) ConfirmEnrollment(ctx context.Context, account *models.Account, code string) ([]string, error) {
	state, err := s.State(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if state == nil || !state.Active() {
		return nil, models.ErrTwoFactorNotEnrolled
	}
	if state.Enabled {
		return nil, fmt.Errorf("%w: two-factor already confirmed", models.ErrConflict)
	}

	verification, err := s.verifyCode(ctx, account.ID, state, code)
	if err != nil {
		return nil, err
	}
	if !verification.OK {
		reason := "invalid confirmation code"
		s.audit.LogTwoFactorEvent(ctx, account.ID, models.AuditActionEnroll, false, &reason, models.AuditMetadata{
			"method": state.Method,
		})
		return nil, models.ErrTwoFactorInvalidCode
	}

	if err := s.repo.SetEnabled(ctx, account.ID, true); err != nil {
		return nil, err
	}

	var plaintextCodes []string
	if state.Method == models.TwoFactorMethodTOTP {
		plaintextCodes, err = s.mintBackupCodes(ctx, account.ID)
		if err != nil {
			return nil, err
		}
	}

	s.audit.LogTwoFactorEvent(ctx, account.ID, models.AuditActionEnroll, true, nil, models.AuditMetadata{
		"method":    state.Method,
		"confirmed": true,
	})

	return plaintextCodes, nil
}

// Verify checks a presented code against the account's enabled method.
// TOTP accounts may present an 8-character backup code instead; a matching
// backup code is burned on use.
func (s *TwoFactorService) Verify(ctx context.Context, accountID, code string) (models.TwoFactorVerification, error) {
	state, err := s.State(ctx, accountID)
	if err != nil {
		return models.TwoFactorVerification{}, err
	}
	if state == nil || !state.Enabled || !state.Active() {
		return models.TwoFactorVerification{}, models.ErrTwoFactorNotEnrolled
	}

	return s.verifyCode(ctx, accountID, state, code)
}

func (s *TwoFactorService) verifyCode(ctx context.Context, accountID string, state *models.TwoFactorState, code string) (models.TwoFactorVerification, error) {
	switch state.Method {
	case models.TwoFactorMethodTOTP:
		if len(code) == auth.BackupCodeLength && state.Enabled {
			ok, err := s.consumeBackupCode(ctx, accountID, state, code)
			if err != nil {
				return models.TwoFactorVerification{}, err
			}
			return models.TwoFactorVerification{OK: ok, UsedBackupCode: ok}, nil
		}

		secret, err := s.totp.DecryptSecret(state.SecretEncrypted, state.SecretNonce)
		if err != nil {
			return models.TwoFactorVerification{}, err
		}
		ok, err := s.totp.ValidateCode(secret, code)
		if err != nil {
			return models.TwoFactorVerification{}, err
		}
		return models.TwoFactorVerification{OK: ok}, nil

	case models.TwoFactorMethodEmail:
		ok, err := s.challenges.TakeIfMatch(ctx, accountID, code)
		if err != nil {
			return models.TwoFactorVerification{}, err
		}
		return models.TwoFactorVerification{OK: ok}, nil

	default:
		return models.TwoFactorVerification{}, models.ErrTwoFactorNotEnrolled
	}
}

// consumeBackupCode burns a matching unused backup code. Entries are kept
// with a used-at stamp rather than deleted, so the admin view can show how
// many remain.
func (s *TwoFactorService) consumeBackupCode(ctx context.Context, accountID string, state *models.TwoFactorState, code string) (bool, error) {
	now := time.Now()
	for i := range state.BackupCodes {
		entry := &state.BackupCodes[i]
		if entry.UsedAt != nil {
			continue
		}
		if err := pkgauth.ComparePassword(entry.CodeHash, code); err != nil {
			continue
		}

		entry.UsedAt = &now
		if err := s.repo.UpdateBackupCodes(ctx, accountID, state.BackupCodes); err != nil {
			return false, err
		}

		s.logger.InfoContext(ctx, "backup code consumed",
			slog.String("account_id", accountID),
		)
		return true, nil
	}

	return false, nil
}

// IssueEmailChallenge generates, stores, and dispatches a fresh EMAIL code.
// A dispatch failure is surfaced: without the code the user cannot finish
// logging in.
func (s *TwoFactorService) IssueEmailChallenge(ctx context.Context, account *models.Account) error {
	return s.dispatchChallenge(ctx, account)
}

func (s *TwoFactorService) dispatchChallenge(ctx context.Context, account *models.Account) error {
	code, err := auth.GenerateChallengeCode()
	if err != nil {
		return err
	}

	if err := s.challenges.Put(ctx, account.ID, code, EmailChallengeTTL); err != nil {
		return err
	}

	if err := s.email.SendTwoFactorCode(ctx, account.Email, code); err != nil {
		s.logger.ErrorContext(ctx, "failed to send two-factor code",
			slog.String("account_id", account.ID),
			slog.Any("error", err),
		)
		return models.ErrChallengeDispatch
	}

	return nil
}

// Disable turns 2FA off. Requires the current password, not a 2FA code, so a
// user locked out of their authenticator can still recover. The secret and
// every backup code are dropped.
func (s *TwoFactorService) Disable(ctx context.Context, account *models.Account, password string) error {
	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		reason := "password re-authentication failed"
		s.audit.LogTwoFactorEvent(ctx, account.ID, models.AuditActionDisable, false, &reason, nil)
		return models.ErrUnauthorized
	}

	state, err := s.State(ctx, account.ID)
	if err != nil {
		return err
	}
	if state == nil {
		return models.ErrTwoFactorNotEnrolled
	}

	if err := s.repo.Delete(ctx, account.ID); err != nil {
		return err
	}

	s.audit.LogTwoFactorEvent(ctx, account.ID, models.AuditActionDisable, true, nil, models.AuditMetadata{
		"method": state.Method,
	})

	return nil
}

// RegenerateBackupCodes mints a fresh batch after password re-authentication,
// invalidating every code from the old batch.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, account *models.Account, password string) ([]string, error) {
	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		return nil, models.ErrUnauthorized
	}

	state, err := s.State(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if state == nil || !state.Enabled || state.Method != models.TwoFactorMethodTOTP {
		return nil, models.ErrTwoFactorNotEnrolled
	}

	return s.mintBackupCodes(ctx, account.ID)
}

func (s *TwoFactorService) mintBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	plaintexts, err := auth.GenerateBackupCodes(auth.BackupCodeBatch)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entries := make([]models.BackupCodeEntry, len(plaintexts))
	for i, code := range plaintexts {
		hash, err := pkgauth.HashPassword(code)
		if err != nil {
			return nil, err
		}
		entries[i] = models.BackupCodeEntry{CodeHash: hash, CreatedAt: now}
	}

	if err := s.repo.UpdateBackupCodes(ctx, accountID, entries); err != nil {
		return nil, err
	}

	return plaintexts, nil
}

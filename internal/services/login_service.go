package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/models"
	pkgauth "github.com/sentinelsec/authcore/pkg/auth"
	pkglogger "github.com/sentinelsec/authcore/pkg/logger"
)

// Login outcomes. Every terminal state of the login machine is a distinct
// variant; handlers switch exhaustively instead of inferring from fields.
type LoginOutcome string

const (
	LoginOutcomeSuccess                LoginOutcome = "SUCCESS"
	LoginOutcomeLocked                 LoginOutcome = "LOCKED"
	LoginOutcomeInvalidCredentials     LoginOutcome = "INVALID_CREDENTIALS"
	LoginOutcomeTwoFactorRequired      LoginOutcome = "TWO_FACTOR_REQUIRED"
	LoginOutcomeTwoFactorSetupRequired LoginOutcome = "TWO_FACTOR_SETUP_REQUIRED"
	LoginOutcomeInvalidTwoFactorCode   LoginOutcome = "INVALID_TWO_FACTOR_CODE"
	LoginOutcomePasswordChangeRequired LoginOutcome = "PASSWORD_CHANGE_REQUIRED"
)

// AccountStore is the persistence interface for accounts.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetMustChangePassword(ctx context.Context, id string, must bool) error
	RecordLogin(ctx context.Context, id, ip string) error
}

// LockoutTracker is the orchestrator's view of the lockout service.
type LockoutTracker interface {
	CheckAccountLocked(ctx context.Context, accountID string) (models.LockStatus, error)
	CheckIPLocked(ctx context.Context, ip string) (models.LockStatus, error)
	RecordFailure(ctx context.Context, accountID *string, ip string) error
	RecordSuccess(ctx context.Context, accountID, ip string) error
}

// TwoFactorVerifier is the orchestrator's view of the two-factor service.
type TwoFactorVerifier interface {
	Enabled(ctx context.Context, accountID string) (bool, string, error)
	Verify(ctx context.Context, accountID, code string) (models.TwoFactorVerification, error)
	IssueEmailChallenge(ctx context.Context, account *models.Account) error
}

// SessionIssuer is the orchestrator's view of the session manager.
type SessionIssuer interface {
	Issue(ctx context.Context, accountID, purpose string, ip, userAgent *string) (*models.Session, string, error)
	Terminate(ctx context.Context, sessionID, reason string) error
}

// PasswordPolicy is the orchestrator's view of the policy engine.
type PasswordPolicy interface {
	Validate(ctx context.Context, plain string) models.PasswordValidation
	CheckHistory(ctx context.Context, accountID, plain string) (bool, error)
	RecordPassword(ctx context.Context, accountID, passwordHash string) error
	CheckExpiration(ctx context.Context, account *models.Account) models.PasswordExpiration
}

// LoginInput is one credential presentation.
type LoginInput struct {
	Email         string
	Password      string
	TwoFactorCode string
	PendingToken  string
	IP            string
	UserAgent     *string
}

// LoginResult is the orchestrator's terminal state for one call.
type LoginResult struct {
	Outcome         LoginOutcome
	Account         *models.Account
	Session         *models.Session
	SessionToken    string
	PendingToken    string
	TwoFactorMethod string
	Locked          *models.LockedError
}

// LoginService composes the lockout tracker, credential verifier, two-factor
// verifier, password policy engine, and session manager into the end-to-end
// login state machine. One pass per call; the pending-2FA and forced-change
// hand-offs come back as new calls carrying a pending token.
type LoginService struct {
	accounts  AccountStore
	lockouts  LockoutTracker
	twoFactor TwoFactorVerifier
	sessions  SessionIssuer
	passwords PasswordPolicy
	pending   *auth.PendingTokenManager
	settings  PolicyProvider
	audit     AuditRecorder
	timing    *auth.TimingDelay
	logger    *slog.Logger
}

// NewLoginService creates a new LoginService.
func NewLoginService(
	accounts AccountStore,
	lockouts LockoutTracker,
	twoFactor TwoFactorVerifier,
	sessions SessionIssuer,
	passwords PasswordPolicy,
	pending *auth.PendingTokenManager,
	settings PolicyProvider,
	audit AuditRecorder,
	timing *auth.TimingDelay,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		accounts:  accounts,
		lockouts:  lockouts,
		twoFactor: twoFactor,
		sessions:  sessions,
		passwords: passwords,
		pending:   pending,
		settings:  settings,
		audit:     audit,
		timing:    timing,
		logger:    logger,
	}
}

// Login runs the state machine:
//
//	IP gate -> account gate -> verify credentials -> two-factor gate ->
//	expiration gate -> issue session
//
// Every failed credential or failed 2FA branch goes through the lockout
// tracker before returning, including unknown accounts (recorded against the
// IP only), so existence never leaks through bookkeeping differences. The
// 401 wording is identical for unknown-account and wrong-password.
func (s *LoginService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	start := time.Now()
	email := strings.ToLower(strings.TrimSpace(in.Email))

	// IP gate first: cheapest check, and ordered before account lookup so a
	// 423 never confirms an account exists.
	ipStatus, err := s.lockouts.CheckIPLocked(ctx, in.IP)
	if err != nil {
		return nil, err
	}
	if ipStatus.Locked {
		return s.lockedResult(ctx, nil, models.LockScopeIP, ipStatus.RetryAfter, in), nil
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Same bookkeeping call as a real account, minus the account id.
			if recErr := s.lockouts.RecordFailure(ctx, nil, in.IP); recErr != nil {
				return nil, recErr
			}
			s.auditLoginFailure(ctx, nil, "unknown account", in)
			s.logger.Debug("login attempt for unknown account",
				"email", pkglogger.SanitizedEmail(email), "ip", in.IP)
			s.timing.WaitFrom(start, false)
			return &LoginResult{Outcome: LoginOutcomeInvalidCredentials}, nil
		}
		return nil, err
	}

	accountStatus, err := s.lockouts.CheckAccountLocked(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if accountStatus.Locked {
		// A correct password during the lock window still returns locked.
		return s.lockedResult(ctx, &account.ID, models.LockScopeAccount, accountStatus.RetryAfter, in), nil
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, in.Password); err != nil {
		if recErr := s.lockouts.RecordFailure(ctx, &account.ID, in.IP); recErr != nil {
			return nil, recErr
		}
		s.auditLoginFailure(ctx, &account.ID, "invalid password", in)
		s.timing.WaitFrom(start, false)
		return &LoginResult{Outcome: LoginOutcomeInvalidCredentials}, nil
	}

	if !account.Active || account.IsDeleted() {
		s.auditLoginFailure(ctx, &account.ID, "account inactive", in)
		s.timing.WaitFrom(start, false)
		return nil, models.ErrAccountInactive
	}

	// Credentials verified. Reset lockout state before anything else so a
	// crash later never leaves a legitimate owner locked out.
	if err := s.lockouts.RecordSuccess(ctx, account.ID, in.IP); err != nil {
		return nil, err
	}

	// Two-factor gate.
	enrolled, method, err := s.twoFactor.Enabled(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if !enrolled && s.settings.Require2FA(ctx) {
		// Policy demands a second factor this account has not set up. Deny
		// the full session rather than silently waive the requirement; the
		// credentials were correct, so the refusal is safe to name.
		s.auditLoginFailure(ctx, &account.ID, "two-factor enrollment required", in)
		return &LoginResult{Outcome: LoginOutcomeTwoFactorSetupRequired, Account: account}, nil
	}
	if enrolled {
		if in.TwoFactorCode == "" {
			return s.beginTwoFactorHandoff(ctx, account, method, in)
		}

		verification, err := s.twoFactor.Verify(ctx, account.ID, in.TwoFactorCode)
		if err != nil {
			return nil, err
		}
		if !verification.OK {
			if recErr := s.lockouts.RecordFailure(ctx, &account.ID, in.IP); recErr != nil {
				return nil, recErr
			}
			s.auditLoginFailure(ctx, &account.ID, "invalid two-factor code", in)
			s.timing.WaitFrom(start, false)
			return &LoginResult{Outcome: LoginOutcomeInvalidTwoFactorCode}, nil
		}
	}

	return s.finishLogin(ctx, account, in)
}

// VerifyTwoFactorLogin finishes a login that paused at the 2FA gate. The
// pending token proves the password step already passed.
func (s *LoginService) VerifyTwoFactorLogin(ctx context.Context, pendingToken, code string, in LoginInput) (*LoginResult, error) {
	// Same gate order as Login: the IP may have been locked between the
	// password step and the code submission.
	ipStatus, err := s.lockouts.CheckIPLocked(ctx, in.IP)
	if err != nil {
		return nil, err
	}
	if ipStatus.Locked {
		return s.lockedResult(ctx, nil, models.LockScopeIP, ipStatus.RetryAfter, in), nil
	}

	claims, err := s.pending.Validate(pendingToken, auth.PendingPurposeTwoFactor)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		return nil, err
	}
	if !account.Active || account.IsDeleted() {
		return nil, models.ErrAccountInactive
	}

	accountStatus, err := s.lockouts.CheckAccountLocked(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if accountStatus.Locked {
		return s.lockedResult(ctx, &account.ID, models.LockScopeAccount, accountStatus.RetryAfter, in), nil
	}

	verification, err := s.twoFactor.Verify(ctx, account.ID, code)
	if err != nil {
		return nil, err
	}
	if !verification.OK {
		if recErr := s.lockouts.RecordFailure(ctx, &account.ID, in.IP); recErr != nil {
			return nil, recErr
		}
		s.auditLoginFailure(ctx, &account.ID, "invalid two-factor code", in)
		s.timing.Wait(false)
		return &LoginResult{Outcome: LoginOutcomeInvalidTwoFactorCode}, nil
	}

	s.retirePendingSession(ctx, claims.SessionID)

	return s.finishLogin(ctx, account, in)
}

// beginTwoFactorHandoff issues the pending session and token for the 2FA
// step, dispatching a challenge code first for EMAIL accounts.
func (s *LoginService) beginTwoFactorHandoff(ctx context.Context, account *models.Account, method string, in LoginInput) (*LoginResult, error) {
	if method == models.TwoFactorMethodEmail {
		// Dispatch failure is surfaced: without the code the user has no way
		// to finish logging in.
		if err := s.twoFactor.IssueEmailChallenge(ctx, account); err != nil {
			return nil, err
		}
	}

	session, _, err := s.sessions.Issue(ctx, account.ID, models.SessionPurposePending2FA, s.ipPtr(in), in.UserAgent)
	if err != nil {
		return nil, err
	}

	token, err := s.pending.Generate(account.ID, session.ID, auth.PendingPurposeTwoFactor)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Outcome:         LoginOutcomeTwoFactorRequired,
		Account:         account,
		PendingToken:    token,
		TwoFactorMethod: method,
	}, nil
}

// finishLogin runs the expiration gate and issues the session. Order per the
// concurrency contract: verify -> reset lockout -> issue session -> persist
// login metadata, each step independently retryable.
func (s *LoginService) finishLogin(ctx context.Context, account *models.Account, in LoginInput) (*LoginResult, error) {
	expiration := s.passwords.CheckExpiration(ctx, account)
	if account.MustChangePassword || expiration.Expired {
		return s.beginPasswordChangeHandoff(ctx, account, in)
	}

	session, token, err := s.sessions.Issue(ctx, account.ID, models.SessionPurposeFull, s.ipPtr(in), in.UserAgent)
	if err != nil {
		// Last resort fail-open: the credential decision already happened,
		// and a storage hiccup on the session row must not deny service.
		s.logger.ErrorContext(ctx, "session row creation failed on successful login",
			slog.String("account_id", account.ID),
			slog.Any("error", err),
		)
	}

	if err := s.accounts.RecordLogin(ctx, account.ID, in.IP); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist login metadata",
			slog.String("account_id", account.ID),
			slog.Any("error", err),
		)
	}

	s.audit.LogLoginAttempt(ctx, &account.ID, true, nil, s.ipPtr(in), in.UserAgent, nil)

	return &LoginResult{
		Outcome:      LoginOutcomeSuccess,
		Account:      account,
		Session:      session,
		SessionToken: token,
	}, nil
}

// beginPasswordChangeHandoff flags the account and issues the pending token
// for the forced-rotation step.
func (s *LoginService) beginPasswordChangeHandoff(ctx context.Context, account *models.Account, in LoginInput) (*LoginResult, error) {
	if !account.MustChangePassword {
		if err := s.accounts.SetMustChangePassword(ctx, account.ID, true); err != nil {
			return nil, err
		}
	}

	session, _, err := s.sessions.Issue(ctx, account.ID, models.SessionPurposePendingPassword, s.ipPtr(in), in.UserAgent)
	if err != nil {
		return nil, err
	}

	token, err := s.pending.Generate(account.ID, session.ID, auth.PendingPurposePasswordChange)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Outcome:      LoginOutcomePasswordChangeRequired,
		Account:      account,
		PendingToken: token,
	}, nil
}

// CompleteForcedPasswordChange finishes the forced-rotation hand-off: the
// pending token plus the current password authorize setting a new one, and a
// full session is issued on success.
func (s *LoginService) CompleteForcedPasswordChange(ctx context.Context, pendingToken, currentPassword, newPassword string, in LoginInput) (*LoginResult, error) {
	claims, err := s.pending.Validate(pendingToken, auth.PendingPurposePasswordChange)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		return nil, err
	}
	if !account.Active || account.IsDeleted() {
		return nil, models.ErrAccountInactive
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, currentPassword); err != nil {
		reason := "current password incorrect"
		s.audit.LogPasswordChange(ctx, account.ID, false, &reason)
		return nil, models.ErrUnauthorized
	}

	if err := s.applyNewPassword(ctx, account, newPassword); err != nil {
		return nil, err
	}

	s.retirePendingSession(ctx, claims.SessionID)

	return s.finishLogin(ctx, account, in)
}

// ChangePassword is the self-service path for an authenticated account. It
// shares the policy and history pipeline with the forced path but issues no
// new session.
func (s *LoginService) ChangePassword(ctx context.Context, account *models.Account, currentPassword, newPassword string) error {
	if err := pkgauth.ComparePassword(account.PasswordHash, currentPassword); err != nil {
		reason := "current password incorrect"
		s.audit.LogPasswordChange(ctx, account.ID, false, &reason)
		return models.ErrUnauthorized
	}

	return s.applyNewPassword(ctx, account, newPassword)
}

// applyNewPassword runs validation, reuse rejection, hashing, and the
// history append. Policy failures come back as a PolicyViolationError so
// callers can surface the full rule list.
func (s *LoginService) applyNewPassword(ctx context.Context, account *models.Account, newPassword string) error {
	validation := s.passwords.Validate(ctx, newPassword)
	if !validation.Valid {
		reason := "policy violation"
		s.audit.LogPasswordChange(ctx, account.ID, false, &reason)
		return &models.PolicyViolationError{Violations: validation.Violations}
	}

	reused, err := s.passwords.CheckHistory(ctx, account.ID, newPassword)
	if err != nil {
		return err
	}
	if reused {
		reason := "password reused"
		s.audit.LogPasswordChange(ctx, account.ID, false, &reason)
		return models.ErrPasswordReused
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		return err
	}

	if err := s.passwords.RecordPassword(ctx, account.ID, hash); err != nil {
		// History is a policy aid, not a gate; losing one entry must not
		// undo a completed password change.
		s.logger.ErrorContext(ctx, "failed to record password history",
			slog.String("account_id", account.ID),
			slog.Any("error", err),
		)
	}

	s.audit.LogPasswordChange(ctx, account.ID, true, nil)

	return nil
}

// retirePendingSession closes the pending session backing a completed
// hand-off. Best effort: the JWT expiry bounds any leak.
func (s *LoginService) retirePendingSession(ctx context.Context, sessionID string) {
	if err := s.sessions.Terminate(ctx, sessionID, models.TerminationReasonPendingUsed); err != nil {
		s.logger.WarnContext(ctx, "failed to retire pending session",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
}

func (s *LoginService) lockedResult(ctx context.Context, accountID *string, scope string, retryAfter time.Duration, in LoginInput) *LoginResult {
	reason := scope + " locked"
	s.audit.LogLoginAttempt(ctx, accountID, false, &reason, s.ipPtr(in), in.UserAgent, nil)

	return &LoginResult{
		Outcome: LoginOutcomeLocked,
		Locked:  &models.LockedError{Scope: scope, RetryAfter: retryAfter},
	}
}

func (s *LoginService) auditLoginFailure(ctx context.Context, accountID *string, reason string, in LoginInput) {
	s.audit.LogLoginAttempt(ctx, accountID, false, &reason, s.ipPtr(in), in.UserAgent, nil)
}

func (s *LoginService) ipPtr(in LoginInput) *string {
	if in.IP == "" {
		return nil
	}
	ip := in.IP
	return &ip
}

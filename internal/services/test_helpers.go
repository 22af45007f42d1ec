package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelsec/authcore/internal/models"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAccountStore implements AccountStore for testing
type MockAccountStore struct {
	GetByIDFunc               func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc            func(ctx context.Context, email string) (*models.Account, error)
	UpdatePasswordFunc        func(ctx context.Context, id, passwordHash string) error
	SetMustChangePasswordFunc func(ctx context.Context, id string, must bool) error
	RecordLoginFunc           func(ctx context.Context, id, ip string) error
}

func (m *MockAccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockAccountStore) SetMustChangePassword(ctx context.Context, id string, must bool) error {
	if m.SetMustChangePasswordFunc != nil {
		return m.SetMustChangePasswordFunc(ctx, id, must)
	}
	return nil
}

func (m *MockAccountStore) RecordLogin(ctx context.Context, id, ip string) error {
	if m.RecordLoginFunc != nil {
		return m.RecordLoginFunc(ctx, id, ip)
	}
	return nil
}

// MockLockoutStore implements LockoutStore for testing
type MockLockoutStore struct {
	GetAccountLockoutFunc       func(ctx context.Context, accountID string) (*models.AccountLockout, error)
	GetIPLockoutFunc            func(ctx context.Context, ip string) (*models.IPLockout, error)
	IncrementAccountFailureFunc func(ctx context.Context, accountID, ip string) (*models.AccountLockout, error)
	IncrementIPFailureFunc      func(ctx context.Context, ip string) (*models.IPLockout, error)
	LockAccountFunc             func(ctx context.Context, accountID string, until time.Time) error
	LockIPFunc                  func(ctx context.Context, ip string, until time.Time) error
	ResetAccountFunc            func(ctx context.Context, accountID string) error
	ResetIPFunc                 func(ctx context.Context, ip string) error
	UnlockAccountFunc           func(ctx context.Context, accountID, unlockedBy string) error
	UnlockIPFunc                func(ctx context.Context, ip, unlockedBy string) error
	CountLockedAccountsByIPFunc func(ctx context.Context, ip string) (int, error)
	ListLockedAccountsFunc      func(ctx context.Context) ([]*models.AccountLockout, error)
	ListLockedIPsFunc           func(ctx context.Context) ([]*models.IPLockout, error)
	ClearAllFunc                func(ctx context.Context, unlockedBy string) (int64, error)
}

func (m *MockLockoutStore) GetAccountLockout(ctx context.Context, accountID string) (*models.AccountLockout, error) {
	if m.GetAccountLockoutFunc != nil {
		return m.GetAccountLockoutFunc(ctx, accountID)
	}
	return nil, models.ErrNotFound
}

func (m *MockLockoutStore) GetIPLockout(ctx context.Context, ip string) (*models.IPLockout, error) {
	if m.GetIPLockoutFunc != nil {
		return m.GetIPLockoutFunc(ctx, ip)
	}
	return nil, models.ErrNotFound
}

func (m *MockLockoutStore) IncrementAccountFailure(ctx context.Context, accountID, ip string) (*models.AccountLockout, error) {
	if m.IncrementAccountFailureFunc != nil {
		return m.IncrementAccountFailureFunc(ctx, accountID, ip)
	}
	return &models.AccountLockout{AccountID: accountID, FailedAttempts: 1}, nil
}

func (m *MockLockoutStore) IncrementIPFailure(ctx context.Context, ip string) (*models.IPLockout, error) {
	if m.IncrementIPFailureFunc != nil {
		return m.IncrementIPFailureFunc(ctx, ip)
	}
	return &models.IPLockout{IP: ip, FailedAttempts: 1}, nil
}

func (m *MockLockoutStore) LockAccount(ctx context.Context, accountID string, until time.Time) error {
	if m.LockAccountFunc != nil {
		return m.LockAccountFunc(ctx, accountID, until)
	}
	return nil
}

func (m *MockLockoutStore) LockIP(ctx context.Context, ip string, until time.Time) error {
	if m.LockIPFunc != nil {
		return m.LockIPFunc(ctx, ip, until)
	}
	return nil
}

func (m *MockLockoutStore) ResetAccount(ctx context.Context, accountID string) error {
	if m.ResetAccountFunc != nil {
		return m.ResetAccountFunc(ctx, accountID)
	}
	return nil
}

func (m *MockLockoutStore) ResetIP(ctx context.Context, ip string) error {
	if m.ResetIPFunc != nil {
		return m.ResetIPFunc(ctx, ip)
	}
	return nil
}

func (m *MockLockoutStore) UnlockAccount(ctx context.Context, accountID, unlockedBy string) error {
	if m.UnlockAccountFunc != nil {
		return m.UnlockAccountFunc(ctx, accountID, unlockedBy)
	}
	return nil
}

func (m *MockLockoutStore) UnlockIP(ctx context.Context, ip, unlockedBy string) error {
	if m.UnlockIPFunc != nil {
		return m.UnlockIPFunc(ctx, ip, unlockedBy)
	}
	return nil
}

func (m *MockLockoutStore) CountLockedAccountsByIP(ctx context.Context, ip string) (int, error) {
	if m.CountLockedAccountsByIPFunc != nil {
		return m.CountLockedAccountsByIPFunc(ctx, ip)
	}
	return 0, nil
}

func (m *MockLockoutStore) ListLockedAccounts(ctx context.Context) ([]*models.AccountLockout, error) {
	if m.ListLockedAccountsFunc != nil {
		return m.ListLockedAccountsFunc(ctx)
	}
	return []*models.AccountLockout{}, nil
}

func (m *MockLockoutStore) ListLockedIPs(ctx context.Context) ([]*models.IPLockout, error) {
	if m.ListLockedIPsFunc != nil {
		return m.ListLockedIPsFunc(ctx)
	}
	return []*models.IPLockout{}, nil
}

func (m *MockLockoutStore) ClearAll(ctx context.Context, unlockedBy string) (int64, error) {
	if m.ClearAllFunc != nil {
		return m.ClearAllFunc(ctx, unlockedBy)
	}
	return 0, nil
}

// MockTwoFactorStore implements TwoFactorStore for testing
type MockTwoFactorStore struct {
	GetByAccountIDFunc    func(ctx context.Context, accountID string) (*models.TwoFactorState, error)
	UpsertFunc            func(ctx context.Context, state *models.TwoFactorState) (*models.TwoFactorState, error)
	SetEnabledFunc        func(ctx context.Context, accountID string, enabled bool) error
	UpdateBackupCodesFunc func(ctx context.Context, accountID string, codes []models.BackupCodeEntry) error
	DeleteFunc            func(ctx context.Context, accountID string) error
}

func (m *MockTwoFactorStore) GetByAccountID(ctx context.Context, accountID string) (*models.TwoFactorState, error) {
	if m.GetByAccountIDFunc != nil {
		return m.GetByAccountIDFunc(ctx, accountID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTwoFactorStore) Upsert(ctx context.Context, state *models.TwoFactorState) (*models.TwoFactorState, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, state)
	}
	return state, nil
}

func (m *MockTwoFactorStore) SetEnabled(ctx context.Context, accountID string, enabled bool) error {
	if m.SetEnabledFunc != nil {
		return m.SetEnabledFunc(ctx, accountID, enabled)
	}
	return nil
}

func (m *MockTwoFactorStore) UpdateBackupCodes(ctx context.Context, accountID string, codes []models.BackupCodeEntry) error {
	if m.UpdateBackupCodesFunc != nil {
		return m.UpdateBackupCodesFunc(ctx, accountID, codes)
	}
	return nil
}

func (m *MockTwoFactorStore) Delete(ctx context.Context, accountID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, accountID)
	}
	return nil
}

// MockPasswordHistoryStore implements PasswordHistoryStore for testing
type MockPasswordHistoryStore struct {
	ListRecentFunc func(ctx context.Context, accountID string, limit int) ([]*models.PasswordHistoryEntry, error)
	AppendFunc     func(ctx context.Context, accountID, passwordHash string, keep int) error
}

func (m *MockPasswordHistoryStore) ListRecent(ctx context.Context, accountID string, limit int) ([]*models.PasswordHistoryEntry, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, accountID, limit)
	}
	return []*models.PasswordHistoryEntry{}, nil
}

func (m *MockPasswordHistoryStore) Append(ctx context.Context, accountID, passwordHash string, keep int) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, accountID, passwordHash, keep)
	}
	return nil
}

// MockSessionStore implements SessionStore for testing
type MockSessionStore struct {
	CreateFunc                 func(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByIDFunc                func(ctx context.Context, id string) (*models.Session, error)
	GetByTokenHashFunc         func(ctx context.Context, tokenHash string) (*models.Session, error)
	TouchFunc                  func(ctx context.Context, id string, throttle time.Duration) (bool, error)
	ExtendExpiryFunc           func(ctx context.Context, id string, ttl time.Duration) error
	TerminateFunc              func(ctx context.Context, id, reason string) error
	TerminateAllForAccountFunc func(ctx context.Context, accountID, keepID, reason string) (int64, error)
	ListActiveForAccountFunc   func(ctx context.Context, accountID string) ([]*models.Session, error)
	ListRecentForAccountFunc   func(ctx context.Context, accountID string, window time.Duration) ([]*models.Session, error)
	CountActiveForAccountFunc  func(ctx context.Context, accountID string) (int, error)
	SweepExpiredFunc           func(ctx context.Context) (int64, error)
	DeleteTerminatedFunc       func(ctx context.Context, olderThan time.Duration) (int64, error)
}

func (m *MockSessionStore) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	if session.ID == "" {
		session.ID = "session-1"
	}
	return session, nil
}

func (m *MockSessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionStore) Touch(ctx context.Context, id string, throttle time.Duration) (bool, error) {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, id, throttle)
	}
	return true, nil
}

func (m *MockSessionStore) ExtendExpiry(ctx context.Context, id string, ttl time.Duration) error {
	if m.ExtendExpiryFunc != nil {
		return m.ExtendExpiryFunc(ctx, id, ttl)
	}
	return nil
}

func (m *MockSessionStore) Terminate(ctx context.Context, id, reason string) error {
	if m.TerminateFunc != nil {
		return m.TerminateFunc(ctx, id, reason)
	}
	return nil
}

func (m *MockSessionStore) TerminateAllForAccount(ctx context.Context, accountID, keepID, reason string) (int64, error) {
	if m.TerminateAllForAccountFunc != nil {
		return m.TerminateAllForAccountFunc(ctx, accountID, keepID, reason)
	}
	return 0, nil
}

func (m *MockSessionStore) ListActiveForAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	if m.ListActiveForAccountFunc != nil {
		return m.ListActiveForAccountFunc(ctx, accountID)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionStore) ListRecentForAccount(ctx context.Context, accountID string, window time.Duration) ([]*models.Session, error) {
	if m.ListRecentForAccountFunc != nil {
		return m.ListRecentForAccountFunc(ctx, accountID, window)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionStore) CountActiveForAccount(ctx context.Context, accountID string) (int, error) {
	if m.CountActiveForAccountFunc != nil {
		return m.CountActiveForAccountFunc(ctx, accountID)
	}
	return 0, nil
}

func (m *MockSessionStore) SweepExpired(ctx context.Context) (int64, error) {
	if m.SweepExpiredFunc != nil {
		return m.SweepExpiredFunc(ctx)
	}
	return 0, nil
}

func (m *MockSessionStore) DeleteTerminated(ctx context.Context, olderThan time.Duration) (int64, error) {
	if m.DeleteTerminatedFunc != nil {
		return m.DeleteTerminatedFunc(ctx, olderThan)
	}
	return 0, nil
}

// MockSettingsStore implements SettingsStore for testing
type MockSettingsStore struct {
	GetFunc  func(ctx context.Context, key string) (*models.Setting, error)
	ListFunc func(ctx context.Context) ([]*models.Setting, error)
	SetFunc  func(ctx context.Context, key, value string) error
}

func (m *MockSettingsStore) Get(ctx context.Context, key string) (*models.Setting, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, models.ErrNotFound
}

func (m *MockSettingsStore) List(ctx context.Context) ([]*models.Setting, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []*models.Setting{}, nil
}

func (m *MockSettingsStore) Set(ctx context.Context, key, value string) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value)
	}
	return nil
}

// stubPolicyProvider returns fixed policies without a settings table.
type stubPolicyProvider struct {
	lockout    LockoutPolicy
	session    SessionPolicy
	password   PasswordRules
	require2FA bool
}

func defaultStubPolicies() *stubPolicyProvider {
	return &stubPolicyProvider{
		lockout: LockoutPolicy{
			Enabled:            true,
			MaxAttempts:        5,
			Duration:           30 * time.Minute,
			IPLockoutThreshold: 3,
		},
		session: SessionPolicy{
			Timeout:           30 * time.Minute,
			TimeoutWarning:    5 * time.Minute,
			MaxConcurrent:     5,
			SuspiciousEnabled: true,
			AutoLogout:        true,
		},
		password: PasswordRules{
			MinLength:        8,
			RequireUppercase: true,
			RequireLowercase: true,
			RequireNumber:    true,
			RequireSpecial:   false,
			HistoryCount:     3,
			ExpirationDays:   0,
		},
	}
}

func (p *stubPolicyProvider) Lockout(ctx context.Context) LockoutPolicy  { return p.lockout }
func (p *stubPolicyProvider) Session(ctx context.Context) SessionPolicy  { return p.session }
func (p *stubPolicyProvider) Password(ctx context.Context) PasswordRules { return p.password }
func (p *stubPolicyProvider) Require2FA(ctx context.Context) bool        { return p.require2FA }

// auditEvent is one captured audit call.
type auditEvent struct {
	EventType string
	Action    string
	ActorID   *string
	TargetID  *string
	Success   bool
	Reason    *string
	Metadata  models.AuditMetadata
}

// recordingAudit implements AuditRecorder and captures every event.
type recordingAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

func (r *recordingAudit) record(e auditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) Events() []auditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auditEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingAudit) LogLoginAttempt(ctx context.Context, actorID *string, success bool, failureReason *string, ip, userAgent *string, metadata models.AuditMetadata) {
	r.record(auditEvent{EventType: models.AuditEventTypeLogin, Action: models.AuditActionAttempt, ActorID: actorID, Success: success, Reason: failureReason, Metadata: metadata})
}

func (r *recordingAudit) LogLogout(ctx context.Context, actorID string, ip *string) {
	r.record(auditEvent{EventType: models.AuditEventTypeLogout, ActorID: &actorID, Success: true})
}

func (r *recordingAudit) LogTwoFactorEvent(ctx context.Context, actorID, action string, success bool, failureReason *string, metadata models.AuditMetadata) {
	r.record(auditEvent{EventType: models.AuditEventTypeTwoFactor, Action: action, ActorID: &actorID, Success: success, Reason: failureReason, Metadata: metadata})
}

func (r *recordingAudit) LogLockout(ctx context.Context, targetID *string, ip *string, metadata models.AuditMetadata) {
	r.record(auditEvent{EventType: models.AuditEventTypeLockout, TargetID: targetID, Success: true, Metadata: metadata})
}

func (r *recordingAudit) LogAdminUnlock(ctx context.Context, actorID string, targetID *string, metadata models.AuditMetadata) {
	r.record(auditEvent{EventType: models.AuditEventTypeUnlock, Action: models.AuditActionUnlock, ActorID: &actorID, TargetID: targetID, Success: true, Metadata: metadata})
}

func (r *recordingAudit) LogPasswordChange(ctx context.Context, actorID string, success bool, failureReason *string) {
	r.record(auditEvent{EventType: models.AuditEventTypePasswordChange, ActorID: &actorID, Success: success, Reason: failureReason})
}

func (r *recordingAudit) LogSessionEvent(ctx context.Context, actorID, action string, metadata models.AuditMetadata) {
	r.record(auditEvent{EventType: models.AuditEventTypeSession, Action: action, ActorID: &actorID, Success: true, Metadata: metadata})
}

// MockChallengeSender implements ChallengeCodeSender for testing
type MockChallengeSender struct {
	SendTwoFactorCodeFunc func(ctx context.Context, to, code string) error

	mu        sync.Mutex
	sentCodes []string
}

func (m *MockChallengeSender) SendTwoFactorCode(ctx context.Context, to, code string) error {
	m.mu.Lock()
	m.sentCodes = append(m.sentCodes, code)
	m.mu.Unlock()

	if m.SendTwoFactorCodeFunc != nil {
		return m.SendTwoFactorCodeFunc(ctx, to, code)
	}
	return nil
}

func (m *MockChallengeSender) LastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sentCodes) == 0 {
		return ""
	}
	return m.sentCodes[len(m.sentCodes)-1]
}

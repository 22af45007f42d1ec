package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/models"
	"github.com/sentinelsec/authcore/internal/services"
	pkghttp "github.com/sentinelsec/authcore/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext attaches a validated session to the request context,
// simulating the session middleware.
func WithSessionContext(req *http.Request, session *models.Session) *http.Request {
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, session)
	return req.WithContext(ctx)
}

// TestSession returns a live full-purpose session for the given account.
func TestSession(accountID string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:           "session-1",
		AccountID:    accountID,
		Purpose:      models.SessionPurposeFull,
		DeviceClass:  "chrome/windows",
		CreatedAt:    now.Add(-5 * time.Minute),
		LastActivity: now,
		ExpiresAt:    now.Add(25 * time.Minute),
	}
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	LoginFunc                        func(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	VerifyTwoFactorLoginFunc         func(ctx context.Context, pendingToken, code string, in services.LoginInput) (*services.LoginResult, error)
	CompleteForcedPasswordChangeFunc func(ctx context.Context, pendingToken, currentPassword, newPassword string, in services.LoginInput) (*services.LoginResult, error)
	ChangePasswordFunc               func(ctx context.Context, account *models.Account, currentPassword, newPassword string) error
}

func (m *MockLoginService) Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockLoginService) VerifyTwoFactorLogin(ctx context.Context, pendingToken, code string, in services.LoginInput) (*services.LoginResult, error) {
	if m.VerifyTwoFactorLoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.VerifyTwoFactorLoginFunc(ctx, pendingToken, code, in)
}

func (m *MockLoginService) CompleteForcedPasswordChange(ctx context.Context, pendingToken, currentPassword, newPassword string, in services.LoginInput) (*services.LoginResult, error) {
	if m.CompleteForcedPasswordChangeFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.CompleteForcedPasswordChangeFunc(ctx, pendingToken, currentPassword, newPassword, in)
}

func (m *MockLoginService) ChangePassword(ctx context.Context, account *models.Account, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, account, currentPassword, newPassword)
}

// MockSessionTerminator implements SessionTerminator for testing
type MockSessionTerminator struct {
	TerminateFunc func(ctx context.Context, sessionID, reason string) error
}

func (m *MockSessionTerminator) Terminate(ctx context.Context, sessionID, reason string) error {
	if m.TerminateFunc == nil {
		return nil
	}
	return m.TerminateFunc(ctx, sessionID, reason)
}

// MockAccountGetter implements AccountGetter for testing
type MockAccountGetter struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Account, error)
}

func (m *MockAccountGetter) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetByIDFunc(ctx, id)
}

// NopAuditRecorder discards every audit event.
type NopAuditRecorder struct{}

func (NopAuditRecorder) LogLoginAttempt(ctx context.Context, actorID *string, success bool, failureReason *string, ip, userAgent *string, metadata models.AuditMetadata) {
}
func (NopAuditRecorder) LogLogout(ctx context.Context, actorID string, ip *string) {}
func (NopAuditRecorder) LogTwoFactorEvent(ctx context.Context, actorID, action string, success bool, failureReason *string, metadata models.AuditMetadata) {
}
func (NopAuditRecorder) LogLockout(ctx context.Context, targetID *string, ip *string, metadata models.AuditMetadata) {
}
func (NopAuditRecorder) LogAdminUnlock(ctx context.Context, actorID string, targetID *string, metadata models.AuditMetadata) {
}
func (NopAuditRecorder) LogPasswordChange(ctx context.Context, actorID string, success bool, failureReason *string) {
}
func (NopAuditRecorder) LogSessionEvent(ctx context.Context, actorID, action string, metadata models.AuditMetadata) {
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	StateFunc                 func(ctx context.Context, accountID string) (*models.TwoFactorState, error)
	EnrollFunc                func(ctx context.Context, account *models.Account, method string) (*services.EnrollmentResult, error)
	ConfirmEnrollmentFunc     func(ctx context.Context, account *models.Account, code string) ([]string, error)
	DisableFunc               func(ctx context.Context, account *models.Account, password string) error
	RegenerateBackupCodesFunc func(ctx context.Context, account *models.Account, password string) ([]string, error)
}

func (m *MockTwoFactorService) State(ctx context.Context, accountID string) (*models.TwoFactorState, error) {
	if m.StateFunc == nil {
		return nil, nil
	}
	return m.StateFunc(ctx, accountID)
}

func (m *MockTwoFactorService) Enroll(ctx context.Context, account *models.Account, method string) (*services.EnrollmentResult, error) {
	if m.EnrollFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.EnrollFunc(ctx, account, method)
}

func (m *MockTwoFactorService) ConfirmEnrollment(ctx context.Context, account *models.Account, code string) ([]string, error) {
	if m.ConfirmEnrollmentFunc == nil {
		return nil, models.ErrTwoFactorNotEnrolled
	}
	return m.ConfirmEnrollmentFunc(ctx, account, code)
}

func (m *MockTwoFactorService) Disable(ctx context.Context, account *models.Account, password string) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, account, password)
}

func (m *MockTwoFactorService) RegenerateBackupCodes(ctx context.Context, account *models.Account, password string) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return nil, models.ErrTwoFactorNotEnrolled
	}
	return m.RegenerateBackupCodesFunc(ctx, account, password)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	ListForAccountFunc      func(ctx context.Context, accountID string) ([]*models.Session, error)
	TerminateForAccountFunc func(ctx context.Context, accountID, sessionID, reason string) error
	TerminateAllExceptFunc  func(ctx context.Context, accountID, keepID, reason string) (int64, error)
	StatusFunc              func(ctx context.Context, session *models.Session) models.SessionStatus
}

func (m *MockSessionService) ListForAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	if m.ListForAccountFunc == nil {
		return []*models.Session{}, nil
	}
	return m.ListForAccountFunc(ctx, accountID)
}

func (m *MockSessionService) TerminateForAccount(ctx context.Context, accountID, sessionID, reason string) error {
	if m.TerminateForAccountFunc == nil {
		return nil
	}
	return m.TerminateForAccountFunc(ctx, accountID, sessionID, reason)
}

func (m *MockSessionService) TerminateAllExcept(ctx context.Context, accountID, keepID, reason string) (int64, error) {
	if m.TerminateAllExceptFunc == nil {
		return 0, nil
	}
	return m.TerminateAllExceptFunc(ctx, accountID, keepID, reason)
}

func (m *MockSessionService) Status(ctx context.Context, session *models.Session) models.SessionStatus {
	if m.StatusFunc == nil {
		return models.SessionStatus{}
	}
	return m.StatusFunc(ctx, session)
}

// MockLockoutAdmin implements LockoutAdminInterface for testing
type MockLockoutAdmin struct {
	ListLockedFunc         func(ctx context.Context) ([]*models.AccountLockout, []*models.IPLockout, error)
	AdminUnlockAccountFunc func(ctx context.Context, accountID, actorID string) error
	AdminUnlockIPFunc      func(ctx context.Context, ip, actorID string) error
	ClearAllFunc           func(ctx context.Context, actorID string) (int64, error)
}

func (m *MockLockoutAdmin) ListLocked(ctx context.Context) ([]*models.AccountLockout, []*models.IPLockout, error) {
	if m.ListLockedFunc == nil {
		return nil, nil, nil
	}
	return m.ListLockedFunc(ctx)
}

func (m *MockLockoutAdmin) AdminUnlockAccount(ctx context.Context, accountID, actorID string) error {
	if m.AdminUnlockAccountFunc == nil {
		return nil
	}
	return m.AdminUnlockAccountFunc(ctx, accountID, actorID)
}

func (m *MockLockoutAdmin) AdminUnlockIP(ctx context.Context, ip, actorID string) error {
	if m.AdminUnlockIPFunc == nil {
		return nil
	}
	return m.AdminUnlockIPFunc(ctx, ip, actorID)
}

func (m *MockLockoutAdmin) ClearAll(ctx context.Context, actorID string) (int64, error) {
	if m.ClearAllFunc == nil {
		return 0, nil
	}
	return m.ClearAllFunc(ctx, actorID)
}

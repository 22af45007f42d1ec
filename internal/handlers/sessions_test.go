package handlers_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelsec/authcore/internal/handlers"
	"github.com/sentinelsec/authcore/internal/models"
)

func TestSessionList_MarksCurrent(t *testing.T) {
	now := time.Now()
	ip := "203.0.113.7"
	sessions := &handlers.MockSessionService{
		ListForAccountFunc: func(ctx context.Context, accountID string) ([]*models.Session, error) {
			assert.Equal(t, "acct-1", accountID)
			return []*models.Session{
				{ID: "session-1", AccountID: accountID, DeviceClass: "chrome/windows", IP: &ip, ExpiresAt: now.Add(20 * time.Minute)},
				{ID: "session-2", AccountID: accountID, DeviceClass: "firefox/macos", ExpiresAt: now.Add(10 * time.Minute)},
			}, nil
		},
	}

	handler := handlers.NewSessionHandler(sessions)
	req := handlers.NewTestRequest(t, "GET", "/sessions", nil)
	req = handlers.WithSessionContext(req, handlers.TestSession("acct-1"))

	w := httptest.NewRecorder()
	handler.List(w, req)

	var resp []handlers.SessionResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Len(t, resp, 2)
	assert.True(t, resp[0].Current, "the calling session is flagged")
	assert.False(t, resp[1].Current)
	assert.Equal(t, "chrome/windows", resp[0].DeviceClass)

	// Raw material for the list never includes the token hash.
	assert.NotContains(t, w.Body.String(), "token_hash")
}

func TestSessionList_SurfacesSuspicion(t *testing.T) {
	reason := "new device class"
	sessions := &handlers.MockSessionService{
		ListForAccountFunc: func(ctx context.Context, accountID string) ([]*models.Session, error) {
			return []*models.Session{
				{ID: "session-9", AccountID: accountID, Suspicious: true, SuspiciousReason: &reason},
			}, nil
		},
	}

	handler := handlers.NewSessionHandler(sessions)
	req := handlers.NewTestRequest(t, "GET", "/sessions", nil)
	req = handlers.WithSessionContext(req, handlers.TestSession("acct-1"))

	w := httptest.NewRecorder()
	handler.List(w, req)

	var resp []handlers.SessionResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp[0].Suspicious)
	assert.Equal(t, reason, *resp[0].SuspiciousReason)
}

func TestSessionTerminate_Success(t *testing.T) {
	var gotAccountID, gotSessionID, gotReason string
	sessions := &handlers.MockSessionService{
		TerminateForAccountFunc: func(ctx context.Context, accountID, sessionID, reason string) error {
			gotAccountID = accountID
			gotSessionID = sessionID
			gotReason = reason
			return nil
		},
	}

	handler := handlers.NewSessionHandler(sessions)
	req := handlers.NewTestRequest(t, "DELETE", "/sessions/session-2", nil)
	req = handlers.WithSessionContext(req, handlers.TestSession("acct-1"))
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "session-2"})

	w := httptest.NewRecorder()
	handler.Terminate(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "acct-1", gotAccountID)
	assert.Equal(t, "session-2", gotSessionID)
	assert.Equal(t, models.TerminationReasonUserRevoked, gotReason)
}

func TestSessionTerminate_OtherAccountsSessionLooksLikeNotFound(t *testing.T) {
	// Ownership failures must be indistinguishable from a missing id.
	errs := []error{models.ErrNotFound, models.ErrForbidden}

	for _, serviceErr := range errs {
		t.Run(serviceErr.Error(), func(t *testing.T) {
			sessions := &handlers.MockSessionService{
				TerminateForAccountFunc: func(ctx context.Context, accountID, sessionID, reason string) error {
					return serviceErr
				},
			}

			handler := handlers.NewSessionHandler(sessions)
			req := handlers.NewTestRequest(t, "DELETE", "/sessions/session-x", nil)
			req = handlers.WithSessionContext(req, handlers.TestSession("acct-1"))
			req = handlers.WithChiRouteContext(req, map[string]string{"id": "session-x"})

			w := httptest.NewRecorder()
			handler.Terminate(w, req)

			handlers.AssertErrorResponse(t, w, 404, "not_found")
		})
	}
}

func TestSessionTerminateOthers(t *testing.T) {
	var gotKeepID string
	sessions := &handlers.MockSessionService{
		TerminateAllExceptFunc: func(ctx context.Context, accountID, keepID, reason string) (int64, error) {
			gotKeepID = keepID
			return 3, nil
		},
	}

	handler := handlers.NewSessionHandler(sessions)
	req := handlers.NewTestRequest(t, "POST", "/sessions/terminate-others", nil)
	req = handlers.WithSessionContext(req, handlers.TestSession("acct-1"))

	w := httptest.NewRecorder()
	handler.TerminateOthers(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "session-1", gotKeepID, "the calling session survives")

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.EqualValues(t, 3, resp["terminated"])
}

func TestSessionCurrent_TimeoutWarning(t *testing.T) {
	sessions := &handlers.MockSessionService{
		StatusFunc: func(ctx context.Context, session *models.Session) models.SessionStatus {
			return models.SessionStatus{
				SessionID:        session.ID,
				ExpiresAt:        time.Now().Add(3 * time.Minute),
				RemainingSeconds: 180,
				TimeoutWarning:   true,
			}
		},
	}

	handler := handlers.NewSessionHandler(sessions)
	req := handlers.NewTestRequest(t, "GET", "/sessions/current", nil)
	req = handlers.WithSessionContext(req, handlers.TestSession("acct-1"))

	w := httptest.NewRecorder()
	handler.Current(w, req)

	var resp models.SessionStatus
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.Equal(t, 180, resp.RemainingSeconds)
	assert.True(t, resp.TimeoutWarning)
}

func TestSessionEndpoints_Unauthenticated(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{})

	endpoints := map[string]func(w *httptest.ResponseRecorder){
		"list": func(w *httptest.ResponseRecorder) {
			handler.List(w, handlers.NewTestRequest(t, "GET", "/sessions", nil))
		},
		"terminate": func(w *httptest.ResponseRecorder) {
			handler.Terminate(w, handlers.NewTestRequest(t, "DELETE", "/sessions/session-1", nil))
		},
		"terminate others": func(w *httptest.ResponseRecorder) {
			handler.TerminateOthers(w, handlers.NewTestRequest(t, "POST", "/sessions/terminate-others", nil))
		},
		"current": func(w *httptest.ResponseRecorder) {
			handler.Current(w, handlers.NewTestRequest(t, "GET", "/sessions/current", nil))
		},
	}

	for name, call := range endpoints {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			call(w)
			handlers.AssertErrorResponse(t, w, 401, "unauthorized")
		})
	}
}

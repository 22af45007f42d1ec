package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/config"
	"github.com/sentinelsec/authcore/internal/database"
	"github.com/sentinelsec/authcore/internal/handlers"
	middlewareCustom "github.com/sentinelsec/authcore/internal/middleware"
	"github.com/sentinelsec/authcore/internal/routes"
	"github.com/sentinelsec/authcore/internal/services"
	pkghttp "github.com/sentinelsec/authcore/pkg/http"
)

// SentChallenge is one captured EMAIL 2FA dispatch.
type SentChallenge struct {
	To   string
	Code string
}

// MockChallengeEmailService captures 2FA challenge emails for assertions
// instead of calling SES.
type MockChallengeEmailService struct {
	mu   sync.Mutex
	sent []SentChallenge
}

// SendTwoFactorCode records the challenge instead of delivering it.
func (m *MockChallengeEmailService) SendTwoFactorCode(ctx context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, SentChallenge{To: to, Code: code})
	return nil
}

// LastChallenge returns the most recently dispatched challenge, or nil.
func (m *MockChallengeEmailService) LastChallenge() *SentChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sent) == 0 {
		return nil
	}
	return &m.sent[len(m.sent)-1]
}

// TestServer wraps httptest.Server with the full production wiring against a
// real database, with email dispatch mocked out.
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *MockChallengeEmailService
	Config       *config.Config

	challengeStore *auth.MemoryChallengeStore
}

// NewTestServer assembles the complete HTTP stack the way cmd/api does,
// substituting a captured email sender and fast timing delays.
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			PendingTokenSecret: "test-secret-32-characters-long!!",
			PendingTokenExpiry: 5 * time.Minute,
			TOTPEncryptionKey:  bytes.Repeat([]byte{0xAB}, 32),
			TOTPIssuer:         "authcore-test",
			SweepInterval:      time.Minute,
			TimingDelayBaseMs:  1,
			TimingDelayRandMs:  0,
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			TrustedProxies: []string{},
		},
	}

	accountRepo, lockoutRepo, sessionRepo, twoFactorRepo, historyRepo, settingsRepo, auditRepo :=
		InitializeRepositories(db)

	auditService := services.NewAuditService(auditRepo, logger)
	settingsService := services.NewSettingsService(settingsRepo, logger)

	pendingTokens := auth.NewPendingTokenManager(cfg.Auth.PendingTokenSecret, cfg.Auth.PendingTokenExpiry)

	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		return nil, err
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandMs,
	})

	challengeStore := auth.NewMemoryChallengeStore(cfg.Auth.SweepInterval)
	mockEmail := &MockChallengeEmailService{}

	lockoutService := services.NewLockoutService(lockoutRepo, settingsService, auditService, logger)
	twoFactorService := services.NewTwoFactorService(twoFactorRepo, totpManager, challengeStore, mockEmail, auditService, logger)
	passwordPolicy := services.NewPasswordPolicyService(historyRepo, settingsService, logger)
	sessionService := services.NewSessionService(sessionRepo, settingsService, auditService, logger, cfg.Auth.PendingTokenExpiry)
	loginService := services.NewLoginService(
		accountRepo,
		lockoutService,
		twoFactorService,
		sessionService,
		passwordPolicy,
		pendingTokens,
		settingsService,
		auditService,
		timingDelay,
		logger,
	)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, sessionService, accountRepo, auditService, ipConfig)
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, accountRepo)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	adminHandler := handlers.NewAdminHandler(lockoutService)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(chiMiddleware.Recoverer)
	router.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, twoFactorHandler, sessionHandler, adminHandler, sessionService, accountRepo)

	server := httptest.NewServer(router)

	return &TestServer{
		Server:         server,
		DB:             db,
		EmailService:   mockEmail,
		Config:         cfg,
		challengeStore: challengeStore,
	}, nil
}

// Close shuts down the test server and its background sweep loop.
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.challengeStore != nil {
		ts.challengeStore.Stop()
	}
}

// Request makes a JSON HTTP request to the test server.
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with a session token.
func (ts *TestServer) RequestWithAuth(method, path, token string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses a JSON response body into target.
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

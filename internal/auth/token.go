package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sentinelsec/authcore/internal/models"
)

// Pending token purposes. A pending token carries a partially authenticated
// login across the 2FA or forced-password-change hand-off; it grants nothing
// beyond the right to finish that one step.
const (
	PendingPurposeTwoFactor      = "pending_2fa"
	PendingPurposePasswordChange = "pending_password_change"
)

// PendingClaims are the claims of a pending token.
type PendingClaims struct {
	Purpose   string `json:"purpose"`
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"` // the backing pending-session row
	jwt.RegisteredClaims
}

// PendingTokenManager signs and validates the short-lived JWTs handed out
// mid-login. Full sessions use opaque random tokens instead; only the
// hand-off steps are JWT-based.
type PendingTokenManager struct {
	secret []byte
	expiry time.Duration
}

// NewPendingTokenManager creates a new PendingTokenManager.
func NewPendingTokenManager(secret string, expiry time.Duration) *PendingTokenManager {
	return &PendingTokenManager{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Expiry returns the configured pending-token lifetime.
func (tm *PendingTokenManager) Expiry() time.Duration {
	return tm.expiry
}

// Generate creates a pending token bound to an account, purpose, and the
// pending session row that backs it.
func (tm *PendingTokenManager) Generate(accountID, sessionID, purpose string) (string, error) {
	now := time.Now()
	claims := &PendingClaims{
		Purpose:   purpose,
		AccountID: accountID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign pending token: %w", err)
	}

	return signed, nil
}

// Validate parses a pending token and checks it carries the expected purpose.
func (tm *PendingTokenManager) Validate(tokenString, purpose string) (*PendingClaims, error) {
	claims := &PendingClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Purpose != purpose {
		return nil, models.ErrUnauthorized
	}

	if claims.AccountID == "" || claims.SessionID == "" {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}

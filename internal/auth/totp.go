package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// TOTPSkewSteps is the accepted clock-drift window in 30-second steps on
	// either side of now.
	TOTPSkewSteps = 2

	BackupCodeLength = 8
	BackupCodeBatch  = 10
)

// TOTPManager handles TOTP secret generation, at-rest encryption, and code
// validation.
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // Issuer name for provisioning URIs
}

// NewTOTPManager creates a new TOTP manager.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// GenerateSecret creates a new TOTP key for the account and returns the
// encrypted secret, nonce, the provisioning URI, and a QR code data URL
// encoding that URI.
func (tm *TOTPManager) GenerateSecret(accountEmail string) (encrypted, nonce []byte, provisioningURI, qrDataURL string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountEmail,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err = tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to create QR code: %w", err)
	}

	qrPNG, err := qr.PNG(200)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	qrDataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrPNG)

	return encrypted, nonce, key.URL(), qrDataURL, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM.
func (tm *TOTPManager) EncryptSecret(secret []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, secret, nil)

	return ciphertext, nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret.
func (tm *TOTPManager) DecryptSecret(encrypted, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return plaintext, nil
}

// ValidateCode checks a 6-digit code against the decrypted secret, accepting
// codes up to TOTPSkewSteps time steps early or late.
func (tm *TOTPManager) ValidateCode(secret []byte, code string) (bool, error) {
	return tm.ValidateCodeAt(secret, code, time.Now())
}

// ValidateCodeAt is ValidateCode with an explicit reference time, for tests.
func (tm *TOTPManager) ValidateCodeAt(secret []byte, code string, at time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, string(secret), at, totp.ValidateOpts{
		Period:    30,
		Skew:      TOTPSkewSteps,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}
	return valid, nil
}

// GenerateCodeAt derives the rolling code for the secret at the given time.
// Used by enrollment tests and nowhere on the serving path.
func (tm *TOTPManager) GenerateCodeAt(secret []byte, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(string(secret), at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// GenerateBackupCodes generates a batch of single-use recovery codes.
// Charset excludes ambiguous characters (0/O, 1/I/L).
func GenerateBackupCodes(count int) ([]string, error) {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	codes := make([]string, count)
	buf := make([]byte, BackupCodeLength)
	for i := 0; i < count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		code := make([]byte, BackupCodeLength)
		for j, b := range buf {
			code[j] = charset[int(b)%len(charset)]
		}
		codes[i] = string(code)
	}

	return codes, nil
}

// GenerateChallengeCode returns a 6-digit numeric code for EMAIL 2FA.
func GenerateChallengeCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge code: %w", err)
	}
	n := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return fmt.Sprintf("%06d", n%1000000), nil
}

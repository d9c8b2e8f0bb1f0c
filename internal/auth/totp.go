package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const totpPeriod = 30 // seconds per time step

// TOTPManager handles TOTP secret lifecycle, at-rest encryption, and code
// validation with step-level replay tracking.
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string
	skew          uint // accepted steps either side of now
}

// NewTOTPManager creates a new TOTP manager.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewTOTPManager(encryptionKey []byte, issuer string, toleranceSteps uint) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
		skew:          toleranceSteps,
	}, nil
}

// GenerateSecretWithQR generates a new secret for enrollment.
// Returns: (encryptedSecret, nonce, plaintextSecret, qrCodeDataURL, error)
func (tm *TOTPManager) GenerateSecretWithQR(accountName string) ([]byte, []byte, string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  32,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	qrDataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage)

	return encrypted, nonce, key.Secret(), qrDataURL, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM.
// Returns: (ciphertext, nonce, error)
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

	return gcm.Seal(nil, nonce, secret, nil), nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret.
func (tm *TOTPManager) DecryptSecret(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return plaintext, nil
}

// CurrentStep returns the TOTP time step for the given instant.
func CurrentStep(at time.Time) int64 {
	return at.Unix() / totpPeriod
}

// ValidateTOTP checks a code against the secret within the tolerance window
// and reports which time step matched. Callers enforce replay prevention by
// rejecting steps at or below the credential's last accepted step.
func (tm *TOTPManager) ValidateTOTP(secret, code string, at time.Time) (int64, bool, error) {
	step := CurrentStep(at)

	for delta := -int64(tm.skew); delta <= int64(tm.skew); delta++ {
		candidate := step + delta
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(candidate*totpPeriod, 0), totp.ValidateOpts{
			Period:    totpPeriod,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return 0, false, fmt.Errorf("failed to compute TOTP: %w", err)
		}

		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return candidate, true, nil
		}
	}

	return 0, false, nil
}

// Charset for recovery codes: A-Z 2-9 excluding ambiguous 0/O/1/I/L.
const recoveryCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateRecoveryCodes generates count random codes of the given length.
func GenerateRecoveryCodes(count, length int) ([]string, error) {
	codes := make([]string, count)
	for i := 0; i < count; i++ {
		code := make([]byte, length)
		for j := 0; j < length; j++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(recoveryCharset))))
			if err != nil {
				return nil, fmt.Errorf("failed to generate recovery code: %w", err)
			}
			code[j] = recoveryCharset[n.Int64()]
		}
		codes[i] = string(code)
	}

	return codes, nil
}

// GenerateSMSCode generates a zero-padded 6-digit numeric code.
func GenerateSMSCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate SMS code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HashCode returns the hex SHA-256 of a short-lived challenge code. SMS codes
// are low-entropy and expire in minutes; a fast hash keeps the verify path
// cheap while avoiding plaintext at rest.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

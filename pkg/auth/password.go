package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for password hashing. Changing these invalidates every
// stored hash.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
)

// hexHashLen is the length of a hex-encoded scrypt hash.
const hexHashLen = scryptKeyLen * 2

// ErrInvalidCredentials is returned for every login failure. The caller must
// not learn whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// PasswordVerifier checks login attempts against a single configured
// identity, the operator account.
type PasswordVerifier struct {
	email string
	salt  string
	hash  []byte
}

// NewPasswordVerifier creates a verifier from the configured email, salt, and
// hex-encoded scrypt hash. The hash must be exactly 128 hex characters.
func NewPasswordVerifier(email, salt, hexHash string) (*PasswordVerifier, error) {
	if email == "" || salt == "" {
		return nil, errors.New("auth email and salt must be configured")
	}
	if len(hexHash) != hexHashLen {
		return nil, fmt.Errorf("password hash must be %d hex characters, got %d", hexHashLen, len(hexHash))
	}
	hash, err := hex.DecodeString(hexHash)
	if err != nil {
		return nil, fmt.Errorf("decoding password hash: %w", err)
	}
	return &PasswordVerifier{email: email, salt: salt, hash: hash}, nil
}

// HashPassword derives the scrypt hash for a password, hex encoded. Used by
// provisioning tooling and tests.
func HashPassword(password, salt string) (string, error) {
	derived, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("deriving key: %w", err)
	}
	return hex.EncodeToString(derived), nil
}

// Verify checks an email/password pair. Both the email and the derived hash
// are compared in constant time; the derivation runs even when the email does
// not match, so timing does not reveal which check failed.
func (v *PasswordVerifier) Verify(email, password string) error {
	emailOK := subtle.ConstantTimeCompare(
		[]byte(strings.ToLower(strings.TrimSpace(email))),
		[]byte(strings.ToLower(v.email))) == 1

	derived, err := scrypt.Key([]byte(password), []byte(v.salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return ErrInvalidCredentials
	}
	hashOK := subtle.ConstantTimeCompare(derived, v.hash) == 1

	if !emailOK || !hashOK {
		return ErrInvalidCredentials
	}
	return nil
}

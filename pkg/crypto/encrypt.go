// Package crypto provides credential-at-rest encryption and webhook
// signature verification for the ingress layer.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Encryption format parameters. A stored credential is the colon-separated
// string {saltHex}:{ivHex}:{tagHex}:{ciphertextHex}.
const (
	saltLen = 32
	ivLen   = 16
	tagLen  = 16
	keyLen  = 32

	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// Sentinel errors for encryption failures.
var (
	ErrEmptyMasterKey = errors.New("master encryption key is empty")
	ErrDecryptFailed  = errors.New("decryption failed")
)

// encryptedRe matches the four-hex-field storage format.
var encryptedRe = regexp.MustCompile(
	fmt.Sprintf(`^[0-9a-f]{%d}:[0-9a-f]{%d}:[0-9a-f]{%d}:[0-9a-f]+$`, saltLen*2, ivLen*2, tagLen*2))

// Encryptor encrypts and decrypts stored credentials with a process-wide
// master key. Per-secret salts mean two encryptions of the same plaintext
// never produce the same ciphertext.
type Encryptor struct {
	masterKey []byte
}

// NewEncryptor creates an Encryptor. The master key must be non-empty.
func NewEncryptor(masterKey string) (*Encryptor, error) {
	if strings.TrimSpace(masterKey) == "" {
		return nil, ErrEmptyMasterKey
	}
	return &Encryptor{masterKey: []byte(masterKey)}, nil
}

// IsEncrypted reports whether value is already in the stored-ciphertext
// format. Encrypt uses it to stay idempotent on already-encrypted input.
func IsEncrypted(value string) bool {
	return encryptedRe.MatchString(value)
}

// Encrypt encrypts plaintext into the four-hex-field format. Values that are
// already encrypted are returned unchanged.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("plaintext is empty")
	}
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	gcm, err := e.aead(salt)
	if err != nil {
		return "", err
	}

	// Seal appends the 16-byte auth tag; split it back out for storage.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt reverses Encrypt. Any tampering with the ciphertext, tag, or salt
// fails authentication and returns ErrDecryptFailed.
func (e *Encryptor) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return "", fmt.Errorf("%w: value is not in encrypted format", ErrDecryptFailed)
	}
	parts := strings.Split(value, ":")

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: bad salt encoding", ErrDecryptFailed)
	}
	iv, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad iv encoding", ErrDecryptFailed)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad tag encoding", ErrDecryptFailed)
	}
	ct, err := hex.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecryptFailed)
	}

	gcm, err := e.aead(salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// Rotate re-encrypts a stored value under a new master key.
func Rotate(value, oldKey, newKey string) (string, error) {
	oldEnc, err := NewEncryptor(oldKey)
	if err != nil {
		return "", fmt.Errorf("old key: %w", err)
	}
	newEnc, err := NewEncryptor(newKey)
	if err != nil {
		return "", fmt.Errorf("new key: %w", err)
	}
	plaintext, err := oldEnc.Decrypt(value)
	if err != nil {
		return "", err
	}
	return newEnc.Encrypt(plaintext)
}

// aead derives a per-secret key from the master key and the given salt and
// returns an AES-256-GCM instance with a 16-byte nonce.
func (e *Encryptor) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(e.masterKey, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return gcm, nil
}

package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfSalt       = "simply_ai_salt_v1"
	kdfIterations = 100000
	keyLen        = 32
)

// cipherBox encrypts and decrypts secret setting values. The key is derived
// from the process secret with PBKDF2-HMAC-SHA256 and used with AES-256-GCM.
type cipherBox struct {
	aead cipher.AEAD
}

func newCipherBox(processSecret string) (*cipherBox, error) {
	key := pbkdf2.Key([]byte(processSecret), []byte(kdfSalt), kdfIterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD: %w", err)
	}
	return &cipherBox{aead: aead}, nil
}

// encrypt seals plaintext and returns a base64 token (nonce || ciphertext).
func (c *cipherBox) encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// decrypt opens a token produced by encrypt.
func (c *cipherBox) decrypt(token string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decoding token: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", fmt.Errorf("token too short")
	}
	plaintext, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("opening token: %w", err)
	}
	return string(plaintext), nil
}

// maskKey returns the first shown characters of a key followed by "...".
func maskKey(key string, shown int) string {
	if key == "" {
		return ""
	}
	if shown <= 0 {
		shown = 8
	}
	if len(key) <= shown {
		return key + "..."
	}
	return key[:shown] + "..."
}

package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

// sealedPrefix marks message bodies written by Encrypt.
const sealedPrefix = "v1:"

// Encryptor seals message bodies at rest with AES-GCM. Bodies written before
// encryption was enabled are either Fernet tokens (readable with the legacy
// keys) or plain text, and both are returned as-is on read.
type Encryptor struct {
	aead       cipher.AEAD
	fernetKeys []*fernet.Key
}

func NewEncryptor(key string, legacyKeys []string) (*Encryptor, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("encryption key must not be empty")
	}
	// Arbitrary-length secrets are stretched to an AES-256 key.
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	var fernetKeys []*fernet.Key
	for _, raw := range append([]string{key}, legacyKeys...) {
		if fk, err := fernet.DecodeKey(strings.TrimSpace(raw)); err == nil {
			fernetKeys = append(fernetKeys, fk)
		}
	}
	return &Encryptor{aead: aead, fernetKeys: fernetKeys}, nil
}

func (e *Encryptor) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(stored string) (string, error) {
	if rest, ok := strings.CutPrefix(stored, sealedPrefix); ok {
		raw, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return "", errors.New("malformed sealed message body")
		}
		n := e.aead.NonceSize()
		if len(raw) < n {
			return "", errors.New("sealed message body too short")
		}
		plain, err := e.aead.Open(nil, raw[:n], raw[n:], nil)
		if err != nil {
			return "", errors.New("failed to decrypt message body")
		}
		return string(plain), nil
	}

	if len(e.fernetKeys) > 0 {
		if plain := fernet.VerifyAndDecrypt([]byte(stored), 0*time.Second, e.fernetKeys); plain != nil {
			return string(plain), nil
		}
	}
	return stored, nil
}

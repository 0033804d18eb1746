// Package devicecrypto contains the device-side primitives behind message
// envelopes: X25519 key wrapping and XChaCha20-Poly1305 body encryption.
// The server never holds private halves; it uses this package only to
// validate published public keys, while clients and tests use it end to end.
package devicecrypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"

	"github.com/syncflow/server/internal/models"
)

// KeySize is the byte length of X25519 keys and message data keys.
const KeySize = 32

var (
	ErrInvalidKey       = errors.New("public key must be 32 bytes of base64")
	ErrCiphertextShort  = errors.New("ciphertext too short")
	ErrEnvelopeTooShort = errors.New("wrapped key too short")
	ErrNoEnvelope       = errors.New("no envelope addressed to this device")
)

// KeyPair is a device's X25519 identity for key exchange.
type KeyPair struct {
	PublicKey  *[KeySize]byte
	PrivateKey *[KeySize]byte
}

// GenerateKeyPair creates a fresh device keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// EncodeKey renders a key for transport.
func EncodeKey(key *[KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

// ParsePublicKey decodes and validates a published public key.
func ParsePublicKey(encoded string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != KeySize {
		return nil, ErrInvalidKey
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// NewDataKey creates the symmetric key for one message body.
func NewDataKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// WrapKey seals a data key to a recipient's public key with an anonymous
// box, so only the holder of the matching private key can recover it.
func WrapKey(dataKey []byte, recipient *[KeySize]byte) (string, error) {
	sealed, err := box.SealAnonymous(nil, dataKey, recipient, rand.Reader)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// UnwrapKey recovers a data key wrapped for this keypair.
func UnwrapKey(wrapped string, pair *KeyPair) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, err
	}
	if len(sealed) < box.AnonymousOverhead {
		return nil, ErrEnvelopeTooShort
	}
	dataKey, ok := box.OpenAnonymous(nil, sealed, pair.PublicKey, pair.PrivateKey)
	if !ok {
		return nil, errors.New("unwrap failed")
	}
	return dataKey, nil
}

// EncryptBody encrypts a message body under its data key. The random nonce
// is prefixed to the ciphertext.
func EncryptBody(dataKey, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(dataKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenMessage recovers a message body using whichever envelope is addressed
// to one of the device's key ids. A message with no matching envelope is not
// an error in the protocol sense: callers surface ErrNoEnvelope as the
// decryptionFailed state and wait for a key-sync backfill to re-wrap it.
func OpenMessage(pair *KeyPair, keyIDs []string, envelopes []models.KeyEnvelope, encryptedBody string) ([]byte, error) {
	for _, env := range envelopes {
		mine := false
		for _, id := range keyIDs {
			if env.RecipientKeyID == id {
				mine = true
				break
			}
		}
		if !mine {
			continue
		}
		dataKey, err := UnwrapKey(env.WrappedKey, pair)
		if err != nil {
			return nil, err
		}
		return DecryptBody(dataKey, encryptedBody)
	}
	return nil, ErrNoEnvelope
}

// DecryptBody reverses EncryptBody.
func DecryptBody(dataKey []byte, encoded string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, ErrCiphertextShort
	}
	aead, err := chacha20poly1305.NewX(dataKey)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}

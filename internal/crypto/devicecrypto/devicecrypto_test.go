package devicecrypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncflow/server/internal/models"
)

func TestWrapUnwrapKey(t *testing.T) {
	t.Run("round trips a data key through a recipient keypair", func(t *testing.T) {
		recipient, err := GenerateKeyPair()
		require.NoError(t, err)
		dataKey, err := NewDataKey()
		require.NoError(t, err)

		wrapped, err := WrapKey(dataKey, recipient.PublicKey)
		require.NoError(t, err)

		unwrapped, err := UnwrapKey(wrapped, recipient)
		require.NoError(t, err)
		assert.Equal(t, dataKey, unwrapped)
	})

	t.Run("a different keypair cannot unwrap", func(t *testing.T) {
		recipient, err := GenerateKeyPair()
		require.NoError(t, err)
		other, err := GenerateKeyPair()
		require.NoError(t, err)
		dataKey, err := NewDataKey()
		require.NoError(t, err)

		wrapped, err := WrapKey(dataKey, recipient.PublicKey)
		require.NoError(t, err)

		_, err = UnwrapKey(wrapped, other)
		assert.Error(t, err)
	})

	t.Run("truncated envelopes are rejected", func(t *testing.T) {
		pair, err := GenerateKeyPair()
		require.NoError(t, err)
		_, err = UnwrapKey(base64.StdEncoding.EncodeToString([]byte("short")), pair)
		assert.ErrorIs(t, err, ErrEnvelopeTooShort)
	})
}

func TestEncryptDecryptBody(t *testing.T) {
	t.Run("round trips a message body", func(t *testing.T) {
		dataKey, err := NewDataKey()
		require.NoError(t, err)

		ciphertext, err := EncryptBody(dataKey, []byte("meet at noon"))
		require.NoError(t, err)
		assert.NotContains(t, ciphertext, "meet at noon")

		plaintext, err := DecryptBody(dataKey, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, "meet at noon", string(plaintext))
	})

	t.Run("identical plaintexts produce distinct ciphertexts", func(t *testing.T) {
		dataKey, err := NewDataKey()
		require.NoError(t, err)

		a, err := EncryptBody(dataKey, []byte("same"))
		require.NoError(t, err)
		b, err := EncryptBody(dataKey, []byte("same"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("tampered ciphertext fails authentication", func(t *testing.T) {
		dataKey, err := NewDataKey()
		require.NoError(t, err)

		ciphertext, err := EncryptBody(dataKey, []byte("meet at noon"))
		require.NoError(t, err)

		blob, err := base64.StdEncoding.DecodeString(ciphertext)
		require.NoError(t, err)
		blob[len(blob)-1] ^= 0x01

		_, err = DecryptBody(dataKey, base64.StdEncoding.EncodeToString(blob))
		assert.Error(t, err)
	})

	t.Run("the wrong data key fails authentication", func(t *testing.T) {
		dataKey, err := NewDataKey()
		require.NoError(t, err)
		wrongKey, err := NewDataKey()
		require.NoError(t, err)

		ciphertext, err := EncryptBody(dataKey, []byte("meet at noon"))
		require.NoError(t, err)

		_, err = DecryptBody(wrongKey, ciphertext)
		assert.Error(t, err)
	})

	t.Run("short ciphertext is rejected before decryption", func(t *testing.T) {
		dataKey, err := NewDataKey()
		require.NoError(t, err)
		_, err = DecryptBody(dataKey, base64.StdEncoding.EncodeToString([]byte("tiny")))
		assert.ErrorIs(t, err, ErrCiphertextShort)
	})
}

func TestOpenMessage(t *testing.T) {
	seal := func(t *testing.T, body string, recipients map[string]*[KeySize]byte) (string, []models.KeyEnvelope) {
		t.Helper()
		dataKey, err := NewDataKey()
		require.NoError(t, err)
		ciphertext, err := EncryptBody(dataKey, []byte(body))
		require.NoError(t, err)
		var envelopes []models.KeyEnvelope
		for keyID, pub := range recipients {
			wrapped, err := WrapKey(dataKey, pub)
			require.NoError(t, err)
			envelopes = append(envelopes, models.KeyEnvelope{RecipientKeyID: keyID, WrappedKey: wrapped})
		}
		return ciphertext, envelopes
	}

	t.Run("opens the envelope addressed to the device", func(t *testing.T) {
		mine, err := GenerateKeyPair()
		require.NoError(t, err)
		other, err := GenerateKeyPair()
		require.NoError(t, err)

		ciphertext, envelopes := seal(t, "meet at noon", map[string]*[KeySize]byte{
			"other-key": other.PublicKey,
			"my-key":    mine.PublicKey,
		})

		plaintext, err := OpenMessage(mine, []string{"my-key"}, envelopes, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, "meet at noon", string(plaintext))
	})

	t.Run("accepts any of the device's key ids", func(t *testing.T) {
		mine, err := GenerateKeyPair()
		require.NoError(t, err)

		ciphertext, envelopes := seal(t, "running late", map[string]*[KeySize]byte{
			"group-key": mine.PublicKey,
		})

		plaintext, err := OpenMessage(mine, []string{"device-key", "group-key"}, envelopes, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, "running late", string(plaintext))
	})

	t.Run("reports a missing envelope distinctly", func(t *testing.T) {
		mine, err := GenerateKeyPair()
		require.NoError(t, err)
		other, err := GenerateKeyPair()
		require.NoError(t, err)

		ciphertext, envelopes := seal(t, "meet at noon", map[string]*[KeySize]byte{
			"other-key": other.PublicKey,
		})

		_, err = OpenMessage(mine, []string{"my-key"}, envelopes, ciphertext)
		assert.ErrorIs(t, err, ErrNoEnvelope)
	})

	t.Run("an envelope wrapped for someone else fails to unwrap", func(t *testing.T) {
		mine, err := GenerateKeyPair()
		require.NoError(t, err)
		other, err := GenerateKeyPair()
		require.NoError(t, err)

		ciphertext, envelopes := seal(t, "meet at noon", map[string]*[KeySize]byte{
			"my-key": other.PublicKey,
		})

		_, err = OpenMessage(mine, []string{"my-key"}, envelopes, ciphertext)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoEnvelope)
	})
}

func TestParsePublicKey(t *testing.T) {
	t.Run("accepts an encoded generated key", func(t *testing.T) {
		pair, err := GenerateKeyPair()
		require.NoError(t, err)

		parsed, err := ParsePublicKey(EncodeKey(pair.PublicKey))
		require.NoError(t, err)
		assert.Equal(t, pair.PublicKey, parsed)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		cases := []string{
			"",
			"not base64!!!",
			base64.StdEncoding.EncodeToString([]byte("too short")),
			base64.StdEncoding.EncodeToString(make([]byte, 64)),
		}
		for _, encoded := range cases {
			_, err := ParsePublicKey(encoded)
			assert.ErrorIs(t, err, ErrInvalidKey)
		}
	})
}

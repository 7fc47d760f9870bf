package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSealOpenString(t *testing.T) {
	enc, err := NewAESEncryptor([]byte("0123456789abcdef"))
	require.NoError(t, err)

	sealed, err := SealString(enc, "hypertension follow-up")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, "hypertension")

	plain, err := OpenString(enc, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hypertension follow-up", plain)

	legacy, err := OpenString(enc, "written before encryption")
	require.NoError(t, err)
	assert.Equal(t, "written before encryption", legacy)

	_, err = OpenString(nil, sealed)
	assert.ErrorIs(t, err, ErrDecryption)

	unchanged, err := SealString(nil, "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", unchanged)
}

func TestNewAESEncryptorRejectsBadKey(t *testing.T) {
	_, err := NewAESEncryptor([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	_, err := h.Hash("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NoError(t, h.Compare(hash, "correct horse"))
	assert.ErrorIs(t, h.Compare(hash, "wrong horse"), ErrPasswordMismatch)
}

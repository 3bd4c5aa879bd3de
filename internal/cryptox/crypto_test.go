package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveKey(password, salt)
	key2 := DeriveKey(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}

	expectedHex := "34f7a1c64df63ab1ad5b5ee06e64db5713b35f81839823304db63e8e5e6a6a39"
	if hex.EncodeToString(key1) != expectedHex {
		t.Errorf("expected %s, got %s", expectedHex, hex.EncodeToString(key1))
	}
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveKey(password, Salt("acme"))
	key2 := DeriveKey(password, Salt("globex"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
	assert.Len(t, Salt("acme"), 16)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)

	s1, err := Seal(key, []byte(`{"token":"abc"}`))
	require.NoError(t, err)
	s2, err := Seal(key, []byte(`{"token":"abc"}`))
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2, "nonce must differ per call")

	plain, err := Open(key, s1)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"abc"}`, string(plain))
}

func TestOpen_Rejects(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	sealed, err := Seal(key, []byte("secret"))
	require.NoError(t, err)

	_, err = Open(bytes.Repeat([]byte{8}, 32), sealed)
	require.Error(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = Open(key, sealed)
	require.Error(t, err)

	_, err = Open(key, []byte{1, 2})
	require.ErrorIs(t, err, ErrSealedTooShort)

	_, err = Seal([]byte("short"), []byte("x"))
	require.Error(t, err)
}

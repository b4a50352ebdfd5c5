package security

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipher_SealOpen(t *testing.T) {
	c, err := NewCipherFromBase64(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	require.NoError(t, err)

	enc, err := c.Encrypt("Atzr|refresh-token")
	require.NoError(t, err)
	require.NotContains(t, enc, "refresh")

	again, err := c.Encrypt("Atzr|refresh-token")
	require.NoError(t, err)
	require.NotEqual(t, enc, again)

	pt, err := c.Decrypt(enc)
	require.NoError(t, err)
	require.Equal(t, "Atzr|refresh-token", pt)
}

func TestCipher_RejectsBadInput(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	require.Error(t, err)

	_, err = NewCipherFromBase64("%%%")
	require.Error(t, err)

	c, err := NewCipher(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	_, err = c.Decrypt("AAAA")
	require.Error(t, err)

	other, err := NewCipher(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)
	enc, err := other.Encrypt("x")
	require.NoError(t, err)
	_, err = c.Decrypt(enc)
	require.Error(t, err)
}

package cardcrypto

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(bytes.Repeat([]byte{0x42}, KeySize))
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, pan := range []string{"4539578763621486", "0000000000000000", "9999999999999999"} {
		ct, err := c.Encrypt(pan)
		require.NoError(t, err)
		assert.NotContains(t, ct, pan)

		got, err := c.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, pan, got)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c := newTestCipher(t)

	first, err := c.Encrypt("4539578763621486")
	require.NoError(t, err)
	second, err := c.Encrypt("4539578763621486")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestEncryptRejectsBadPlaintext(t *testing.T) {
	c := newTestCipher(t)

	for _, in := range []string{"", "123", "45395787636214861", "4539-5787-6362-14", "453957876362148a"} {
		_, err := c.Encrypt(in)
		assert.ErrorIs(t, err, ErrInvalidPlaintext, "input %q", in)
	}
}

func TestDecryptFailuresAreOpaque(t *testing.T) {
	c := newTestCipher(t)
	ct, err := c.Encrypt("4539578763621486")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	other, err := NewCipher(bytes.Repeat([]byte{0x07}, KeySize))
	require.NoError(t, err)

	cases := map[string]struct {
		cipher *Cipher
		input  string
	}{
		"tampered tag":  {c, tampered},
		"not base64":    {c, "%%%not-base64%%%"},
		"too short":     {c, base64.StdEncoding.EncodeToString([]byte("short"))},
		"wrong key":     {other, ct},
		"empty payload": {c, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.cipher.Decrypt(tc.input)
			assert.Equal(t, ErrIntegrity, err)
		})
	}
}

func TestDecryptRejectsNonPANPlaintext(t *testing.T) {
	c := newTestCipher(t)

	nonce := make([]byte, nonceSize)
	sealed := c.aead.Seal(nonce, nonce, []byte("not-a-card"), nil)

	_, err := c.Decrypt(base64.StdEncoding.EncodeToString(sealed))
	assert.Equal(t, ErrIntegrity, err)
}

func TestFingerprintIsDeterministicPerKey(t *testing.T) {
	c := newTestCipher(t)
	other, err := NewCipher(bytes.Repeat([]byte{0x07}, KeySize))
	require.NoError(t, err)

	assert.Equal(t, c.Fingerprint("4539578763621486"), c.Fingerprint("4539578763621486"))
	assert.NotEqual(t, c.Fingerprint("4539578763621486"), c.Fingerprint("4000000000000002"))
	assert.NotEqual(t, c.Fingerprint("4539578763621486"), other.Fingerprint("4539578763621486"))
}

func TestNewCipherRejectsShortKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrKey)
}

func TestDecodeKey(t *testing.T) {
	key, err := NewEphemeralKey()
	require.NoError(t, err)

	decoded, err := DecodeKey(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	_, err = DecodeKey(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.ErrorIs(t, err, ErrKey)
}

func TestMaskPAN(t *testing.T) {
	assert.Equal(t, "**** **** **** 1486", MaskPAN("4539578763621486"))
	assert.Equal(t, "****", MaskPAN("12"))
}

package totp

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rfcSecret is the shared test secret from RFC 4226 / RFC 6238.
var rfcSecret = base32.StdEncoding.WithPadding(base32.NoPadding).
	EncodeToString([]byte("12345678901234567890"))

func TestVerifyRFCVector(t *testing.T) {
	// Time step 1 (t=59s) produces HOTP counter 1, code 287082 per RFC 4226.
	ok, err := Verify(rfcSecret, "287082", time.Unix(59, 0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyAcceptsAdjacentWindow(t *testing.T) {
	// Counter 1's code must still verify one period later via the skew window.
	ok, err := Verify(rfcSecret, "287082", time.Unix(59+Period, 0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsWrongCode(t *testing.T) {
	ok, err := Verify(rfcSecret, "000000", time.Unix(59, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsWrongLength(t *testing.T) {
	ok, err := Verify(rfcSecret, "28708", time.Unix(59, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyBadSecret(t *testing.T) {
	_, err := Verify("not-base32!!", "123456", time.Now())
	require.Error(t, err)
}

func TestGenerateSecretLengthAndCharset(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	// 20 raw bytes encode to 32 base32 characters without padding.
	assert.Len(t, secret, 32)
	assert.NotContains(t, secret, "=")
}

func TestProvisionURI(t *testing.T) {
	uri := ProvisionURI("BaseCRM", "a@x.com", "SECRET")
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/BaseCRM:a%40x.com?"))
	assert.Contains(t, uri, "secret=SECRET")
	assert.Contains(t, uri, "issuer=BaseCRM")
	assert.Contains(t, uri, "digits=6")
	assert.Contains(t, uri, "period=30")
}

func TestFormatManualKey(t *testing.T) {
	assert.Equal(t, "ABCD EFGH IJKL", FormatManualKey("ABCDEFGHIJKL"))
	assert.Equal(t, "ABC", FormatManualKey("ABC"))
	assert.Equal(t, "", FormatManualKey(""))
}

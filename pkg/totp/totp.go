package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RFC 6238 parameters used by every mainstream authenticator app.
const (
	secretBytes = 20
	Digits      = 6
	Period      = 30
	skew        = 1
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh random secret in base32 form, suitable for
// provisioning URIs and manual entry.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI encoding issuer, account and secret
// for QR rendering on the client.
func ProvisionURI(issuer, account, secret string) string {
	// PathEscape leaves "@" alone, but authenticator apps expect the
	// account's address fully percent-encoded in the label.
	account = strings.ReplaceAll(url.PathEscape(account), "@", "%40")
	label := url.PathEscape(issuer) + ":" + account

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(Period))
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// FormatManualKey groups the secret in blocks of four characters for hand
// entry into an authenticator app.
func FormatManualKey(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Verify checks a candidate code against the secret over the current time
// window plus or minus one step. The code must already be normalized to
// exactly six digits; comparison is constant time.
func Verify(secret, code string, now time.Time) (bool, error) {
	if len(code) != Digits {
		return false, nil
	}

	raw, err := b32.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return false, fmt.Errorf("decode totp secret: %w", err)
	}
	if len(raw) == 0 {
		return false, errors.New("empty totp secret")
	}

	baseCounter := now.Unix() / Period
	for step := int64(-skew); step <= skew; step++ {
		counter := baseCounter + step
		if counter < 0 {
			continue
		}
		generated := hotp(raw, counter)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(code)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

func hotp(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	code := bin % 1000000
	return fmt.Sprintf("%06d", code)
}

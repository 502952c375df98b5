// Package otp wraps RFC 6238 TOTP generation for the login tree's
// two-factor material: computing codes from a saved otpKey secret and
// normalizing secrets a user pastes in.
package otp

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	edgecodec "github.com/kindlyrobotics/edge-login-core/internal/codec"
)

// Period and Digits match the project's historical TOTP configuration:
// a 30-second step and 6-digit codes.
const (
	Period = 30
	Digits = 6
)

// FixOtpKey normalizes a base32 TOTP secret: upper-cases it and strips
// the padding and whitespace a user might paste in.
func FixOtpKey(key string) string {
	key = strings.ToUpper(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, " ", "")
	return strings.TrimRight(key, "=")
}

// TOTP computes the current time-step code for a base32 otpKey secret.
func TOTP(base32Key string) (string, error) {
	return totp.GenerateCode(FixOtpKey(base32Key), time.Now())
}

// Validate checks a user-supplied code against a base32 otpKey secret,
// allowing the default one-step skew.
func Validate(base32Key, code string) bool {
	ok, err := totp.ValidateCustom(code, FixOtpKey(base32Key), time.Now(), totp.ValidateOpts{
		Period:    Period,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateSecret returns a fresh random base32 otpKey secret.
func GenerateSecret(randomBytes []byte) string {
	return edgecodec.Base32Encode(randomBytes)
}

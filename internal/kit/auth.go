package kit

import (
	"context"
	"fmt"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
	"github.com/kindlyrobotics/edge-login-core/internal/codec"
	"github.com/kindlyrobotics/edge-login-core/internal/loginerr"
	"github.com/kindlyrobotics/edge-login-core/internal/logintree"
	"github.com/kindlyrobotics/edge-login-core/internal/otp"
	"github.com/kindlyrobotics/edge-login-core/internal/scrypt"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
)

// loginRequest is the body of every authenticated auth-server call.
// Exactly one of LoginID+LoginAuth or UserID+PasswordAuth identifies
// the caller, except for the recovery and PIN methods, which present
// their own derived id/auth pairs.
type loginRequest struct {
	LoginID       string   `json:"loginId,omitempty"`
	LoginAuth     string   `json:"loginAuth,omitempty"`
	UserID        string   `json:"userId,omitempty"`
	PasswordAuth  string   `json:"passwordAuth,omitempty"`
	Pin2ID        string   `json:"pin2Id,omitempty"`
	Pin2Auth      string   `json:"pin2Auth,omitempty"`
	Recovery2ID   string   `json:"recovery2Id,omitempty"`
	Recovery2Auth []string `json:"recovery2Auth,omitempty"`

	Otp         string `json:"otp,omitempty"`
	VoucherID   string `json:"voucherId,omitempty"`
	VoucherAuth string `json:"voucherAuth,omitempty"`

	DeviceDescription string      `json:"deviceDescription,omitempty"`
	Data              interface{} `json:"data,omitempty"`
}

// NormalizeUsername is re-exported here so callers of this package
// never need to import the stash package just to clean an input name.
func NormalizeUsername(username string) string {
	return stash.NormalizeUsername(username)
}

// userIDSnrp is the fixed scrypt cost used to derive a root login's
// identity from its username. These parameters are shared by every
// client, so the same username always hashes to the same userId.
var userIDSnrp = &box.EdgeSnrp{
	Salt: mustHex("b5865ffb9fa7b3bfe4b2384d47ce831ee22a4a9d5c34c7ef7d21467cc758f81b"),
	N:    16384,
	R:    1,
	P:    1,
}

func mustHex(s string) []byte {
	b, err := codec.Base16Decode(s)
	if err != nil {
		panic(err)
	}
	return b
}

// HashUsername derives the 32-byte root identity for a username:
// scrypt over the normalized name with the fixed shared parameters,
// serialized through the session's scrypt queue.
func (sess *Session) HashUsername(ctx context.Context, username string) ([]byte, error) {
	name := NormalizeUsername(username)
	id, err := scrypt.DeriveScryptKey(ctx, sess.Scrypt, []byte(name), userIDSnrp, 32)
	if err != nil {
		return nil, fmt.Errorf("kit: hash username: %w", err)
	}
	return id, nil
}

// MakeAuthJson picks the strongest authentication method a login node
// offers: loginAuth when present, passwordAuth otherwise. The TOTP code
// is attached whenever the node carries an otpKey.
func MakeAuthJson(login logintree.LoginTree) (loginRequest, error) {
	var req loginRequest

	if login.OtpKey != "" {
		code, err := otp.TOTP(login.OtpKey)
		if err != nil {
			return loginRequest{}, fmt.Errorf("kit: compute otp: %w", err)
		}
		req.Otp = code
	}

	switch {
	case login.LoginAuth != nil:
		req.LoginID = login.LoginID
		req.LoginAuth = codec.Base64Encode(login.LoginAuth)
	case login.PasswordAuth != nil:
		req.UserID = login.UserID
		req.PasswordAuth = codec.Base64Encode(login.PasswordAuth)
	default:
		return loginRequest{}, fmt.Errorf("kit: %w", loginerr.ErrNoAuth)
	}

	return req, nil
}

// LoginOptions carries the per-call extras a login method accepts.
type LoginOptions struct {
	// Otp is either a short user-typed code (digits, fewer than 16) or
	// a full base32 TOTP secret.
	Otp string

	// OtpKey overrides the stash's saved otpKey when set.
	OtpKey string
}

// GetStashOtp resolves the OTP code to attach to a server call. A short
// all-digit Otp value is a code the user typed and goes out verbatim;
// anything longer is treated as a base32 secret to run TOTP over. With
// no per-call value, the stash's saved otpKey is used when present.
func GetStashOtp(s stash.LoginStash, opts LoginOptions) (string, error) {
	if opts.Otp != "" {
		if len(opts.Otp) < 16 && isDigits(opts.Otp) {
			return opts.Otp, nil
		}
		return otp.TOTP(opts.Otp)
	}
	if opts.OtpKey != "" {
		return otp.TOTP(opts.OtpKey)
	}
	if s.OtpKey != "" {
		return otp.TOTP(s.OtpKey)
	}
	return "", nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

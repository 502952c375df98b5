// Package codec bundles the byte/text codecs the login tree's wire and
// disk formats use: base16, base32, base58, base64, and utf8.
package codec

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"

	"github.com/mr-tron/base58"
)

// Base64 encodes/decodes standard base64, the wire format for boxes
// and keys throughout LoginStash/LoginReply.
func Base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func Base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// Base16 (hex) is used for fingerprints and short display ids.
func Base16Encode(b []byte) string { return hex.EncodeToString(b) }

func Base16Decode(s string) ([]byte, error) { return hex.DecodeString(s) }

// Base58 encodes the root stash filename, logins/<base58(loginId)>.json.
func Base58Encode(b []byte) string { return base58.Encode(b) }

func Base58Decode(s string) ([]byte, error) { return base58.Decode(s) }

// Base32 encodes/decodes the otpKey secret (RFC 4648, no padding),
// matching typical TOTP secret representation.
func Base32Encode(b []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}

func Base32Decode(s string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
}

// Utf8Parse/Utf8Stringify are the project's names for the trivial
// UTF-8 <-> []byte conversions used when a box decrypts to text.
func Utf8Parse(s string) []byte { return []byte(s) }

func Utf8Stringify(b []byte) string { return string(b) }

/*
Package box implements EdgeBox, the authenticated symmetric-encryption
envelope used throughout the login tree: AES-256-CBC for
confidentiality, HMAC-SHA256 for integrity, PKCS#7 padding, and a
random IV per box. It also carries EdgeSnrp, the scrypt parameter
record persisted alongside every scrypt-derived secret.

ALGORITHM:
  - Encrypt-then-MAC: ciphertext = AES-CBC(key, iv, pkcs7(plaintext)),
    then HMAC-SHA256(key, iv || ciphertext) authenticates both.
  - Decrypt verifies the MAC before touching the cipher, so a
    tampered box never reaches AES-CBC.

A box is a persisted artifact with a fixed wire shape, so the cipher
suite is part of the format rather than an app-level choice.
*/
package box

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of an EdgeBox encryption key (256 bits), the
// size a loginKey, loginAuth, or passwordAuth is generated at.
const KeySize = 32

const ivSize = 16

const algorithmTag = "aes-cbc-hmac-sha256"

// EdgeBox is the on-disk/wire envelope: ciphertext, IV, and an
// algorithm tag, always algorithmTag for boxes this module produces.
type EdgeBox struct {
	Algorithm  string `json:"encryptionType"`
	IV         []byte `json:"iv_hex"`
	Ciphertext []byte `json:"data_base64"`
	MAC        []byte `json:"mac"`
}

// EdgeSnrp carries scrypt parameters persisted verbatim on disk and
// over the wire alongside any scrypt-derived secret.
type EdgeSnrp struct {
	Salt []byte `json:"salt_hex"`
	N    int    `json:"n"`
	R    int    `json:"r"`
	P    int    `json:"p"`
}

// GenerateKey returns a fresh random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("box: generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under key, producing an EdgeBox.
func Encrypt(key, plaintext []byte) (*EdgeBox, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("box: invalid key size: expected %d, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("box: new cipher: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("box: generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return &EdgeBox{
		Algorithm:  algorithmTag,
		IV:         iv,
		Ciphertext: ciphertext,
		MAC:        macOf(key, iv, ciphertext),
	}, nil
}

// Decrypt opens an EdgeBox under key, returning the plaintext bytes.
// Returns an error, never a partial result, if the MAC does not verify
// or the box is malformed.
func Decrypt(eb *EdgeBox, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("box: invalid key size: expected %d, got %d", KeySize, len(key))
	}
	if len(eb.IV) != ivSize {
		return nil, fmt.Errorf("box: invalid iv size")
	}
	if len(eb.Ciphertext)%aes.BlockSize != 0 || len(eb.Ciphertext) == 0 {
		return nil, fmt.Errorf("box: invalid ciphertext length")
	}

	wantMAC := macOf(key, eb.IV, eb.Ciphertext)
	if subtle.ConstantTimeCompare(wantMAC, eb.MAC) != 1 {
		return nil, fmt.Errorf("box: mac verification failed")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("box: new cipher: %w", err)
	}

	padded := make([]byte, len(eb.Ciphertext))
	cipher.NewCBCDecrypter(block, eb.IV).CryptBlocks(padded, eb.Ciphertext)

	return pkcs7Unpad(padded)
}

// DecryptText is Decrypt followed by a UTF-8 interpretation, used for
// boxes that carry plaintext strings (e.g. pin2TextBox).
func DecryptText(eb *EdgeBox, key []byte) (string, error) {
	b, err := Decrypt(eb, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func macOf(key, iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("box: empty padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("box: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("box: invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}

// DeriveKey derives a key from a master key using HKDF-SHA256, giving
// domain separation when one key must serve several purposes: the
// recovery flow uses it to split the question2Box key off recovery2Key.
func DeriveKey(masterKey, salt, info []byte, keyLen int) ([]byte, error) {
	if keyLen > 255*32 {
		return nil, fmt.Errorf("box: requested key length too large")
	}

	kdf := hkdf.New(sha256.New, masterKey, salt, info)
	derived := make([]byte, keyLen)
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("box: derive key: %w", err)
	}
	return derived, nil
}

// HMACSHA256 is the bare keyed-hash primitive used for the pin2/recovery2
// id and auth derivations and the legacy BitID infoKey.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// Package stash implements the on-disk LoginStash and its store: load,
// save, and delete the encrypted login tree, keyed by a filename
// derived from the root node's identity.
package stash

import (
	"strings"
	"time"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
)

// NormalizeUsername lower-cases and trims a username so every derived
// identity (userId, stash filename, pin2Id) is stable no matter how the
// user typed it.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// LoginStash is the still-encrypted, on-disk representation of a
// login node. The root has AppID == "" and a non-empty Username; no
// descendant has a username.
type LoginStash struct {
	AppID    string `json:"appId"`
	LoginID  string `json:"loginId"` // base64 of 32 random bytes
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"` // root only

	Created   time.Time `json:"created"`
	LastLogin time.Time `json:"lastLogin"`

	// 2-factor
	OtpKey       string    `json:"otpKey,omitempty"`
	OtpResetDate time.Time `json:"otpResetDate,omitempty"`
	OtpTimeout   int       `json:"otpTimeout,omitempty"`
	VoucherID    string    `json:"voucherId,omitempty"`
	VoucherAuth  string    `json:"voucherAuth,omitempty"`

	// Envelope material
	LoginAuthBox     *box.EdgeBox  `json:"loginAuthBox,omitempty"`
	ParentBox        *box.EdgeBox  `json:"parentBox,omitempty"`
	PasswordAuthBox  *box.EdgeBox  `json:"passwordAuthBox,omitempty"`
	PasswordAuthSnrp *box.EdgeSnrp `json:"passwordAuthSnrp,omitempty"`
	PasswordBox      *box.EdgeBox  `json:"passwordBox,omitempty"`
	PasswordKeySnrp  *box.EdgeSnrp `json:"passwordKeySnrp,omitempty"`
	Pin2TextBox      *box.EdgeBox  `json:"pin2TextBox,omitempty"`

	// Derived-key caches, stored plaintext after the server-sent box
	// that produced them has been decrypted once.
	Pin2Key      string `json:"pin2Key,omitempty"`      // base64
	Recovery2Key string `json:"recovery2Key,omitempty"` // base64

	// Wallet material
	KeyBoxes    []*box.EdgeBox `json:"keyBoxes,omitempty"`
	MnemonicBox *box.EdgeBox   `json:"mnemonicBox,omitempty"`
	RootKeyBox  *box.EdgeBox   `json:"rootKeyBox,omitempty"`
	SyncKeyBox  *box.EdgeBox   `json:"syncKeyBox,omitempty"`

	ChildStashes []LoginStash `json:"children,omitempty"`
}

// Children implements tree.Node[LoginStash].
func (s LoginStash) Children() []LoginStash { return s.ChildStashes }

// WithChildren implements tree.Node[LoginStash]: returns a copy of s
// with its children replaced.
func (s LoginStash) WithChildren(children []LoginStash) LoginStash {
	s.ChildStashes = children
	return s
}

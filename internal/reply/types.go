// Package reply implements LoginReply and its reconciler,
// ApplyLoginReply: the only component allowed to write network-sourced
// data into a LoginStash, and only through a fixed allowlist of fields.
package reply

import (
	"time"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
)

// LoginReply is the server's response to /v2/login and /v2/login/create:
// a node's freshly-issued or freshly-synced envelope material, plus the
// one-shot pin2KeyBox/recovery2KeyBox the server sends only once per
// rotation. Fields outside the reconciler's allowlist (VoucherID,
// VoucherAuth, the method-specific boxes) still decode here since the
// wire reply carries them, but ApplyLoginReply never copies them into
// a stash.
type LoginReply struct {
	AppID   string    `json:"appId"`
	Created time.Time `json:"created"`
	LoginID string    `json:"loginId"`
	UserID  string    `json:"userId,omitempty"`

	OtpKey       string    `json:"otpKey,omitempty"`
	OtpResetDate time.Time `json:"otpResetDate,omitempty"`
	OtpTimeout   int       `json:"otpTimeout,omitempty"`

	LoginAuthBox     *box.EdgeBox  `json:"loginAuthBox,omitempty"`
	ParentBox        *box.EdgeBox  `json:"parentBox,omitempty"`
	PasswordAuthBox  *box.EdgeBox  `json:"passwordAuthBox,omitempty"`
	PasswordAuthSnrp *box.EdgeSnrp `json:"passwordAuthSnrp,omitempty"`
	PasswordBox      *box.EdgeBox  `json:"passwordBox,omitempty"`
	PasswordKeySnrp  *box.EdgeSnrp `json:"passwordKeySnrp,omitempty"`
	Pin2TextBox      *box.EdgeBox  `json:"pin2TextBox,omitempty"`

	// Pin2KeyBox/Recovery2KeyBox are one-shot: the server sends the
	// freshly (re)generated key exactly once, wrapped under loginKey.
	// The client decrypts it and persists the plaintext bytes as
	// stash.Pin2Key/Recovery2Key; the boxes themselves are never
	// written to disk.
	Pin2KeyBox      *box.EdgeBox `json:"pin2KeyBox,omitempty"`
	Recovery2KeyBox *box.EdgeBox `json:"recovery2KeyBox,omitempty"`

	// Pin2Box and Recovery2Box wrap the node's loginKey under the
	// pin2Key/recovery2Key, and Question2Box carries the recovery
	// question set. They exist so the PIN and recovery login methods
	// can work from the reply; like the voucher fields below, they are
	// decode-only and never reach a stash.
	Pin2Box      *box.EdgeBox `json:"pin2Box,omitempty"`
	Recovery2Box *box.EdgeBox `json:"recovery2Box,omitempty"`
	Question2Box *box.EdgeBox `json:"question2Box,omitempty"`

	MnemonicBox *box.EdgeBox `json:"mnemonicBox,omitempty"`
	RootKeyBox  *box.EdgeBox `json:"rootKeyBox,omitempty"`
	SyncKeyBox  *box.EdgeBox `json:"syncKeyBox,omitempty"`

	KeyBoxes []*box.EdgeBox `json:"keyBoxes,omitempty"`

	Children []LoginReply `json:"children,omitempty"`

	// VoucherID/VoucherAuth ride along on an OtpError response, not a
	// successful LoginReply; kept here only so a reply that happens to
	// carry them decodes without error. Not in the allowlist.
	VoucherID   string `json:"voucherId,omitempty"`
	VoucherAuth string `json:"voucherAuth,omitempty"`
}

// Package kit implements the coordinated update protocol for the login
// tree: building per-method server requests, running the server login
// loop, and applying login kits — a mutation bundle carrying a server
// payload, a stash delta, and a login delta — to server, memory, and
// disk in that order.
package kit

import (
	"time"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
	"github.com/kindlyrobotics/edge-login-core/internal/logintree"
	"github.com/kindlyrobotics/edge-login-core/internal/scrypt"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
	"github.com/kindlyrobotics/edge-login-core/internal/transport"
	"github.com/kindlyrobotics/edge-login-core/internal/wallet"
	"github.com/kindlyrobotics/edge-login-core/internal/xlog"
)

var log = xlog.New("Kit")

// VoucherNotifier is the optional side channel told when a login
// attempt captures a fresh device voucher, so the account owner can
// approve or deny it from elsewhere. A nil value disables notification.
type VoucherNotifier interface {
	NotifyPendingVoucher(username, deviceDescription string) error
}

// Session bundles the collaborators every kit operation needs: the
// auth-server client, the stash store, and the serialized scrypt queue.
type Session struct {
	Fetch    transport.Fetcher
	Store    *stash.Store
	Scrypt   *scrypt.Queue
	Vouchers VoucherNotifier

	// DeviceDescription is attached to login requests when non-empty.
	DeviceDescription string

	// ScryptBenchMs and ScryptTargetMs feed the parameter chooser when
	// fresh password material is generated. A zero ScryptBenchMs selects
	// the fixed worst-case parameters.
	ScryptBenchMs  int
	ScryptTargetMs int
}

// LoginKit is a mutation bundle applied per node: a server payload
// POSTed (or DELETEd) to ServerPath, plus the stash and login deltas
// that keep disk and memory consistent with what the server accepted.
type LoginKit struct {
	LoginID      string
	ServerMethod string // "POST" or "DELETE"; empty means POST
	ServerPath   string
	Server       interface{}
	Stash        StashDelta
	Login        LoginDelta
}

// StashDelta is a partial LoginStash. Pointer fields distinguish
// "leave unchanged" (nil) from "set to this value" — a pointer to the
// zero value clears the field, the same convention the profile-update
// request types use for nullable columns.
type StashDelta struct {
	OtpKey       *string
	OtpResetDate *time.Time
	OtpTimeout   *int
	VoucherID    *string
	VoucherAuth  *string

	// Box fields are already pointer-typed on LoginStash, so nil here
	// simply means "leave unchanged"; kits never need to delete a box.
	LoginAuthBox     *box.EdgeBox
	ParentBox        *box.EdgeBox
	PasswordAuthBox  *box.EdgeBox
	PasswordAuthSnrp *box.EdgeSnrp
	PasswordBox      *box.EdgeBox
	PasswordKeySnrp  *box.EdgeSnrp
	Pin2TextBox      *box.EdgeBox

	Pin2Key      *string
	Recovery2Key *string

	// KeyBoxes and Children concatenate onto the existing lists rather
	// than replacing them.
	KeyBoxes []*box.EdgeBox
	Children []stash.LoginStash
}

// LoginDelta is the in-memory counterpart of StashDelta.
type LoginDelta struct {
	OtpKey       *string
	OtpResetDate *time.Time
	OtpTimeout   *int
	Pin          *string
	Pin2Key      *[]byte
	Recovery2Key *[]byte
	PasswordAuth *[]byte

	// KeyInfos merge through wallet-id deduplication; Children concatenate.
	KeyInfos []wallet.EdgeWalletInfo
	Children []logintree.LoginTree
}

// applyStashDelta shallow-merges d into s, concatenating the list fields.
func applyStashDelta(s stash.LoginStash, d StashDelta) stash.LoginStash {
	if d.OtpKey != nil {
		s.OtpKey = *d.OtpKey
	}
	if d.OtpResetDate != nil {
		s.OtpResetDate = *d.OtpResetDate
	}
	if d.OtpTimeout != nil {
		s.OtpTimeout = *d.OtpTimeout
	}
	if d.VoucherID != nil {
		s.VoucherID = *d.VoucherID
	}
	if d.VoucherAuth != nil {
		s.VoucherAuth = *d.VoucherAuth
	}
	if d.LoginAuthBox != nil {
		s.LoginAuthBox = d.LoginAuthBox
	}
	if d.ParentBox != nil {
		s.ParentBox = d.ParentBox
	}
	if d.PasswordAuthBox != nil {
		s.PasswordAuthBox = d.PasswordAuthBox
	}
	if d.PasswordAuthSnrp != nil {
		s.PasswordAuthSnrp = d.PasswordAuthSnrp
	}
	if d.PasswordBox != nil {
		s.PasswordBox = d.PasswordBox
	}
	if d.PasswordKeySnrp != nil {
		s.PasswordKeySnrp = d.PasswordKeySnrp
	}
	if d.Pin2TextBox != nil {
		s.Pin2TextBox = d.Pin2TextBox
	}
	if d.Pin2Key != nil {
		s.Pin2Key = *d.Pin2Key
	}
	if d.Recovery2Key != nil {
		s.Recovery2Key = *d.Recovery2Key
	}
	if len(d.KeyBoxes) > 0 {
		s.KeyBoxes = append(append([]*box.EdgeBox{}, s.KeyBoxes...), d.KeyBoxes...)
	}
	if len(d.Children) > 0 {
		s.ChildStashes = append(append([]stash.LoginStash{}, s.ChildStashes...), d.Children...)
	}
	return s
}

// applyLoginDelta shallow-merges d into t, merging KeyInfos through
// wallet-id deduplication and concatenating children.
func applyLoginDelta(t logintree.LoginTree, d LoginDelta) logintree.LoginTree {
	if d.OtpKey != nil {
		t.OtpKey = *d.OtpKey
	}
	if d.OtpResetDate != nil {
		t.OtpResetDate = *d.OtpResetDate
	}
	if d.OtpTimeout != nil {
		t.OtpTimeout = *d.OtpTimeout
	}
	if d.Pin != nil {
		t.Pin = *d.Pin
	}
	if d.Pin2Key != nil {
		t.Pin2Key = *d.Pin2Key
	}
	if d.Recovery2Key != nil {
		t.Recovery2Key = *d.Recovery2Key
	}
	if d.PasswordAuth != nil {
		t.PasswordAuth = *d.PasswordAuth
	}
	if len(d.KeyInfos) > 0 {
		t.KeyInfos = wallet.Merge(t.KeyInfos, d.KeyInfos)
	}
	if len(d.Children) > 0 {
		t.ChildTrees = append(append([]logintree.LoginTree{}, t.ChildTrees...), d.Children...)
	}
	return t
}

// ptr returns a pointer to v, for building deltas inline.
func ptr[T any](v T) *T { return &v }

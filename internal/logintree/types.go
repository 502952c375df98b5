// Package logintree builds the in-memory LoginTree by decrypting a
// LoginStash. The tree holds the decrypted secrets for as long as an
// account stays logged in.
package logintree

import (
	"time"

	"github.com/kindlyrobotics/edge-login-core/internal/wallet"
)

// LoginTree mirrors LoginStash but carries decrypted secrets instead of
// boxes. It is built fresh on login and discarded on logout; it is
// never itself persisted.
type LoginTree struct {
	AppID        string
	Created      time.Time
	LastLogin    time.Time
	LoginID      string
	UserID       string
	Username     string
	OtpKey       string
	OtpResetDate time.Time
	OtpTimeout   int

	LoginKey     []byte
	LoginAuth    []byte
	PasswordAuth []byte
	Pin          string
	Pin2Key      []byte
	Recovery2Key []byte

	KeyInfos []wallet.EdgeWalletInfo

	ChildTrees []LoginTree
}

// Children implements tree.Node[LoginTree].
func (t LoginTree) Children() []LoginTree { return t.ChildTrees }

// WithChildren implements tree.Node[LoginTree].
func (t LoginTree) WithChildren(children []LoginTree) LoginTree {
	t.ChildTrees = children
	return t
}

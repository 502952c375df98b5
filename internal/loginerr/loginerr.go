// Package loginerr defines the error taxonomy surfaced by the login
// tree engine. Sentinel errors are compared with errors.Is;
// payload-carrying errors are typed structs recovered with errors.As.
package loginerr

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAuth is returned by the tree builder when a node has
	// neither loginAuthBox nor passwordAuthBox.
	ErrMissingAuth = errors.New("login: node has no authentication material")

	// ErrNoAuth is returned when no authentication secret is available
	// to build a server request.
	ErrNoAuth = errors.New("login: no usable authentication secret")

	// ErrKeyIntegrity is returned when a child is missing its parentBox,
	// or a box fails to decrypt under the key that should unlock it.
	ErrKeyIntegrity = errors.New("login: key integrity violation")

	// ErrServerLostChildren is returned when a server reply has fewer
	// children than the local stash for the same subtree.
	ErrServerLostChildren = errors.New("login: server reply has fewer children than local stash")

	// ErrMissingLogin is returned when a kit's target loginId cannot be
	// found in the in-memory tree.
	ErrMissingLogin = errors.New("login: kit target login not found")

	// ErrInvalidStash is returned on schema mismatch or a malformed
	// loginId at save time.
	ErrInvalidStash = errors.New("login: invalid stash")

	// ErrNetwork is returned for timeout or transport failures talking
	// to the auth server.
	ErrNetwork = errors.New("login: network error")
)

// OtpError is raised by the server when a one-time-password challenge
// is required. A first-time login captures its loginId/voucherId/
// voucherAuth into the stash before the error is rethrown.
type OtpError struct {
	LoginID     string
	VoucherID   string
	VoucherAuth string
	ResetToken  string
}

func (e *OtpError) Error() string {
	return fmt.Sprintf("login: otp required (loginId=%s)", e.LoginID)
}

// PasswordError is surfaced unchanged to the caller on a rejected password.
type PasswordError struct{ Reason string }

func (e *PasswordError) Error() string { return "login: password rejected: " + e.Reason }

// Pin2Error is surfaced unchanged to the caller on a rejected PIN.
type Pin2Error struct{ Reason string }

func (e *Pin2Error) Error() string { return "login: pin rejected: " + e.Reason }

// Recovery2Error is surfaced unchanged to the caller on a rejected
// recovery-question answer set.
type Recovery2Error struct{ Reason string }

func (e *Recovery2Error) Error() string { return "login: recovery answers rejected: " + e.Reason }

// UsernameError is raised by the server and used by UsernameAvailable
// to classify "name free" vs "name taken".
type UsernameError struct {
	Taken bool
}

func (e *UsernameError) Error() string {
	if e.Taken {
		return "login: username already taken"
	}
	return "login: username not found"
}

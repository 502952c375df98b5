package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
	"github.com/kindlyrobotics/edge-login-core/internal/codec"
	"github.com/kindlyrobotics/edge-login-core/internal/loginerr"
	"github.com/kindlyrobotics/edge-login-core/internal/logintree"
	"github.com/kindlyrobotics/edge-login-core/internal/reply"
	"github.com/kindlyrobotics/edge-login-core/internal/scrypt"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
	"github.com/kindlyrobotics/edge-login-core/internal/tree"
)

// decryptFunc recovers the target node's loginKey from a fresh server
// reply. Each login method supplies its own: the password method
// derives a passwordKey and opens passwordBox, the PIN method opens
// pin2Box under the cached pin2Key, and so on.
type decryptFunc func(r reply.LoginReply) ([]byte, error)

// FindStash loads the saved stash whose username matches the normalized
// input, or reports false when this device has never seen that account.
func (sess *Session) FindStash(username string) (stash.LoginStash, bool, error) {
	name := NormalizeUsername(username)
	stashes, err := sess.Store.LoadStashes()
	if err != nil {
		return stash.LoginStash{}, false, err
	}
	for _, s := range stashes {
		if NormalizeUsername(s.Username) == name {
			return s, true, nil
		}
	}
	return stash.LoginStash{}, false, nil
}

// serverLogin runs the login loop: compose the request with OTP and
// voucher material, POST it, capture any fresh voucher off an OTP
// challenge before rethrowing it, and on success reconcile the reply
// into the stash, persist, and build the in-memory tree.
func (sess *Session) serverLogin(
	ctx context.Context,
	stashTree stash.LoginStash,
	appID string,
	opts LoginOptions,
	req loginRequest,
	decrypt decryptFunc,
) (logintree.LoginTree, stash.LoginStash, error) {
	target, ok := tree.Search(stashTree, func(s stash.LoginStash) bool { return s.AppID == appID })
	if !ok {
		target = stash.LoginStash{AppID: appID}
	}

	if req.Otp == "" {
		code, err := GetStashOtp(target, opts)
		if err != nil {
			return logintree.LoginTree{}, stash.LoginStash{}, fmt.Errorf("kit: resolve otp: %w", err)
		}
		req.Otp = code
	}
	req.VoucherID = target.VoucherID
	req.VoucherAuth = target.VoucherAuth
	req.DeviceDescription = sess.DeviceDescription

	raw, err := sess.Fetch.Fetch(ctx, "POST", "/v2/login", req)
	if err != nil {
		sess.captureVoucher(stashTree, target, appID, err)
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}

	var r reply.LoginReply
	if err := json.Unmarshal(raw, &r); err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, fmt.Errorf("kit: decode login reply: %w", err)
	}

	loginKey, err := decrypt(r)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}

	newStash, err := reply.ApplyLoginReply(stashTree, loginKey, r)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	newStash.LastLogin = time.Now()

	if err := sess.Store.SaveStash(newStash); err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}

	loginTree, err := logintree.MakeLoginTree(newStash, loginKey, r.AppID)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	return loginTree, newStash, nil
}

// captureVoucher persists the loginId/voucher material an OTP challenge
// carries, so the next attempt can present it. Only a first sighting of
// the loginId or a fresh voucher is worth writing; the save is
// best-effort since the challenge error itself is about to surface.
func (sess *Session) captureVoucher(stashTree, target stash.LoginStash, appID string, err error) {
	var otpErr *loginerr.OtpError
	if !errors.As(err, &otpErr) || otpErr.LoginID == "" {
		return
	}
	if target.LoginID != "" && otpErr.VoucherID == "" {
		return
	}

	updated := tree.Update(stashTree, func(s stash.LoginStash) bool {
		return s.AppID == appID
	}, func(s stash.LoginStash) stash.LoginStash {
		s.LoginID = otpErr.LoginID
		if otpErr.VoucherID != "" {
			s.VoucherID = otpErr.VoucherID
			s.VoucherAuth = otpErr.VoucherAuth
		}
		return s
	})
	updated.LastLogin = time.Now()

	if saveErr := sess.Store.SaveStash(updated); saveErr != nil {
		log.Printf("voucher capture save failed: %v", saveErr)
	}

	// A fresh voucher means a device is now waiting on approval; tell
	// the account owner, best-effort, before the challenge surfaces.
	if otpErr.VoucherID != "" && sess.Vouchers != nil {
		if notifyErr := sess.Vouchers.NotifyPendingVoucher(updated.Username, sess.DeviceDescription); notifyErr != nil {
			log.Printf("voucher notification failed: %v", notifyErr)
		}
	}
}

// PasswordLogin logs in with a username and password: derive the
// password-auth secret, prove it to the server, and open the returned
// passwordBox with a second derivation to recover loginKey.
func (sess *Session) PasswordLogin(ctx context.Context, username, password string, opts LoginOptions) (logintree.LoginTree, stash.LoginStash, error) {
	name := NormalizeUsername(username)
	stashTree, found, err := sess.FindStash(name)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	if !found {
		stashTree = stash.LoginStash{Username: name}
	}

	userID, err := sess.HashUsername(ctx, name)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}

	authSnrp := stashTree.PasswordAuthSnrp
	if authSnrp == nil {
		authSnrp = userIDSnrp
	}
	passwordAuth, err := scrypt.DeriveScryptKey(ctx, sess.Scrypt, []byte(name+password), authSnrp, 32)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, fmt.Errorf("kit: derive passwordAuth: %w", err)
	}

	req := loginRequest{
		UserID:       codec.Base64Encode(userID),
		PasswordAuth: codec.Base64Encode(passwordAuth),
	}

	decrypt := func(r reply.LoginReply) ([]byte, error) {
		if r.PasswordBox == nil || r.PasswordKeySnrp == nil {
			return nil, fmt.Errorf("kit: reply missing password material: %w", loginerr.ErrKeyIntegrity)
		}
		passwordKey, err := scrypt.DeriveScryptKey(ctx, sess.Scrypt, []byte(name+password), r.PasswordKeySnrp, 32)
		if err != nil {
			return nil, fmt.Errorf("kit: derive passwordKey: %w", err)
		}
		loginKey, err := box.Decrypt(r.PasswordBox, passwordKey)
		if err != nil {
			return nil, &loginerr.PasswordError{Reason: "passwordBox did not open"}
		}
		return loginKey, nil
	}

	return sess.serverLogin(ctx, stashTree, "", opts, req, decrypt)
}

// Pin2Login logs in with the short PIN, using the pin2Key this device
// cached on an earlier full login.
func (sess *Session) Pin2Login(ctx context.Context, username, pin string, opts LoginOptions) (logintree.LoginTree, stash.LoginStash, error) {
	name := NormalizeUsername(username)
	stashTree, found, err := sess.FindStash(name)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	if !found || stashTree.Pin2Key == "" {
		return logintree.LoginTree{}, stash.LoginStash{}, &loginerr.Pin2Error{Reason: "no PIN is set up on this device"}
	}
	pin2Key, err := codec.Base64Decode(stashTree.Pin2Key)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, fmt.Errorf("kit: decode pin2Key: %w", err)
	}

	req := loginRequest{
		Pin2ID:   codec.Base64Encode(box.HMACSHA256(pin2Key, []byte(name))),
		Pin2Auth: codec.Base64Encode(box.HMACSHA256(pin2Key, []byte(pin))),
	}

	decrypt := func(r reply.LoginReply) ([]byte, error) {
		if r.Pin2Box == nil {
			return nil, fmt.Errorf("kit: reply missing pin2Box: %w", loginerr.ErrKeyIntegrity)
		}
		loginKey, err := box.Decrypt(r.Pin2Box, pin2Key)
		if err != nil {
			return nil, &loginerr.Pin2Error{Reason: "pin2Box did not open"}
		}
		return loginKey, nil
	}

	return sess.serverLogin(ctx, stashTree, "", opts, req, decrypt)
}

// RecoveryLogin logs in by answering the recovery question set, using
// the recovery2Key this device cached on an earlier full login.
func (sess *Session) RecoveryLogin(ctx context.Context, username string, answers []string, opts LoginOptions) (logintree.LoginTree, stash.LoginStash, error) {
	name := NormalizeUsername(username)
	stashTree, found, err := sess.FindStash(name)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	if !found || stashTree.Recovery2Key == "" {
		return logintree.LoginTree{}, stash.LoginStash{}, &loginerr.Recovery2Error{Reason: "no recovery key on this device"}
	}
	recovery2Key, err := codec.Base64Decode(stashTree.Recovery2Key)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, fmt.Errorf("kit: decode recovery2Key: %w", err)
	}

	auths := make([]string, len(answers))
	for i, answer := range answers {
		auths[i] = codec.Base64Encode(box.HMACSHA256(recovery2Key, []byte(answer)))
	}
	req := loginRequest{
		Recovery2ID:   codec.Base64Encode(box.HMACSHA256(recovery2Key, []byte(name))),
		Recovery2Auth: auths,
	}

	decrypt := func(r reply.LoginReply) ([]byte, error) {
		if r.Recovery2Box == nil {
			return nil, fmt.Errorf("kit: reply missing recovery2Box: %w", loginerr.ErrKeyIntegrity)
		}
		loginKey, err := box.Decrypt(r.Recovery2Box, recovery2Key)
		if err != nil {
			return nil, &loginerr.Recovery2Error{Reason: "recovery2Box did not open"}
		}
		return loginKey, nil
	}

	return sess.serverLogin(ctx, stashTree, "", opts, req, decrypt)
}

// Recovery2Questions fetches the saved recovery question set for an
// account, identified by recovery2Id alone: no answers travel, and the
// questions come back inside question2Box, readable only with the
// recovery2Key this device already caches.
func (sess *Session) Recovery2Questions(ctx context.Context, username string) ([]string, error) {
	name := NormalizeUsername(username)
	stashTree, found, err := sess.FindStash(name)
	if err != nil {
		return nil, err
	}
	if !found || stashTree.Recovery2Key == "" {
		return nil, &loginerr.Recovery2Error{Reason: "no recovery key on this device"}
	}
	recovery2Key, err := codec.Base64Decode(stashTree.Recovery2Key)
	if err != nil {
		return nil, fmt.Errorf("kit: decode recovery2Key: %w", err)
	}

	raw, err := sess.Fetch.Fetch(ctx, "POST", "/v2/login", loginRequest{
		Recovery2ID: codec.Base64Encode(box.HMACSHA256(recovery2Key, []byte(name))),
	})
	if err != nil {
		return nil, err
	}

	var r reply.LoginReply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("kit: decode login reply: %w", err)
	}
	if r.Question2Box == nil {
		return nil, fmt.Errorf("kit: reply missing question2Box: %w", loginerr.ErrKeyIntegrity)
	}

	questionsKey, err := questions2Key(recovery2Key)
	if err != nil {
		return nil, err
	}
	plaintext, err := box.Decrypt(r.Question2Box, questionsKey)
	if err != nil {
		return nil, &loginerr.Recovery2Error{Reason: "question2Box did not open"}
	}

	var questions []string
	if err := json.Unmarshal(plaintext, &questions); err != nil {
		return nil, fmt.Errorf("kit: decode questions: %w", err)
	}
	return questions, nil
}

// KeyLogin is the saved "return" login: the caller still holds the
// loginKey from a previous session, so the stash's loginAuthBox opens
// locally and the server round trip just refreshes the tree.
func (sess *Session) KeyLogin(ctx context.Context, username string, loginKey []byte, opts LoginOptions) (logintree.LoginTree, stash.LoginStash, error) {
	name := NormalizeUsername(username)
	stashTree, found, err := sess.FindStash(name)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	if !found || stashTree.LoginAuthBox == nil {
		return logintree.LoginTree{}, stash.LoginStash{}, fmt.Errorf("kit: %w", loginerr.ErrNoAuth)
	}
	loginAuth, err := box.Decrypt(stashTree.LoginAuthBox, loginKey)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, fmt.Errorf("kit: open loginAuthBox: %w", loginerr.ErrKeyIntegrity)
	}

	req := loginRequest{
		LoginID:   stashTree.LoginID,
		LoginAuth: codec.Base64Encode(loginAuth),
	}

	decrypt := func(reply.LoginReply) ([]byte, error) { return loginKey, nil }

	return sess.serverLogin(ctx, stashTree, "", opts, req, decrypt)
}

// SyncLogin refreshes an already-logged-in tree: one authenticated POST,
// reply treated as authoritative, stash persisted, tree rebuilt.
func (sess *Session) SyncLogin(ctx context.Context, loginTree logintree.LoginTree, stashTree stash.LoginStash) (logintree.LoginTree, stash.LoginStash, error) {
	req, err := MakeAuthJson(loginTree)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}

	decrypt := func(reply.LoginReply) ([]byte, error) { return loginTree.LoginKey, nil }

	return sess.serverLogin(ctx, stashTree, loginTree.AppID, LoginOptions{}, req, decrypt)
}

// UsernameAvailable asks the server whether a username is free, by
// presenting its derived identity with no credentials: a no-account
// rejection means free, any recognized-account rejection means taken.
func (sess *Session) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	userID, err := sess.HashUsername(ctx, username)
	if err != nil {
		return false, err
	}

	_, err = sess.Fetch.Fetch(ctx, "POST", "/v2/login", loginRequest{UserID: codec.Base64Encode(userID)})
	if err == nil {
		return false, nil
	}

	var nameErr *loginerr.UsernameError
	if errors.As(err, &nameErr) {
		return !nameErr.Taken, nil
	}
	var passErr *loginerr.PasswordError
	if errors.As(err, &passErr) {
		return false, nil
	}
	return false, err
}

// PendingVoucher describes an unapproved device waiting on this account.
type PendingVoucher struct {
	VoucherID         string    `json:"voucherId"`
	ActivationDate    time.Time `json:"activationDate"`
	Created           time.Time `json:"created"`
	DeviceDescription string    `json:"deviceDescription,omitempty"`
	IP                string    `json:"ip,omitempty"`
}

// LoginMessage is one account's pending-state summary.
type LoginMessage struct {
	LoginID          string           `json:"loginId"`
	OtpResetPending  bool             `json:"otpResetPending,omitempty"`
	PendingVouchers  []PendingVoucher `json:"pendingVouchers,omitempty"`
	Recovery2Corrupt bool             `json:"recovery2Corrupt,omitempty"`
}

// MessagesPayload is the response body of the messages endpoint.
type MessagesPayload []LoginMessage

// FetchMessages polls the server for pending state (OTP resets, device
// vouchers) across a set of accounts by loginId.
func (sess *Session) FetchMessages(ctx context.Context, loginIDs []string) (MessagesPayload, error) {
	body := struct {
		LoginIDs []string `json:"loginIds"`
	}{LoginIDs: loginIDs}

	raw, err := sess.Fetch.Fetch(ctx, "POST", "/api/v2/messages", body)
	if err != nil {
		return nil, err
	}

	var payload MessagesPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("kit: decode messages payload: %w", err)
	}
	return payload, nil
}

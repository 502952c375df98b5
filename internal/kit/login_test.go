package kit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
	"github.com/kindlyrobotics/edge-login-core/internal/codec"
	"github.com/kindlyrobotics/edge-login-core/internal/loginerr"
	"github.com/kindlyrobotics/edge-login-core/internal/logintree"
	"github.com/kindlyrobotics/edge-login-core/internal/reply"
	"github.com/kindlyrobotics/edge-login-core/internal/scrypt"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
)

// passwordServer simulates the server side of a password account: it
// derives the same secrets a real server would have stored at account
// creation, and answers /v2/login with a reply that decrypts correctly.
type passwordServer struct {
	t            *testing.T
	username     string
	password     string
	loginID      string
	loginKey     []byte
	passwordAuth []byte
	keySnrp      *box.EdgeSnrp
}

func newPasswordServer(t *testing.T, username, password string) *passwordServer {
	t.Helper()
	loginKey, err := box.GenerateKey()
	require.NoError(t, err)

	name := NormalizeUsername(username)
	passwordAuth, err := scrypt.DeriveScryptKey(context.Background(), nil, []byte(name+password), userIDSnrp, 32)
	require.NoError(t, err)

	raw := make([]byte, 32)
	copy(raw, name)
	return &passwordServer{
		t:            t,
		username:     name,
		password:     password,
		loginID:      codec.Base64Encode(raw),
		loginKey:     loginKey,
		passwordAuth: passwordAuth,
		keySnrp:      &box.EdgeSnrp{Salt: []byte("password-key-salt-for-this-test!"), N: 1024, R: 1, P: 1},
	}
}

func (ps *passwordServer) reply() json.RawMessage {
	name := ps.username
	passwordKey, err := scrypt.DeriveScryptKey(context.Background(), nil, []byte(name+ps.password), ps.keySnrp, 32)
	require.NoError(ps.t, err)

	passwordBox, err := box.Encrypt(passwordKey, ps.loginKey)
	require.NoError(ps.t, err)
	passwordAuthBox, err := box.Encrypt(ps.loginKey, ps.passwordAuth)
	require.NoError(ps.t, err)

	r := reply.LoginReply{
		AppID:           "",
		LoginID:         ps.loginID,
		Created:         time.Now(),
		PasswordAuthBox: passwordAuthBox,
		PasswordBox:     passwordBox,
		PasswordKeySnrp: ps.keySnrp,
	}
	raw, err := json.Marshal(r)
	require.NoError(ps.t, err)
	return raw
}

func TestPasswordLoginRoundTrip(t *testing.T) {
	ps := newPasswordServer(t, "edge", "hunter2")

	fetch := &fakeFetch{handler: func(method, path string, body interface{}) (json.RawMessage, error) {
		require.Equal(t, "POST", method)
		require.Equal(t, "/v2/login", path)
		req := body.(loginRequest)
		// The client must present the same derived secret the server holds.
		require.Equal(t, codec.Base64Encode(ps.passwordAuth), req.PasswordAuth)
		require.NotEmpty(t, req.UserID)
		return ps.reply(), nil
	}}
	sess := newTestSession(t, fetch)

	tree, stashTree, err := sess.PasswordLogin(context.Background(), "Edge", "hunter2", LoginOptions{})
	require.NoError(t, err)

	// The derived loginKey opened passwordAuthBox.
	require.Equal(t, ps.passwordAuth, tree.PasswordAuth)
	require.Equal(t, ps.loginKey, tree.LoginKey)
	// Username comes from the stash, never the reply.
	require.Equal(t, "edge", tree.Username)
	require.Equal(t, "edge", stashTree.Username)

	// The stash landed on disk.
	loaded, err := sess.Store.LoadStashes()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, ps.loginID, loaded[0].LoginID)
	require.NotNil(t, loaded[0].PasswordBox)
}

// recordingNotifier captures voucher notifications for assertions.
type recordingNotifier struct {
	usernames []string
}

func (r *recordingNotifier) NotifyPendingVoucher(username, _ string) error {
	r.usernames = append(r.usernames, username)
	return nil
}

func TestPasswordLoginOtpChallengeCapturesVoucher(t *testing.T) {
	loginID := randomLoginID(t)
	otpErr := &loginerr.OtpError{LoginID: loginID, VoucherID: "V", VoucherAuth: "A"}

	fetch := &fakeFetch{handler: func(string, string, interface{}) (json.RawMessage, error) {
		return nil, otpErr
	}}
	sess := newTestSession(t, fetch)
	notifier := &recordingNotifier{}
	sess.Vouchers = notifier

	_, _, err := sess.PasswordLogin(context.Background(), "alice", "hunter2", LoginOptions{})
	require.ErrorIs(t, err, error(otpErr))

	// The fresh voucher triggered one owner notification.
	require.Equal(t, []string{"alice"}, notifier.usernames)

	// The challenge's identity and voucher are on disk for next time.
	loaded, err := sess.Store.LoadStashes()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "alice", loaded[0].Username)
	require.Equal(t, loginID, loaded[0].LoginID)
	require.Equal(t, "V", loaded[0].VoucherID)
	require.Equal(t, "A", loaded[0].VoucherAuth)
	require.WithinDuration(t, time.Now(), loaded[0].LastLogin, 5*time.Second)
}

func TestNextLoginPresentsCapturedVoucher(t *testing.T) {
	loginID := randomLoginID(t)

	fetch := &fakeFetch{handler: func(string, string, interface{}) (json.RawMessage, error) {
		return nil, &loginerr.OtpError{LoginID: loginID, VoucherID: "V", VoucherAuth: "A"}
	}}
	sess := newTestSession(t, fetch)

	_, _, err := sess.PasswordLogin(context.Background(), "alice", "hunter2", LoginOptions{})
	require.Error(t, err)

	// Second attempt: the saved voucher rides along.
	fetch.handler = func(_, _ string, body interface{}) (json.RawMessage, error) {
		req := body.(loginRequest)
		require.Equal(t, "V", req.VoucherID)
		require.Equal(t, "A", req.VoucherAuth)
		return nil, &loginerr.OtpError{LoginID: loginID}
	}
	_, _, err = sess.PasswordLogin(context.Background(), "alice", "hunter2", LoginOptions{})
	require.Error(t, err)
}

func TestPin2LoginNeedsCachedKey(t *testing.T) {
	sess := newTestSession(t, &fakeFetch{})

	_, _, err := sess.Pin2Login(context.Background(), "ghost", "1234", LoginOptions{})
	var pinErr *loginerr.Pin2Error
	require.ErrorAs(t, err, &pinErr)
}

func TestPin2LoginRoundTrip(t *testing.T) {
	loginKey, err := box.GenerateKey()
	require.NoError(t, err)
	pin2Key, err := box.GenerateKey()
	require.NoError(t, err)
	loginAuthBox, err := box.Encrypt(loginKey, loginKey)
	require.NoError(t, err)
	pin2Box, err := box.Encrypt(pin2Key, loginKey)
	require.NoError(t, err)

	loginID := randomLoginID(t)
	fetch := &fakeFetch{handler: func(_, _ string, body interface{}) (json.RawMessage, error) {
		req := body.(loginRequest)
		require.Equal(t, codec.Base64Encode(box.HMACSHA256(pin2Key, []byte("edge"))), req.Pin2ID)
		require.Equal(t, codec.Base64Encode(box.HMACSHA256(pin2Key, []byte("1234"))), req.Pin2Auth)

		raw, err := json.Marshal(reply.LoginReply{
			LoginID:      loginID,
			LoginAuthBox: loginAuthBox,
			Pin2Box:      pin2Box,
		})
		require.NoError(t, err)
		return raw, nil
	}}
	sess := newTestSession(t, fetch)

	// Seed the device with a stash that carries the cached pin2Key.
	require.NoError(t, sess.Store.SaveStash(stash.LoginStash{
		LoginID:  loginID,
		Username: "edge",
		Pin2Key:  codec.Base64Encode(pin2Key),
	}))

	tree, _, err := sess.Pin2Login(context.Background(), "edge", "1234", LoginOptions{})
	require.NoError(t, err)
	require.Equal(t, loginKey, tree.LoginKey)
}

func TestNoNotificationWithoutFreshVoucher(t *testing.T) {
	loginID := randomLoginID(t)
	fetch := &fakeFetch{handler: func(string, string, interface{}) (json.RawMessage, error) {
		return nil, &loginerr.OtpError{LoginID: loginID}
	}}
	sess := newTestSession(t, fetch)
	notifier := &recordingNotifier{}
	sess.Vouchers = notifier

	_, _, err := sess.PasswordLogin(context.Background(), "alice", "hunter2", LoginOptions{})
	require.Error(t, err)
	require.Empty(t, notifier.usernames)
}

func TestRecovery2QuestionsRoundTrip(t *testing.T) {
	loginKey, err := box.GenerateKey()
	require.NoError(t, err)
	questions := []string{"first pet", "first street"}

	sessForKit := newTestSession(t, &fakeFetch{})
	k, err := sessForKit.RecoveryKit(logintree.LoginTree{
		LoginID:  randomLoginID(t),
		LoginKey: loginKey,
	}, "edge", questions, []string{"rex", "main"})
	require.NoError(t, err)

	server := k.Server.(map[string]interface{})
	question2Box := server["question2Box"].(*box.EdgeBox)
	recovery2ID := server["recovery2Id"].(string)

	// The question box lives in its own key domain: recovery2Key itself
	// must not open it.
	rawKey, err := codec.Base64Decode(*k.Stash.Recovery2Key)
	require.NoError(t, err)
	_, err = box.Decrypt(question2Box, rawKey)
	require.Error(t, err)

	fetch := &fakeFetch{handler: func(_, path string, body interface{}) (json.RawMessage, error) {
		require.Equal(t, "/v2/login", path)
		req := body.(loginRequest)
		// Only the derived id travels; no answers, no credentials.
		require.Equal(t, recovery2ID, req.Recovery2ID)
		require.Empty(t, req.Recovery2Auth)

		raw, err := json.Marshal(reply.LoginReply{
			LoginID:      randomLoginID(t),
			Question2Box: question2Box,
		})
		require.NoError(t, err)
		return raw, nil
	}}
	sess := newTestSession(t, fetch)
	require.NoError(t, sess.Store.SaveStash(stash.LoginStash{
		LoginID:      randomLoginID(t),
		Username:     "edge",
		Recovery2Key: *k.Stash.Recovery2Key,
	}))

	got, err := sess.Recovery2Questions(context.Background(), "edge")
	require.NoError(t, err)
	require.Equal(t, questions, got)
}

func TestRecovery2QuestionsNeedsCachedKey(t *testing.T) {
	sess := newTestSession(t, &fakeFetch{})
	_, err := sess.Recovery2Questions(context.Background(), "ghost")
	var recErr *loginerr.Recovery2Error
	require.ErrorAs(t, err, &recErr)
}

func TestUsernameAvailable(t *testing.T) {
	t.Run("free", func(t *testing.T) {
		fetch := &fakeFetch{handler: func(string, string, interface{}) (json.RawMessage, error) {
			return nil, &loginerr.UsernameError{Taken: false}
		}}
		sess := newTestSession(t, fetch)
		free, err := sess.UsernameAvailable(context.Background(), "newuser")
		require.NoError(t, err)
		require.True(t, free)
	})

	t.Run("taken", func(t *testing.T) {
		fetch := &fakeFetch{handler: func(string, string, interface{}) (json.RawMessage, error) {
			return nil, &loginerr.PasswordError{Reason: "no credentials"}
		}}
		sess := newTestSession(t, fetch)
		free, err := sess.UsernameAvailable(context.Background(), "edge")
		require.NoError(t, err)
		require.False(t, free)
	})
}

func TestFetchMessages(t *testing.T) {
	fetch := &fakeFetch{handler: func(method, path string, body interface{}) (json.RawMessage, error) {
		require.Equal(t, "/api/v2/messages", path)
		return json.RawMessage(`[{"loginId":"L1","otpResetPending":true}]`), nil
	}}
	sess := newTestSession(t, fetch)

	payload, err := sess.FetchMessages(context.Background(), []string{"L1"})
	require.NoError(t, err)
	require.Len(t, payload, 1)
	require.Equal(t, "L1", payload[0].LoginID)
	require.True(t, payload[0].OtpResetPending)
}

package kit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
	"github.com/kindlyrobotics/edge-login-core/internal/codec"
	"github.com/kindlyrobotics/edge-login-core/internal/logintree"
	"github.com/kindlyrobotics/edge-login-core/internal/scrypt"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
	"github.com/kindlyrobotics/edge-login-core/internal/wallet"
)

// CreateOptions selects the optional credentials set up alongside a
// fresh account.
type CreateOptions struct {
	Password string
	Pin      string

	// KeyInfo, when set, becomes the account's first wallet key.
	KeyInfo *wallet.EdgeWalletInfo
}

// CreateLogin creates a brand-new root account: derive the identity
// from the username, generate fresh loginKey/loginAuth material, attach
// the requested credential sub-kits, register everything with the
// server in one call, and persist the assembled stash.
func (sess *Session) CreateLogin(ctx context.Context, username string, opts CreateOptions) (logintree.LoginTree, stash.LoginStash, error) {
	name := NormalizeUsername(username)

	loginID, err := sess.HashUsername(ctx, name)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	loginKey, err := box.GenerateKey()
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	loginAuth, err := box.GenerateKey()
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	loginAuthBox, err := box.Encrypt(loginKey, loginAuth)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}

	now := time.Now()
	stashTree := stash.LoginStash{
		AppID:        "",
		LoginID:      codec.Base64Encode(loginID),
		Username:     name,
		Created:      now,
		LastLogin:    now,
		LoginAuthBox: loginAuthBox,
	}
	loginTree := logintree.LoginTree{
		AppID:     "",
		LoginID:   stashTree.LoginID,
		Username:  name,
		Created:   now,
		LastLogin: now,
		LoginKey:  loginKey,
		LoginAuth: loginAuth,
	}

	data := map[string]interface{}{
		"appId":        "",
		"loginId":      stashTree.LoginID,
		"loginAuth":    codec.Base64Encode(loginAuth),
		"loginAuthBox": loginAuthBox,
	}

	kits := make([]LoginKit, 0, 3)
	if opts.Password != "" {
		k, err := sess.PasswordKit(ctx, loginTree, name, opts.Password)
		if err != nil {
			return logintree.LoginTree{}, stash.LoginStash{}, err
		}
		kits = append(kits, k)
	}
	if opts.Pin != "" {
		k, err := sess.Pin2Kit(loginTree, name, opts.Pin)
		if err != nil {
			return logintree.LoginTree{}, stash.LoginStash{}, err
		}
		kits = append(kits, k)
	}
	if opts.KeyInfo != nil {
		k, err := sess.WalletKit(loginTree, *opts.KeyInfo)
		if err != nil {
			return logintree.LoginTree{}, stash.LoginStash{}, err
		}
		kits = append(kits, k)
	}

	for _, k := range kits {
		if err := mergeServerPayload(data, k.Server); err != nil {
			return logintree.LoginTree{}, stash.LoginStash{}, err
		}
	}

	if _, err := sess.Fetch.Fetch(ctx, "POST", "/v2/login/create", loginRequest{Data: data}); err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}

	// The server has the account now; fold the sub-kit deltas into the
	// local copies before persisting.
	for _, k := range kits {
		stashTree = applyStashDelta(stashTree, k.Stash)
		loginTree = applyLoginDelta(loginTree, k.Login)
	}

	if err := sess.Store.SaveStash(stashTree); err != nil {
		return loginTree, stashTree, err
	}

	log.Printf("created account %q", name)
	return loginTree, stashTree, nil
}

// CreateChildLogin creates a sub-login scoped to appId under an
// already-logged-in parent: a random 32-byte identity, a fresh
// loginKey wrapped under the parent's via parentBox, registered with
// the server using the parent's credentials.
func (sess *Session) CreateChildLogin(
	ctx context.Context,
	loginTree logintree.LoginTree,
	stashTree stash.LoginStash,
	appID string,
) (logintree.LoginTree, stash.LoginStash, error) {
	loginIDRaw, err := box.GenerateKey()
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	loginKey, err := box.GenerateKey()
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	loginAuth, err := box.GenerateKey()
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	loginAuthBox, err := box.Encrypt(loginKey, loginAuth)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	parentBox, err := box.Encrypt(loginTree.LoginKey, loginKey)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}

	loginID := codec.Base64Encode(loginIDRaw)
	now := time.Now()

	childStash := stash.LoginStash{
		AppID:        appID,
		LoginID:      loginID,
		Created:      now,
		LoginAuthBox: loginAuthBox,
		ParentBox:    parentBox,
	}
	childTree := logintree.LoginTree{
		AppID:     appID,
		LoginID:   loginID,
		Created:   now,
		LastLogin: now,
		LoginKey:  loginKey,
		LoginAuth: loginAuth,
	}

	k := LoginKit{
		LoginID:    loginTree.LoginID,
		ServerPath: "/v2/login/create",
		Server: map[string]interface{}{
			"appId":        appID,
			"loginId":      loginID,
			"loginAuth":    codec.Base64Encode(loginAuth),
			"loginAuthBox": loginAuthBox,
			"parentBox":    parentBox,
		},
		Stash: StashDelta{Children: []stash.LoginStash{childStash}},
		Login: LoginDelta{Children: []logintree.LoginTree{childTree}},
	}

	return sess.ApplyKit(ctx, loginTree, stashTree, k)
}

// PasswordKit assembles the kit that sets or changes a password: the
// server gets the auth secret and the wrapped loginKey, the stash gets
// the boxes needed for the next offline-capable password login.
func (sess *Session) PasswordKit(ctx context.Context, login logintree.LoginTree, username, password string) (LoginKit, error) {
	name := NormalizeUsername(username)

	keySnrp, err := scrypt.ChooseSNRP(sess.ScryptBenchMs, sess.ScryptTargetMs)
	if err != nil {
		return LoginKit{}, err
	}

	passwordAuth, err := scrypt.DeriveScryptKey(ctx, sess.Scrypt, []byte(name+password), userIDSnrp, 32)
	if err != nil {
		return LoginKit{}, fmt.Errorf("kit: derive passwordAuth: %w", err)
	}
	passwordKey, err := scrypt.DeriveScryptKey(ctx, sess.Scrypt, []byte(name+password), keySnrp, 32)
	if err != nil {
		return LoginKit{}, fmt.Errorf("kit: derive passwordKey: %w", err)
	}

	passwordBox, err := box.Encrypt(passwordKey, login.LoginKey)
	if err != nil {
		return LoginKit{}, err
	}
	passwordAuthBox, err := box.Encrypt(login.LoginKey, passwordAuth)
	if err != nil {
		return LoginKit{}, err
	}

	return LoginKit{
		LoginID:    login.LoginID,
		ServerPath: "/v2/login/password",
		Server: map[string]interface{}{
			"passwordAuth":     codec.Base64Encode(passwordAuth),
			"passwordAuthSnrp": userIDSnrp,
			"passwordAuthBox":  passwordAuthBox,
			"passwordBox":      passwordBox,
			"passwordKeySnrp":  keySnrp,
		},
		Stash: StashDelta{
			PasswordAuthBox:  passwordAuthBox,
			PasswordAuthSnrp: userIDSnrp,
			PasswordBox:      passwordBox,
			PasswordKeySnrp:  keySnrp,
		},
		Login: LoginDelta{PasswordAuth: ptr(passwordAuth)},
	}, nil
}

// Pin2Kit assembles the kit that sets or changes the short PIN: a
// fresh pin2Key, the derived server-side id/auth pair, and the boxes
// that let the server hand loginKey back to a PIN login later.
func (sess *Session) Pin2Kit(login logintree.LoginTree, username, pin string) (LoginKit, error) {
	name := NormalizeUsername(username)

	pin2Key, err := box.GenerateKey()
	if err != nil {
		return LoginKit{}, err
	}
	pin2Box, err := box.Encrypt(pin2Key, login.LoginKey)
	if err != nil {
		return LoginKit{}, err
	}
	pin2KeyBox, err := box.Encrypt(login.LoginKey, pin2Key)
	if err != nil {
		return LoginKit{}, err
	}
	pin2TextBox, err := box.Encrypt(login.LoginKey, []byte(pin))
	if err != nil {
		return LoginKit{}, err
	}

	return LoginKit{
		LoginID:    login.LoginID,
		ServerPath: "/v2/login/pin2",
		Server: map[string]interface{}{
			"pin2Id":      codec.Base64Encode(box.HMACSHA256(pin2Key, []byte(name))),
			"pin2Auth":    codec.Base64Encode(box.HMACSHA256(pin2Key, []byte(pin))),
			"pin2Box":     pin2Box,
			"pin2KeyBox":  pin2KeyBox,
			"pin2TextBox": pin2TextBox,
		},
		Stash: StashDelta{
			Pin2TextBox: pin2TextBox,
			Pin2Key:     ptr(codec.Base64Encode(pin2Key)),
		},
		Login: LoginDelta{
			Pin:     ptr(pin),
			Pin2Key: ptr(pin2Key),
		},
	}, nil
}

// RecoveryKit assembles the kit that sets or changes the recovery
// question set. The questions travel encrypted under a key derived
// from recovery2Key, so
// the server can show them to a user who still holds that key without
// ever reading them.
func (sess *Session) RecoveryKit(login logintree.LoginTree, username string, questions, answers []string) (LoginKit, error) {
	if len(questions) == 0 || len(questions) != len(answers) {
		return LoginKit{}, fmt.Errorf("kit: recovery questions and answers must pair up")
	}
	name := NormalizeUsername(username)

	recovery2Key, err := box.GenerateKey()
	if err != nil {
		return LoginKit{}, err
	}
	recovery2Box, err := box.Encrypt(recovery2Key, login.LoginKey)
	if err != nil {
		return LoginKit{}, err
	}
	recovery2KeyBox, err := box.Encrypt(login.LoginKey, recovery2Key)
	if err != nil {
		return LoginKit{}, err
	}
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		return LoginKit{}, err
	}
	// The questions live in their own key domain so handing out the
	// question box never exercises the same key that wraps loginKey.
	questionsKey, err := questions2Key(recovery2Key)
	if err != nil {
		return LoginKit{}, err
	}
	question2Box, err := box.Encrypt(questionsKey, questionsJSON)
	if err != nil {
		return LoginKit{}, err
	}

	auths := make([]string, len(answers))
	for i, answer := range answers {
		auths[i] = codec.Base64Encode(box.HMACSHA256(recovery2Key, []byte(answer)))
	}

	return LoginKit{
		LoginID:    login.LoginID,
		ServerPath: "/v2/login/recovery2",
		Server: map[string]interface{}{
			"recovery2Id":     codec.Base64Encode(box.HMACSHA256(recovery2Key, []byte(name))),
			"recovery2Auth":   auths,
			"recovery2Box":    recovery2Box,
			"recovery2KeyBox": recovery2KeyBox,
			"question2Box":    question2Box,
		},
		Stash: StashDelta{Recovery2Key: ptr(codec.Base64Encode(recovery2Key))},
		Login: LoginDelta{Recovery2Key: ptr(recovery2Key)},
	}, nil
}

// OtpKit assembles the kit that turns two-factor on for a node.
func OtpKit(login logintree.LoginTree, otpKey string, timeoutSeconds int) LoginKit {
	return LoginKit{
		LoginID:    login.LoginID,
		ServerPath: "/v2/login/otp",
		Server: map[string]interface{}{
			"otpKey":     otpKey,
			"otpTimeout": timeoutSeconds,
		},
		Stash: StashDelta{
			OtpKey:       ptr(otpKey),
			OtpTimeout:   ptr(timeoutSeconds),
			OtpResetDate: ptr(time.Time{}),
		},
		Login: LoginDelta{
			OtpKey:       ptr(otpKey),
			OtpTimeout:   ptr(timeoutSeconds),
			OtpResetDate: ptr(time.Time{}),
		},
	}
}

// DisableOtpKit assembles the kit that turns two-factor off.
func DisableOtpKit(login logintree.LoginTree) LoginKit {
	return LoginKit{
		LoginID:      login.LoginID,
		ServerMethod: "DELETE",
		ServerPath:   "/v2/login/otp",
		Stash: StashDelta{
			OtpKey:       ptr(""),
			OtpTimeout:   ptr(0),
			OtpResetDate: ptr(time.Time{}),
		},
		Login: LoginDelta{
			OtpKey:       ptr(""),
			OtpTimeout:   ptr(0),
			OtpResetDate: ptr(time.Time{}),
		},
	}
}

// WalletKit assembles the kit that attaches a wallet key to a node.
func (sess *Session) WalletKit(login logintree.LoginTree, info wallet.EdgeWalletInfo) (LoginKit, error) {
	info = wallet.FixWalletInfo(info)

	plaintext, err := json.Marshal(info)
	if err != nil {
		return LoginKit{}, err
	}
	keyBox, err := box.Encrypt(login.LoginKey, plaintext)
	if err != nil {
		return LoginKit{}, err
	}

	return LoginKit{
		LoginID:    login.LoginID,
		ServerPath: "/v2/login/keys",
		Server: map[string]interface{}{
			"keyBoxes": []*box.EdgeBox{keyBox},
		},
		Stash: StashDelta{KeyBoxes: []*box.EdgeBox{keyBox}},
		Login: LoginDelta{KeyInfos: []wallet.EdgeWalletInfo{info}},
	}, nil
}

// questions2Key derives the question2Box key from recovery2Key via
// HKDF, so both sides of the recovery flow agree on the domain split.
func questions2Key(recovery2Key []byte) ([]byte, error) {
	return box.DeriveKey(recovery2Key, nil, []byte("question2Box"), box.KeySize)
}

// mergeServerPayload folds a sub-kit's server payload into the create
// call's data object.
func mergeServerPayload(data map[string]interface{}, server interface{}) error {
	if server == nil {
		return nil
	}
	raw, err := json.Marshal(server)
	if err != nil {
		return fmt.Errorf("kit: marshal sub-kit payload: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("kit: sub-kit payload is not an object: %w", err)
	}
	for k, v := range fields {
		data[k] = v
	}
	return nil
}

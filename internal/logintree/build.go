// MakeLoginTree and its recursion decrypt a stash tree into an
// in-memory login tree, deriving each child's key from its parent's
// via parentBox. Nodes outside the requested appId's subtree are
// returned as an "outer clone" — {username, appId, loginId, children}
// only — so a caller holding the key for one app never sees decrypted
// material belonging to another.
package logintree

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
	"github.com/kindlyrobotics/edge-login-core/internal/codec"
	"github.com/kindlyrobotics/edge-login-core/internal/loginerr"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
	"github.com/kindlyrobotics/edge-login-core/internal/wallet"
)

// MakeLoginTree locates the stash node matching appId and decrypts its
// entire subtree under loginKey (the key a caller already holds for
// that node, from a fresh server login or a cached credential). Every
// node outside that subtree is returned as an outer clone.
func MakeLoginTree(root stash.LoginStash, loginKey []byte, appId string) (LoginTree, error) {
	return buildNode(root, loginKey, appId)
}

func buildNode(s stash.LoginStash, targetKey []byte, targetAppId string) (LoginTree, error) {
	if s.AppID == targetAppId {
		return makeLoginTreeInner(s, targetKey)
	}

	children := make([]LoginTree, 0, len(s.Children()))
	for _, child := range s.Children() {
		ct, err := buildNode(child, targetKey, targetAppId)
		if err != nil {
			return LoginTree{}, err
		}
		children = append(children, ct)
	}
	return LoginTree{
		AppID:      s.AppID,
		LoginID:    s.LoginID,
		Username:   s.Username,
		ChildTrees: children,
	}, nil
}

// makeLoginTreeInner decrypts a single stash node (and, recursively,
// its entire subtree) under loginKey.
func makeLoginTreeInner(s stash.LoginStash, loginKey []byte) (LoginTree, error) {
	lastLogin := s.LastLogin
	if lastLogin.IsZero() {
		lastLogin = time.Now()
	}

	t := LoginTree{
		AppID:        s.AppID,
		Created:      s.Created,
		LastLogin:    lastLogin,
		LoginID:      s.LoginID,
		UserID:       s.UserID,
		Username:     s.Username,
		OtpKey:       s.OtpKey,
		OtpResetDate: s.OtpResetDate,
		OtpTimeout:   s.OtpTimeout,
		LoginKey:     loginKey,
	}

	// Step 2: loginAuth.
	if s.LoginAuthBox != nil {
		auth, err := box.Decrypt(s.LoginAuthBox, loginKey)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decrypt loginAuthBox: %w", err)
		}
		t.LoginAuth = auth
	}

	// Step 3: passwordAuth, defaulting userId.
	if s.PasswordAuthBox != nil {
		auth, err := box.Decrypt(s.PasswordAuthBox, loginKey)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decrypt passwordAuthBox: %w", err)
		}
		t.PasswordAuth = auth
		if t.UserID == "" {
			t.UserID = t.LoginID
		}
	}

	// Step 4.
	if t.LoginAuth == nil && t.PasswordAuth == nil {
		return LoginTree{}, fmt.Errorf("logintree: %w", loginerr.ErrMissingAuth)
	}

	// Step 5: pin2Key / pin.
	if s.Pin2Key != "" {
		pin2Key, err := base64.StdEncoding.DecodeString(s.Pin2Key)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decode pin2Key: %w", err)
		}
		t.Pin2Key = pin2Key
	}
	if s.Pin2TextBox != nil {
		pin, err := box.DecryptText(s.Pin2TextBox, loginKey)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decrypt pin2TextBox: %w", err)
		}
		t.Pin = pin
	}

	// Step 6: recovery2Key.
	if s.Recovery2Key != "" {
		recovery2Key, err := base64.StdEncoding.DecodeString(s.Recovery2Key)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decode recovery2Key: %w", err)
		}
		t.Recovery2Key = recovery2Key
	}

	var legacy []wallet.EdgeWalletInfo

	// Step 7: legacy BitID.
	if s.MnemonicBox != nil && s.RootKeyBox != nil {
		rootKey, err := box.Decrypt(s.RootKeyBox, loginKey)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decrypt rootKeyBox: %w", err)
		}
		infoKey := box.HMACSHA256(rootKey, []byte("infoKey"))
		mnemonic, err := box.DecryptText(s.MnemonicBox, infoKey)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decrypt mnemonicBox: %w", err)
		}
		legacy = append(legacy, wallet.FixWalletInfo(wallet.EdgeWalletInfo{
			Type: "wallet:bitid",
			Keys: map[string]interface{}{"mnemonic": mnemonic},
		}))
	}

	// Step 8: account sync.
	if s.SyncKeyBox != nil {
		syncKey, err := box.Decrypt(s.SyncKeyBox, loginKey)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decrypt syncKeyBox: %w", err)
		}
		legacy = append(legacy, wallet.FixWalletInfo(wallet.EdgeWalletInfo{
			Type: accountType(s.AppID),
			Keys: map[string]interface{}{
				"syncKey": codec.Base16Encode(syncKey),
				"dataKey": codec.Base64Encode(loginKey),
			},
		}))
	}

	// Step 9: wallet keyBoxes.
	var parsed []wallet.EdgeWalletInfo
	for i, kb := range s.KeyBoxes {
		plaintext, err := box.Decrypt(kb, loginKey)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decrypt keyBoxes[%d]: %w", i, err)
		}
		info, err := wallet.ParseKeyBox(plaintext)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: parse keyBoxes[%d]: %w", i, err)
		}
		parsed = append(parsed, info)
	}

	// Step 10: merge.
	t.KeyInfos = wallet.Merge(legacy, parsed)

	// Step 11: recurse into children, deriving each child's key from
	// its parentBox.
	children := make([]LoginTree, 0, len(s.Children()))
	for _, child := range s.Children() {
		if child.ParentBox == nil {
			return LoginTree{}, fmt.Errorf("logintree: child %q: %w", child.AppID, loginerr.ErrKeyIntegrity)
		}
		childKey, err := box.Decrypt(child.ParentBox, loginKey)
		if err != nil {
			return LoginTree{}, fmt.Errorf("logintree: decrypt parentBox for %q: %w", child.AppID, loginerr.ErrKeyIntegrity)
		}
		childTree, err := makeLoginTreeInner(child, childKey)
		if err != nil {
			return LoginTree{}, err
		}
		children = append(children, childTree)
	}
	t.ChildTrees = children

	return t, nil
}

// accountType computes the legacy sync-key wallet info's type tag for
// a given appId, following the project's "account:repo:<appId>"
// naming convention; the root login's sync record uses the fixed type
// "account:repo:co.edge.login".
func accountType(appId string) string {
	if appId == "" {
		return "account:repo:co.edge.login"
	}
	return "account:repo:" + appId
}

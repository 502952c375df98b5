package logintree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
	"github.com/kindlyrobotics/edge-login-core/internal/codec"
	"github.com/kindlyrobotics/edge-login-core/internal/loginerr"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := box.GenerateKey()
	require.NoError(t, err)
	return key
}

func mustBox(t *testing.T, key, plaintext []byte) *box.EdgeBox {
	t.Helper()
	eb, err := box.Encrypt(key, plaintext)
	require.NoError(t, err)
	return eb
}

func TestMakeLoginTreeDecryptsAuth(t *testing.T) {
	loginKey := mustKey(t)
	loginAuth := mustKey(t)

	s := stash.LoginStash{
		AppID:        "",
		LoginID:      "root-id",
		Username:     "edge",
		LoginAuthBox: mustBox(t, loginKey, loginAuth),
	}

	tree, err := MakeLoginTree(s, loginKey, "")
	require.NoError(t, err)
	require.Equal(t, "edge", tree.Username)
	require.Equal(t, loginAuth, tree.LoginAuth)
	require.Equal(t, loginKey, tree.LoginKey)
	require.False(t, tree.LastLogin.IsZero())
}

func TestMakeLoginTreePasswordAuthDefaultsUserID(t *testing.T) {
	loginKey := mustKey(t)
	passwordAuth := mustKey(t)

	s := stash.LoginStash{
		LoginID:         "root-id",
		Username:        "edge",
		PasswordAuthBox: mustBox(t, loginKey, passwordAuth),
	}

	tree, err := MakeLoginTree(s, loginKey, "")
	require.NoError(t, err)
	require.Equal(t, passwordAuth, tree.PasswordAuth)
	require.Equal(t, "root-id", tree.UserID)
}

func TestMakeLoginTreeMissingAuth(t *testing.T) {
	s := stash.LoginStash{LoginID: "root-id", Username: "edge"}

	_, err := MakeLoginTree(s, mustKey(t), "")
	require.ErrorIs(t, err, loginerr.ErrMissingAuth)
}

func TestMakeLoginTreePinMaterial(t *testing.T) {
	loginKey := mustKey(t)
	pin2Key := mustKey(t)

	s := stash.LoginStash{
		LoginID:      "root-id",
		Username:     "edge",
		LoginAuthBox: mustBox(t, loginKey, mustKey(t)),
		Pin2Key:      codec.Base64Encode(pin2Key),
		Pin2TextBox:  mustBox(t, loginKey, []byte("1234")),
	}

	tree, err := MakeLoginTree(s, loginKey, "")
	require.NoError(t, err)
	require.Equal(t, pin2Key, tree.Pin2Key)
	require.Equal(t, "1234", tree.Pin)
}

func TestMakeLoginTreeChildKeyDerivation(t *testing.T) {
	rootKey := mustKey(t)
	childKey := mustKey(t)

	s := stash.LoginStash{
		LoginID:      "root-id",
		Username:     "edge",
		LoginAuthBox: mustBox(t, rootKey, mustKey(t)),
		ChildStashes: []stash.LoginStash{{
			AppID:        "app.child",
			LoginID:      "child-id",
			ParentBox:    mustBox(t, rootKey, childKey),
			LoginAuthBox: mustBox(t, childKey, mustKey(t)),
		}},
	}

	tree, err := MakeLoginTree(s, rootKey, "")
	require.NoError(t, err)
	require.Len(t, tree.ChildTrees, 1)
	require.Equal(t, childKey, tree.ChildTrees[0].LoginKey)
	require.Equal(t, "app.child", tree.ChildTrees[0].AppID)
}

func TestMakeLoginTreeMissingParentBox(t *testing.T) {
	rootKey := mustKey(t)

	s := stash.LoginStash{
		LoginID:      "root-id",
		Username:     "edge",
		LoginAuthBox: mustBox(t, rootKey, mustKey(t)),
		ChildStashes: []stash.LoginStash{{AppID: "app.child", LoginID: "child-id"}},
	}

	_, err := MakeLoginTree(s, rootKey, "")
	require.ErrorIs(t, err, loginerr.ErrKeyIntegrity)
}

func TestMakeLoginTreeOuterCloneHidesOtherApps(t *testing.T) {
	rootKey := mustKey(t)
	childKey := mustKey(t)

	s := stash.LoginStash{
		AppID:        "",
		LoginID:      "root-id",
		Username:     "edge",
		LoginAuthBox: mustBox(t, rootKey, mustKey(t)),
		ChildStashes: []stash.LoginStash{{
			AppID:        "app.child",
			LoginID:      "child-id",
			ParentBox:    mustBox(t, rootKey, childKey),
			LoginAuthBox: mustBox(t, childKey, mustKey(t)),
		}},
	}

	// Build for the child's appId using the child's own key: the root
	// must come back as a bare shell with no decrypted material.
	tree, err := MakeLoginTree(s, childKey, "app.child")
	require.NoError(t, err)
	require.Equal(t, "root-id", tree.LoginID)
	require.Nil(t, tree.LoginAuth)
	require.Nil(t, tree.LoginKey)
	require.Len(t, tree.ChildTrees, 1)
	require.Equal(t, childKey, tree.ChildTrees[0].LoginKey)
}

func TestMakeLoginTreeLegacyBitID(t *testing.T) {
	loginKey := mustKey(t)
	rootKey := mustKey(t)
	infoKey := box.HMACSHA256(rootKey, []byte("infoKey"))

	s := stash.LoginStash{
		LoginID:      "root-id",
		Username:     "edge",
		LoginAuthBox: mustBox(t, loginKey, mustKey(t)),
		RootKeyBox:   mustBox(t, loginKey, rootKey),
		MnemonicBox:  mustBox(t, infoKey, []byte("abandon ability able")),
	}

	tree, err := MakeLoginTree(s, loginKey, "")
	require.NoError(t, err)
	require.Len(t, tree.KeyInfos, 1)
	require.Equal(t, "wallet:bitid", tree.KeyInfos[0].Type)
	require.Equal(t, "abandon ability able", tree.KeyInfos[0].Keys["mnemonic"])
}

func TestMakeLoginTreeSyncKeyInfo(t *testing.T) {
	loginKey := mustKey(t)
	syncKey := mustKey(t)

	s := stash.LoginStash{
		LoginID:      "root-id",
		Username:     "edge",
		LoginAuthBox: mustBox(t, loginKey, mustKey(t)),
		SyncKeyBox:   mustBox(t, loginKey, syncKey),
	}

	tree, err := MakeLoginTree(s, loginKey, "")
	require.NoError(t, err)
	require.Len(t, tree.KeyInfos, 1)
	require.Equal(t, codec.Base16Encode(syncKey), tree.KeyInfos[0].Keys["syncKey"])
	require.Equal(t, codec.Base64Encode(loginKey), tree.KeyInfos[0].Keys["dataKey"])
}

func TestMakeLoginTreeParsesKeyBoxes(t *testing.T) {
	loginKey := mustKey(t)

	info := map[string]interface{}{
		"id":   "w1",
		"type": "wallet:bitcoin",
		"keys": map[string]interface{}{"syncKey": "s"},
	}
	plaintext, err := json.Marshal(info)
	require.NoError(t, err)

	s := stash.LoginStash{
		LoginID:      "root-id",
		Username:     "edge",
		LoginAuthBox: mustBox(t, loginKey, mustKey(t)),
		KeyBoxes:     []*box.EdgeBox{mustBox(t, loginKey, plaintext)},
	}

	tree, err := MakeLoginTree(s, loginKey, "")
	require.NoError(t, err)
	require.Len(t, tree.KeyInfos, 1)
	require.Equal(t, "w1", tree.KeyInfos[0].ID)
}

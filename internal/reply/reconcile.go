// ApplyLoginReply merges a server LoginReply into a stash tree without
// ever trusting the server beyond a fixed field allowlist. It is the
// only place network-sourced data reaches a LoginStash. The allowlist
// is enumerated in code on purpose; copying whatever fields the reply
// happens to carry would hand the server a write path into client-only
// state.
package reply

import (
	"encoding/base64"
	"fmt"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
	"github.com/kindlyrobotics/edge-login-core/internal/loginerr"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
	"github.com/kindlyrobotics/edge-login-core/internal/tree"
)

// ApplyLoginReply locates the stash node whose AppID matches r.AppID and
// replaces it with the result of reconciling that node against r under
// loginKey, the key the caller already holds for that node.
func ApplyLoginReply(root stash.LoginStash, loginKey []byte, r LoginReply) (stash.LoginStash, error) {
	var reconcileErr error
	updated := tree.Update(root, func(s stash.LoginStash) bool {
		return s.AppID == r.AppID
	}, func(s stash.LoginStash) stash.LoginStash {
		next, err := applyLoginReplyInner(s, loginKey, r)
		if err != nil {
			reconcileErr = err
			return s
		}
		return next
	})
	if reconcileErr != nil {
		return stash.LoginStash{}, reconcileErr
	}
	return updated, nil
}

// applyLoginReplyInner reconciles a single stash node (and, recursively,
// its subtree) against the matching reply node.
func applyLoginReplyInner(prev stash.LoginStash, loginKey []byte, r LoginReply) (stash.LoginStash, error) {
	// Step 1: fixed allowlist copy. Nothing outside this list is ever
	// trusted from the reply, no matter what else it carries.
	next := stash.LoginStash{
		AppID:            r.AppID,
		Created:          r.Created,
		LoginID:          r.LoginID,
		LoginAuthBox:     r.LoginAuthBox,
		UserID:           r.UserID,
		OtpKey:           r.OtpKey,
		OtpResetDate:     r.OtpResetDate,
		OtpTimeout:       r.OtpTimeout,
		ParentBox:        r.ParentBox,
		PasswordAuthBox:  r.PasswordAuthBox,
		PasswordAuthSnrp: r.PasswordAuthSnrp,
		PasswordBox:      r.PasswordBox,
		PasswordKeySnrp:  r.PasswordKeySnrp,
		Pin2TextBox:      r.Pin2TextBox,
		MnemonicBox:      r.MnemonicBox,
		RootKeyBox:       r.RootKeyBox,
		SyncKeyBox:       r.SyncKeyBox,
	}

	// Step 2: preserve client-only fields the server never sees.
	next.LastLogin = prev.LastLogin
	next.Username = prev.Username
	if next.UserID == "" {
		next.UserID = prev.UserID
	}

	// Step 3: pin2KeyBox decrypts once, then persists as plaintext bytes.
	if r.Pin2KeyBox != nil {
		key, err := box.Decrypt(r.Pin2KeyBox, loginKey)
		if err != nil {
			return stash.LoginStash{}, fmt.Errorf("reply: decrypt pin2KeyBox: %w", err)
		}
		next.Pin2Key = base64.StdEncoding.EncodeToString(key)
	} else {
		next.Pin2Key = prev.Pin2Key
	}

	// Step 4: same treatment for recovery2KeyBox.
	if r.Recovery2KeyBox != nil {
		key, err := box.Decrypt(r.Recovery2KeyBox, loginKey)
		if err != nil {
			return stash.LoginStash{}, fmt.Errorf("reply: decrypt recovery2KeyBox: %w", err)
		}
		next.Recovery2Key = base64.StdEncoding.EncodeToString(key)
	} else {
		next.Recovery2Key = prev.Recovery2Key
	}

	// Step 5: keyBoxes is always overwritten wholesale by the reply.
	next.KeyBoxes = r.KeyBoxes

	// Step 6: recurse into children. The server may never shrink a
	// subtree's child count, at any depth.
	if len(prev.ChildStashes) > len(r.Children) {
		return stash.LoginStash{}, fmt.Errorf("reply: %w", loginerr.ErrServerLostChildren)
	}

	children := make([]stash.LoginStash, 0, len(r.Children))
	for i, childReply := range r.Children {
		if childReply.ParentBox == nil {
			return stash.LoginStash{}, fmt.Errorf("reply: child %q: %w", childReply.AppID, loginerr.ErrKeyIntegrity)
		}
		childKey, err := box.Decrypt(childReply.ParentBox, loginKey)
		if err != nil {
			return stash.LoginStash{}, fmt.Errorf("reply: child %q parentBox: %w", childReply.AppID, loginerr.ErrKeyIntegrity)
		}

		prevChild := stash.LoginStash{AppID: childReply.AppID, LoginID: childReply.LoginID}
		if i < len(prev.ChildStashes) {
			prevChild = prev.ChildStashes[i]
		}

		nextChild, err := applyLoginReplyInner(prevChild, childKey, childReply)
		if err != nil {
			return stash.LoginStash{}, err
		}
		children = append(children, nextChild)
	}
	next.ChildStashes = children

	return next, nil
}

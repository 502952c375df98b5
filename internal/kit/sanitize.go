package kit

import (
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
)

// SanitizeLoginStash prepares a stash tree for sharing with a
// cooperating app of narrower scope: the subtree whose appId matches is
// returned verbatim, while every other node is stripped down to its
// bare identity — username, appId, loginId, and children — so the
// receiving app can navigate to its own node without seeing anyone
// else's envelope material.
func SanitizeLoginStash(s stash.LoginStash, appID string) stash.LoginStash {
	if s.AppID == appID {
		return s
	}

	children := make([]stash.LoginStash, len(s.ChildStashes))
	for i, child := range s.ChildStashes {
		children[i] = SanitizeLoginStash(child, appID)
	}
	return stash.LoginStash{
		Username:     s.Username,
		AppID:        s.AppID,
		LoginID:      s.LoginID,
		ChildStashes: children,
	}
}

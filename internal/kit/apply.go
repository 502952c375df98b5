package kit

import (
	"context"
	"fmt"

	"github.com/kindlyrobotics/edge-login-core/internal/loginerr"
	"github.com/kindlyrobotics/edge-login-core/internal/logintree"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
	"github.com/kindlyrobotics/edge-login-core/internal/tree"
)

// ApplyKit applies one kit to server, memory, and disk in that order.
// If the disk write fails after the server accepted the change, the
// returned error still carries the already-updated trees' divergence:
// the caller must surface it and may retry persistence, since server
// and memory are already current.
func (sess *Session) ApplyKit(
	ctx context.Context,
	loginTree logintree.LoginTree,
	stashTree stash.LoginStash,
	k LoginKit,
) (logintree.LoginTree, stash.LoginStash, error) {
	target, ok := tree.Search(loginTree, func(t logintree.LoginTree) bool {
		return t.LoginID == k.LoginID
	})
	if !ok {
		return logintree.LoginTree{}, stash.LoginStash{}, fmt.Errorf("kit: loginId %q: %w", k.LoginID, loginerr.ErrMissingLogin)
	}

	req, err := MakeAuthJson(target)
	if err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}
	req.Data = k.Server

	method := k.ServerMethod
	if method == "" {
		method = "POST"
	}
	if _, err := sess.Fetch.Fetch(ctx, method, k.ServerPath, req); err != nil {
		return logintree.LoginTree{}, stash.LoginStash{}, err
	}

	newLoginTree := tree.Update(loginTree, func(t logintree.LoginTree) bool {
		return t.LoginID == k.LoginID
	}, func(t logintree.LoginTree) logintree.LoginTree {
		return applyLoginDelta(t, k.Login)
	})

	newStashTree := tree.Update(stashTree, func(s stash.LoginStash) bool {
		return s.LoginID == k.LoginID
	}, func(s stash.LoginStash) stash.LoginStash {
		return applyStashDelta(s, k.Stash)
	})

	if err := sess.Store.SaveStash(newStashTree); err != nil {
		return newLoginTree, newStashTree, err
	}

	log.Printf("applied kit %s %s for %s", method, k.ServerPath, k.LoginID)
	return newLoginTree, newStashTree, nil
}

// ApplyKits applies kits strictly in order, each one's output feeding
// the next call. Kits routinely touch overlapping subtrees, so running
// them concurrently would lose writes.
func (sess *Session) ApplyKits(
	ctx context.Context,
	loginTree logintree.LoginTree,
	stashTree stash.LoginStash,
	kits []LoginKit,
) (logintree.LoginTree, stash.LoginStash, error) {
	var err error
	for _, k := range kits {
		loginTree, stashTree, err = sess.ApplyKit(ctx, loginTree, stashTree, k)
		if err != nil {
			return loginTree, stashTree, err
		}
	}
	return loginTree, stashTree, nil
}

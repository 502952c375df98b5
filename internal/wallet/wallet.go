/*
Package wallet implements EdgeWalletInfo and its merge rules: wallet
key records decrypted out of a LoginStash's keyBoxes, plus the legacy
BitID and account sync-key records the tree builder synthesizes, are
deduplicated by a canonical id, with JSON fields unioned, preferring
whichever value was already present when two records collide.
*/
package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// EdgeWalletInfo is an opaque wallet key record: a type tag plus a
// JSON blob of keys understood only by the wallet plugin that owns
// Type. The login core never interprets Keys beyond merging it.
type EdgeWalletInfo struct {
	ID    string                 `json:"id"`
	Type  string                 `json:"type"`
	Keys  map[string]interface{} `json:"keys"`
	Added bool                   `json:"added,omitempty"`
}

// CanonicalID derives the dedup key for a wallet info record: its own
// ID if already assigned (as for keyBoxes-derived infos, which carry a
// stable id), otherwise a hash of type+sorted-keys so equivalent
// legacy-synthesized records (BitID, sync-key) collapse together.
func CanonicalID(info EdgeWalletInfo) string {
	if info.ID != "" {
		return info.ID
	}

	h := sha256.New()
	h.Write([]byte(info.Type))
	keys := make([]string, 0, len(info.Keys))
	for k := range info.Keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		if b, err := json.Marshal(info.Keys[k]); err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FixWalletInfo normalizes a freshly parsed wallet info record:
// ensures Keys is non-nil so later merges never nil-panic, and derives
// ID when the source JSON omitted it.
func FixWalletInfo(info EdgeWalletInfo) EdgeWalletInfo {
	if info.Keys == nil {
		info.Keys = map[string]interface{}{}
	}
	if info.ID == "" {
		info.ID = CanonicalID(info)
	}
	return info
}

// Merge deduplicates a and b by CanonicalID, unioning each pair's Keys
// fields. a is the existing list and its values win when both sides
// set the same field.
func Merge(a, b []EdgeWalletInfo) []EdgeWalletInfo {
	byID := make(map[string]EdgeWalletInfo, len(a)+len(b))
	order := make([]string, 0, len(a)+len(b))

	add := func(info EdgeWalletInfo) {
		info = FixWalletInfo(info)
		id := info.ID
		existing, ok := byID[id]
		if !ok {
			byID[id] = info
			order = append(order, id)
			return
		}
		byID[id] = unionKeys(existing, info)
	}

	for _, info := range a {
		add(info)
	}
	for _, info := range b {
		add(info)
	}

	merged := make([]EdgeWalletInfo, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return merged
}

// unionKeys merges incoming's Keys into existing's, keeping existing's
// value whenever both define the same field.
func unionKeys(existing, incoming EdgeWalletInfo) EdgeWalletInfo {
	for k, v := range incoming.Keys {
		if _, present := existing.Keys[k]; !present {
			existing.Keys[k] = v
		}
	}
	if !existing.Added {
		existing.Added = incoming.Added
	}
	return existing
}

// ParseKeyBox parses a decrypted keyBoxes[i] payload, UTF-8 JSON,
// into an EdgeWalletInfo.
func ParseKeyBox(plaintext []byte) (EdgeWalletInfo, error) {
	var info EdgeWalletInfo
	if err := json.Unmarshal(plaintext, &info); err != nil {
		return EdgeWalletInfo{}, err
	}
	return FixWalletInfo(info), nil
}

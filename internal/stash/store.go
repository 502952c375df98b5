// Store is the local-disk home for LoginStash trees: LoadStashes,
// SaveStash, and RemoveStash, keyed by the base58-encoded loginId
// filename under the "logins" directory.
package stash

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kindlyrobotics/edge-login-core/internal/codec"
	"github.com/kindlyrobotics/edge-login-core/internal/config"
	"github.com/kindlyrobotics/edge-login-core/internal/events"
	"github.com/kindlyrobotics/edge-login-core/internal/loginerr"
	"github.com/kindlyrobotics/edge-login-core/internal/xlog"
)

var log = xlog.New("Stash")

// Store reads and writes LoginStash trees under a local disklet root.
type Store struct {
	root   string
	sink   events.Sink
	mirror *Mirror
}

// NewStore creates a Store rooted at cfg.StashDir, creating the
// "logins" subdirectory if it does not already exist. sink may be nil,
// in which case stash lifecycle events are simply not published.
func NewStore(cfg config.Config, sink events.Sink) (*Store, error) {
	s := &Store{root: cfg.StashDir, sink: sink}
	if err := os.MkdirAll(s.loginsDir(), 0o700); err != nil {
		return nil, fmt.Errorf("stash: create logins dir: %w", err)
	}
	log.Printf("store opened at %s", s.loginsDir())
	return s, nil
}

// SetMirror attaches an optional S3 mirror; subsequent SaveStash and
// RemoveStash calls replicate to it best-effort. A nil mirror disables
// replication, which is also the default.
func (s *Store) SetMirror(m *Mirror) { s.mirror = m }

func (s *Store) loginsDir() string {
	return filepath.Join(s.root, "logins")
}

// filename derives the on-disk name for a root stash from its loginId:
// logins/<base58(loginId)>.json.
func (s *Store) filename(loginIDBase64 string) (string, error) {
	raw, err := codec.Base64Decode(loginIDBase64)
	if err != nil {
		return "", fmt.Errorf("stash: decode loginId: %w", err)
	}
	return filepath.Join(s.loginsDir(), codec.Base58Encode(raw)+".json"), nil
}

// LoadStashes reads every root LoginStash under the logins directory.
// A file that fails to parse is logged and skipped rather than
// aborting the whole load, since one corrupt stash must never block
// access to the rest of a user's devices.
func (s *Store) LoadStashes() ([]LoginStash, error) {
	entries, err := os.ReadDir(s.loginsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stash: read logins dir: %w", err)
	}

	stashes := make([]LoginStash, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.loginsDir(), entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("skipping %s: %v", entry.Name(), err)
			continue
		}
		var stash LoginStash
		if err := json.Unmarshal(data, &stash); err != nil {
			log.Printf("skipping corrupt stash %s: %v", entry.Name(), err)
			continue
		}
		stashes = append(stashes, stash)
	}
	return stashes, nil
}

// SaveStash writes a root LoginStash to disk as a single whole-file
// write; stashes are never partially updated in place. stash.AppID must
// be empty and stash.Username must be set, since only a root node is
// ever persisted directly; children travel inside it.
func (s *Store) SaveStash(stash LoginStash) error {
	if stash.AppID != "" {
		return fmt.Errorf("stash: %w: only the root stash is saved directly", loginerr.ErrInvalidStash)
	}
	if stash.Username == "" {
		return fmt.Errorf("stash: %w: root stash missing username", loginerr.ErrInvalidStash)
	}
	raw, err := codec.Base64Decode(stash.LoginID)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("stash: %w: loginId must decode to 32 bytes", loginerr.ErrInvalidStash)
	}

	path, err := s.filename(stash.LoginID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(stash, "", "  ")
	if err != nil {
		return fmt.Errorf("stash: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("stash: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("stash: rename into place: %w", err)
	}

	log.Printf("saved stash for %q", stash.Username)
	if s.mirror != nil {
		if err := s.mirror.MirrorStash(context.Background(), stash.LoginID, data); err != nil {
			log.Printf("mirror upload failed for %q: %v", stash.Username, err)
		}
	}
	if s.sink != nil {
		s.sink.Publish(events.Event{Kind: events.LoginStashSaved, Username: stash.Username, Stash: stash})
	}
	return nil
}

// RemoveStash deletes every saved stash whose username matches the
// normalized input. It scans LoadStashes rather than trusting a
// caller-supplied loginId, since the filename is keyed by loginId but
// callers identify a stash by username. Removing a username with no
// saved stash is a no-op.
func (s *Store) RemoveStash(username string) error {
	name := NormalizeUsername(username)
	stashes, err := s.LoadStashes()
	if err != nil {
		return err
	}

	removed := false
	for _, stash := range stashes {
		if NormalizeUsername(stash.Username) != name {
			continue
		}
		path, err := s.filename(stash.LoginID)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stash: remove %s: %w", path, err)
		}
		removed = true
		log.Printf("removed stash for %q", name)
		if s.mirror != nil {
			if err := s.mirror.RemoveMirroredStash(context.Background(), stash.LoginID); err != nil {
				log.Printf("mirror delete failed for %q: %v", name, err)
			}
		}
	}

	if removed && s.sink != nil {
		s.sink.Publish(events.Event{Kind: events.LoginStashDeleted, Username: name})
	}
	return nil
}

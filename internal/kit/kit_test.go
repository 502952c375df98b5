package kit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/edge-login-core/internal/config"
	"github.com/kindlyrobotics/edge-login-core/internal/scrypt"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
)

type fetchCall struct {
	Method string
	Path   string
	Body   interface{}
}

// fakeFetch records every call and answers from a test-supplied handler.
type fakeFetch struct {
	calls   []fetchCall
	handler func(method, path string, body interface{}) (json.RawMessage, error)
}

func (f *fakeFetch) Fetch(_ context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	f.calls = append(f.calls, fetchCall{Method: method, Path: path, Body: body})
	if f.handler == nil {
		return json.RawMessage(`{}`), nil
	}
	return f.handler(method, path, body)
}

func newTestSession(t *testing.T, fetch *fakeFetch) *Session {
	t.Helper()
	store, err := stash.NewStore(config.Config{StashDir: t.TempDir()}, nil)
	require.NoError(t, err)
	return &Session{
		Fetch:  fetch,
		Store:  store,
		Scrypt: scrypt.NewQueue(nil),
		// A benchmark slower than the target keeps freshly chosen scrypt
		// parameters at the floor, so tests stay quick.
		ScryptBenchMs:  3000,
		ScryptTargetMs: 2000,
	}
}

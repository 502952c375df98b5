package scrypt

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	xscrypt "golang.org/x/crypto/scrypt"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
)

// Benchmark (n, r, p) parameters: the cost scrypt is measured at to
// produce benchMs.
const (
	benchN = 16384
	benchR = 8
	benchP = 1
)

const (
	startN = 16384
	startR = 8
	startP = 1

	nCap = 1 << 17
	pCap = 64
)

// rCap equals startR, so the "increase r first" branch never fires.
// That matches the historical chooser exactly; raising the cap would
// change the persisted on-wire parameters, so it stays a var for tests
// but the default must not move.
var rCap = startR

// ChooseSNRP derives scrypt parameters targeting targetMs of latency on
// a device that takes benchMs to run scrypt at (n=16384, r=8, p=1).
// The salt is freshly randomized on every call.
func ChooseSNRP(benchMs, targetMs int) (*box.EdgeSnrp, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("scrypt: generate salt: %w", err)
	}

	if benchMs == 0 {
		return &box.EdgeSnrp{Salt: salt, N: 131072, R: 8, P: 64}, nil
	}

	n, r, p := startN, startR, startP
	remaining := targetMs - benchMs

	// Step 1: increase r first (linear in time). See the rCap comment:
	// with the default cap this loop body never runs.
	for remaining > 0 && r < rCap {
		stepMs := benchMs / (startN / n) // always benchMs at n==startN
		if stepMs <= 0 {
			break
		}
		r++
		remaining -= stepMs
	}

	// Step 2: double n (capped at 2^17), each doubling roughly doubles
	// scrypt's running time.
	costMs := benchMs * (r / startR)
	for remaining > 0 && n < nCap {
		n *= 2
		costMs *= 2
		remaining -= costMs / 2
	}

	// Step 3: increase p (capped at 64), linear in time like r.
	for remaining > 0 && p < pCap {
		stepMs := costMs
		if stepMs <= 0 {
			break
		}
		p++
		remaining -= stepMs
	}

	return &box.EdgeSnrp{Salt: salt, N: n, R: r, P: p}, nil
}

// DeriveScryptKey runs scrypt(password, snrp.Salt, snrp.N, snrp.R,
// snrp.P, dklen) through the single-slot Queue. A nil queue runs
// scrypt directly, for callers that are already exclusive.
func DeriveScryptKey(ctx context.Context, q *Queue, password []byte, snrp *box.EdgeSnrp, dklen int) ([]byte, error) {
	run := func() ([]byte, error) {
		return xscrypt.Key(password, snrp.Salt, snrp.N, snrp.R, snrp.P, dklen)
	}
	if q == nil {
		return run()
	}
	return q.Run(ctx, run)
}

package scrypt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/edge-login-core/internal/box"
)

func TestChooseSNRPZeroBenchmark(t *testing.T) {
	snrp, err := ChooseSNRP(0, 2000)
	require.NoError(t, err)
	require.Equal(t, 131072, snrp.N)
	require.Equal(t, 8, snrp.R)
	require.Equal(t, 64, snrp.P)
	require.Len(t, snrp.Salt, 32)
}

func TestChooseSNRPSlowDevice(t *testing.T) {
	// The benchmark already exceeds the target: stay at the floor.
	snrp, err := ChooseSNRP(3000, 2000)
	require.NoError(t, err)
	require.Equal(t, 16384, snrp.N)
	require.Equal(t, 8, snrp.R)
	require.Equal(t, 1, snrp.P)
}

func TestChooseSNRPFastDeviceHitsCaps(t *testing.T) {
	snrp, err := ChooseSNRP(1, 60000)
	require.NoError(t, err)
	require.LessOrEqual(t, snrp.N, 1<<17)
	require.LessOrEqual(t, snrp.P, 64)
	require.Equal(t, 8, snrp.R)
}

func TestChooseSNRPNeverRaisesR(t *testing.T) {
	// The r budget step is capped at its own starting value, so r stays
	// put across the whole benchmark range.
	for _, benchMs := range []int{1, 10, 100, 1000, 5000} {
		snrp, err := ChooseSNRP(benchMs, 10000)
		require.NoError(t, err)
		require.Equal(t, 8, snrp.R, "benchMs=%d", benchMs)
	}
}

func TestChooseSNRPFreshSaltPerCall(t *testing.T) {
	a, err := ChooseSNRP(0, 2000)
	require.NoError(t, err)
	b, err := ChooseSNRP(0, 2000)
	require.NoError(t, err)
	require.NotEqual(t, a.Salt, b.Salt)
}

func TestDeriveScryptKeyMatchesDirectCall(t *testing.T) {
	snrp := &box.EdgeSnrp{Salt: []byte("fixed-salt-for-test"), N: 1024, R: 1, P: 1}

	direct, err := DeriveScryptKey(context.Background(), nil, []byte("password"), snrp, 32)
	require.NoError(t, err)
	require.Len(t, direct, 32)

	queued, err := DeriveScryptKey(context.Background(), NewQueue(nil), []byte("password"), snrp, 32)
	require.NoError(t, err)
	require.Equal(t, direct, queued)
}

func TestQueueSerializesCalls(t *testing.T) {
	q := NewQueue(nil)

	var mu sync.Mutex
	running := 0
	maxRunning := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Run(context.Background(), func() ([]byte, error) {
				mu.Lock()
				running++
				if running > maxRunning {
					maxRunning = running
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil, nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxRunning)
}

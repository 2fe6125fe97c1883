package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type slowAdapter struct {
	*fakeAdapter
	release chan struct{}
}

func (s *slowAdapter) ConnectionState(ctx context.Context) (ConnState, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ConnStateDisconnected, ctx.Err()
	}
	return s.fakeAdapter.ConnectionState(ctx)
}

func TestProbeResultIsCachedWithinTTL(t *testing.T) {
	h := newHarness(t)
	a := h.login("uma")

	rc := NewReconciler(h.registry, time.Second, time.Hour, nil, zaptest.NewLogger(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.Equal(t, Connectivity{Connected: true, Reason: ReasonConnected}, rc.CheckConnectivity(ctx, "uma"))
	}

	a.mu.Lock()
	probes := a.probes
	a.mu.Unlock()
	assert.Equal(t, 1, probes)
}

func TestConcurrentProbesAreCoalesced(t *testing.T) {
	logger := zaptest.NewLogger(t)
	slow := &slowAdapter{fakeAdapter: newFakeAdapter("vic"), release: make(chan struct{})}
	slow.state = ConnStateConnected

	registry, err := NewRegistry(RegistryOptions{
		Factory: func(string) (Adapter, error) { return slow, nil },
		Logger:  logger,
	})
	require.NoError(t, err)
	defer registry.Shutdown(context.Background())

	_, err = registry.Start("vic")
	require.NoError(t, err)
	rc := NewReconciler(registry, time.Second, 0, nil, logger)

	var wg sync.WaitGroup
	results := make([]Connectivity, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = rc.CheckConnectivity(context.Background(), "vic")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(slow.release)
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.Connected)
	}
	slow.mu.Lock()
	defer slow.mu.Unlock()
	assert.Less(t, slow.probes, len(results))
}

func TestProbeTimeoutMeansNotConnected(t *testing.T) {
	logger := zaptest.NewLogger(t)
	slow := &slowAdapter{fakeAdapter: newFakeAdapter("walt"), release: make(chan struct{})}

	registry, err := NewRegistry(RegistryOptions{
		Factory: func(string) (Adapter, error) { return slow, nil },
		Logger:  logger,
	})
	require.NoError(t, err)
	defer registry.Shutdown(context.Background())

	_, err = registry.Start("walt")
	require.NoError(t, err)
	rc := NewReconciler(registry, 20*time.Millisecond, 0, nil, logger)

	got := rc.CheckConnectivity(context.Background(), "walt")
	assert.Equal(t, Connectivity{Reason: ReasonNotConnected}, got)

	snap, ok := registry.Snapshot("walt")
	require.True(t, ok)
	assert.False(t, snap.LastKnownConnected)
	assert.False(t, snap.LastReconciledAt.IsZero())
}

func TestCallerCancellationDoesNotFailSharedProbe(t *testing.T) {
	h := newHarness(t)
	h.login("xena")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := h.manager.CheckConnectivity(ctx, "xena")
	assert.True(t, got.Connected)
}

func TestRestartedTenantIsNotAnsweredByReplacedAdapter(t *testing.T) {
	logger := zaptest.NewLogger(t)
	old := &slowAdapter{fakeAdapter: newFakeAdapter("yara"), release: make(chan struct{})}
	defer close(old.release)
	fresh := newFakeAdapter("yara")
	fresh.state = ConnStateConnected

	var made int
	registry, err := NewRegistry(RegistryOptions{
		Factory: func(string) (Adapter, error) {
			made++
			if made == 1 {
				return old, nil
			}
			return fresh, nil
		},
		Logger: logger,
	})
	require.NoError(t, err)
	defer registry.Shutdown(context.Background())
	rc := NewReconciler(registry, 5*time.Second, 0, nil, logger)

	_, err = registry.Start("yara")
	require.NoError(t, err)
	old.emit(Event{Kind: EventAuthFailure, Detail: "rejected"})
	require.Eventually(t, func() bool {
		snap, _ := registry.Snapshot("yara")
		return snap.Status == StatusAuthFailure
	}, time.Second, 5*time.Millisecond)

	go rc.CheckConnectivity(context.Background(), "yara")
	time.Sleep(20 * time.Millisecond)

	_, err = registry.Start("yara")
	require.NoError(t, err)

	got := make(chan Connectivity, 1)
	go func() { got <- rc.CheckConnectivity(context.Background(), "yara") }()
	select {
	case c := <-got:
		assert.Equal(t, Connectivity{Connected: true, Reason: ReasonConnected}, c)
	case <-time.After(time.Second):
		t.Fatal("probe of the new adapter waited on the replaced one")
	}
}

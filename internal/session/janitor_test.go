package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDir(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "store.db"), []byte("keys"), 0o600))
}

func TestValidateTenant(t *testing.T) {
	tests := []struct {
		tenant string
		ok     bool
	}{
		{"alice", true},
		{"shop-42", true},
		{"acme.eu_1", true},
		{"", false},
		{".hidden", false},
		{"../etc", false},
		{"a/b", false},
		{"with space", false},
		{"session-alice", false},
		{"SESSION-alice", false},
		{"sessions", true},
	}
	for _, tt := range tests {
		t.Run(tt.tenant, func(t *testing.T) {
			err := ValidateTenant(tt.tenant)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTenant)
			}
		})
	}
}

func TestDeleteCredentialsNothingStored(t *testing.T) {
	h := newHarness(t)

	removed, err := h.manager.DeleteCredentials("nobody")
	require.NoError(t, err)
	assert.NotNil(t, removed)
	assert.Empty(t, removed)
}

func TestDeleteCredentialsRemovesCurrentAndLegacy(t *testing.T) {
	h := newHarness(t)
	current := h.layout.Dir("olga")
	legacy := h.layout.Legacy("olga")
	seedDir(t, current)
	seedDir(t, legacy[1])
	seedDir(t, h.layout.Dir("other"))

	removed, err := h.manager.DeleteCredentials("olga")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{current, legacy[1]}, removed)

	assert.NoDirExists(t, current)
	assert.NoDirExists(t, legacy[1])
	assert.DirExists(t, h.layout.Dir("other"))
}

func TestDeleteCredentialsRefusesLiveSession(t *testing.T) {
	h := newHarness(t)
	h.login("paul")
	seedDir(t, h.layout.Dir("paul"))

	_, err := h.manager.DeleteCredentials("paul")
	require.ErrorIs(t, err, ErrSessionActive)
	assert.DirExists(t, h.layout.Dir("paul"))
}

func TestDeleteCredentialsCannotReachAnotherTenant(t *testing.T) {
	h := newHarness(t)
	h.login("alice")
	seedDir(t, h.layout.Dir("alice"))

	_, err := h.manager.DeleteCredentials("session-alice")
	require.ErrorIs(t, err, ErrInvalidTenant)
	_, err = h.manager.ForceReset(context.Background(), "session-alice")
	require.ErrorIs(t, err, ErrInvalidTenant)

	_, err = h.manager.DeleteCredentials("ALICE")
	require.ErrorIs(t, err, ErrSessionActive)

	assert.DirExists(t, h.layout.Dir("alice"))
	_, ok := h.registry.Snapshot("alice")
	assert.True(t, ok)
}

func TestDeleteCredentialsWaitsForAdapterClose(t *testing.T) {
	h := newHarness(t)
	a := h.login("vera")
	seedDir(t, h.layout.Dir("vera"))
	gate := make(chan struct{})
	a.set(func(f *fakeAdapter) { f.closeGate = gate })

	a.emit(Event{Kind: EventDisconnected, Detail: "dropped"})
	h.waitGone("vera")
	require.Eventually(t, func() bool {
		_, _, closes := a.counts()
		return closes == 1
	}, time.Second, 5*time.Millisecond)

	_, err := h.manager.DeleteCredentials("vera")
	require.ErrorIs(t, err, ErrSessionActive)
	assert.DirExists(t, h.layout.Dir("vera"))

	close(gate)
	require.Eventually(t, func() bool {
		_, err := h.manager.DeleteCredentials("vera")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	assert.NoDirExists(t, h.layout.Dir("vera"))
}

func TestCredentialPathsOverlap(t *testing.T) {
	l := CredentialLayout{Root: "/var/lib/wahub"}
	assert.False(t, overlaps(l.Paths("alice"), l.Paths("bob")))
	assert.False(t, overlaps(l.Paths("alice"), l.Paths("alice.eu")))
	assert.True(t, overlaps(l.Paths("alice"), l.Paths("Alice")))
	assert.True(t, overlaps([]string{"/var/lib/wahub/session-alice"}, []string{"/var/lib/wahub/session-alice/store.db"}))
}

func TestForceResetLiveTenant(t *testing.T) {
	h := newHarness(t)
	a := h.login("carol")
	seedDir(t, h.layout.Dir("carol"))

	removed, err := h.manager.ForceReset(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{h.layout.Dir("carol")}, removed)
	assert.NoDirExists(t, h.layout.Dir("carol"))

	_, logouts, closes := a.counts()
	assert.Equal(t, 1, logouts)
	assert.Equal(t, 1, closes)
	_, ok := h.registry.Snapshot("carol")
	assert.False(t, ok)
}

func TestForceResetSurvivesLogoutFailure(t *testing.T) {
	h := newHarness(t)
	a := h.login("rita")
	a.set(func(f *fakeAdapter) { f.logoutErr = errBoom })
	seedDir(t, h.layout.Dir("rita"))

	removed, err := h.manager.ForceReset(context.Background(), "rita")
	require.NoError(t, err)
	assert.Len(t, removed, 1)
}

func TestForceResetUnknownTenant(t *testing.T) {
	h := newHarness(t)
	removed, err := h.manager.ForceReset(context.Background(), "sam")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestStartDuringResetIsRefused(t *testing.T) {
	h := newHarness(t)
	release, err := h.registry.reserve("tara")
	require.NoError(t, err)

	_, err = h.manager.Start("tara")
	require.ErrorIs(t, err, ErrResetInProgress)
	_, err = h.manager.ForceReset(context.Background(), "tara")
	require.ErrorIs(t, err, ErrResetInProgress)

	release()
	_, err = h.manager.Start("tara")
	require.NoError(t, err)
}

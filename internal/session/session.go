package session

import (
	"time"
)

// Session binds a tenant id to its adapter. All fields are guarded by the
// owning Registry's mutex; nothing outside the registry mutates a Session.
type Session struct {
	id        string
	adapter   Adapter
	state     State
	startedAt time.Time

	lastReconciledAt   time.Time
	lastKnownConnected bool

	// closing is set once a caller-initiated teardown has claimed the
	// session; lifecycle events arriving afterwards are ignored.
	closing bool
	// stop ends the event pump for this adapter.
	stop chan struct{}
}

func newSession(id string, adapter Adapter, now time.Time) *Session {
	return &Session{
		id:        id,
		adapter:   adapter,
		state:     starting(),
		startedAt: now,
		stop:      make(chan struct{}),
	}
}

func lessSession(a, b *Session) bool { return a.id < b.id }

func (s *Session) snapshot() Snapshot {
	artifact, _ := s.state.Artifact()
	return Snapshot{
		Tenant:             s.id,
		Status:             s.state.Status(),
		Artifact:           artifact,
		Detail:             s.state.Detail(),
		StartedAt:          s.startedAt,
		LastReconciledAt:   s.lastReconciledAt,
		LastKnownConnected: s.lastKnownConnected,
	}
}

// Snapshot is an immutable copy of a session's observable state.
type Snapshot struct {
	Tenant             string    `json:"session"`
	Status             Status    `json:"status"`
	Artifact           string    `json:"artifact,omitempty"`
	Detail             string    `json:"detail,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	LastReconciledAt   time.Time `json:"last_reconciled_at"`
	LastKnownConnected bool      `json:"last_known_connected"`
}

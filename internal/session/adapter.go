package session

import (
	"context"
)

// ConnState is the adapter's view of its transport.
type ConnState int

const (
	ConnStateDisconnected ConnState = iota
	// ConnStateOpening means the transport is up but the account is not
	// (yet) usable for sending, e.g. while pairing.
	ConnStateOpening
	ConnStateConnected
)

func (c ConnState) String() string {
	switch c {
	case ConnStateConnected:
		return "CONNECTED"
	case ConnStateOpening:
		return "OPENING"
	default:
		return "DISCONNECTED"
	}
}

// EventKind tags an adapter lifecycle event.
type EventKind int

const (
	EventAuthArtifact EventKind = iota + 1
	EventAuthenticated
	EventReady
	EventAuthFailure
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventAuthArtifact:
		return "auth_artifact"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventAuthFailure:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification raised by an Adapter. Artifact is
// set for EventAuthArtifact, Detail for EventAuthFailure and
// EventDisconnected.
type Event struct {
	Kind     EventKind
	Artifact string
	Detail   string
}

// Media is an outbound binary attachment.
type Media struct {
	Data     []byte
	MIME     string
	Filename string
	Caption  string
}

// Adapter wraps one connection to the messaging backend. Long-running
// methods honour ctx. Events delivers lifecycle events in the order the
// backend raised them; the channel is never closed by the adapter, the
// registry stops reading it once the session is detached.
type Adapter interface {
	Initialize(ctx context.Context) error
	Events() <-chan Event
	ConnectionState(ctx context.Context) (ConnState, error)
	SendText(ctx context.Context, to, body string) error
	SendMedia(ctx context.Context, to string, media Media) error
	Logout(ctx context.Context) error
	// Close releases the connection and any open credential store handles
	// without touching the stored credentials.
	Close() error
}

// AdapterFactory builds the adapter for a tenant. It is called while the
// registry lock is held and must not block on network or disk I/O; that
// work belongs in Initialize.
type AdapterFactory func(tenant string) (Adapter, error)

package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// MessageType names a real-time event pushed to observers.
type MessageType string

const (
	MessageStatus       MessageType = "status"
	MessageAuthArtifact MessageType = "auth_artifact"
	MessageSent         MessageType = "sent"
	MessageError        MessageType = "error"
)

// Message is one event delivered to the observers of a tenant.
type Message struct {
	Type     MessageType `json:"event"`
	Tenant   string      `json:"session"`
	Status   string      `json:"status,omitempty"`
	Detail   string      `json:"detail,omitempty"`
	Artifact string      `json:"artifact,omitempty"`
	To       string      `json:"to,omitempty"`
	SendType string      `json:"type,omitempty"`
	Filename string      `json:"filename,omitempty"`
	Code     string      `json:"code,omitempty"`
	Error    string      `json:"message,omitempty"`
	At       time.Time   `json:"at"`
}

func statusMessage(tenant string, st Status, detail string, at time.Time) Message {
	return Message{Type: MessageStatus, Tenant: tenant, Status: st.String(), Detail: detail, At: at}
}

func artifactMessage(tenant, artifact string, at time.Time) Message {
	return Message{Type: MessageAuthArtifact, Tenant: tenant, Artifact: artifact, At: at}
}

func errorMessage(tenant string, err error, at time.Time) Message {
	return Message{Type: MessageError, Tenant: tenant, Code: Code(err), Error: err.Error(), At: at}
}

const minObserverBuffer = 4

// Broadcaster fans messages out to per-tenant observers. Delivery never
// blocks the publisher: an observer whose buffer is full is dropped and its
// channel closed, so every observer still attached has seen every message
// in publish order.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	logger *zap.Logger
}

func NewBroadcaster(buffer int, logger *zap.Logger) *Broadcaster {
	if buffer < minObserverBuffer {
		buffer = minObserverBuffer
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Broadcaster{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription is an observer's handle on one tenant's channel.
type Subscription struct {
	tenant string
	ch     chan Message
	b      *Broadcaster
}

func (s *Subscription) Tenant() string { return s.tenant }

// C is closed when the subscription ends, either by Close or because the
// observer fell behind.
func (s *Subscription) C() <-chan Message { return s.ch }

func (s *Subscription) Close() { s.b.remove(s) }

// subscribe attaches a new observer and queues replay ahead of any later
// publish. Callers that need the replay to be consistent with the live
// stream must serialise subscribe with Publish (the Registry does).
func (b *Broadcaster) subscribe(tenant string, replay ...Message) *Subscription {
	size := b.buffer
	if len(replay) > size {
		size = len(replay)
	}
	sub := &Subscription{tenant: tenant, ch: make(chan Message, size), b: b}
	for _, m := range replay {
		sub.ch <- m
	}
	b.mu.Lock()
	subs, ok := b.topics[tenant]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[tenant] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers msg to every current observer of tenant. Having no
// observers is not an error.
func (b *Broadcaster) Publish(tenant string, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[tenant] {
		select {
		case sub.ch <- msg:
		default:
			b.logger.Warn("session: dropping slow observer",
				zap.String("namespace", "session"),
				zap.String("tenant", tenant),
				zap.String("event", string(msg.Type)))
			b.detachLocked(sub)
		}
	}
}

// Observers returns the number of observers attached to tenant.
func (b *Broadcaster) Observers(tenant string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[tenant])
}

// CloseAll ends every subscription.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.topics {
		for sub := range subs {
			b.detachLocked(sub)
		}
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked(sub)
}

func (b *Broadcaster) detachLocked(sub *Subscription) {
	subs, ok := b.topics[sub.tenant]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.tenant)
	}
	close(sub.ch)
}

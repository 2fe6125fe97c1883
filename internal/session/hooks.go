package session

import "time"

// Topics published on the internal event bus. Handlers subscribed to them
// run synchronously inside the registry's critical section and must only
// hand the payload off (e.g. to a buffered queue).
const (
	TopicTransition = "session:transition"
	TopicDelivery   = "session:delivery"
)

// Transition is published on TopicTransition for every accepted status change.
type Transition struct {
	Tenant string
	From   Status
	To     Status
	Detail string
	At     time.Time
}

// Delivery is published on TopicDelivery for every send attempt that reached
// the adapter.
type Delivery struct {
	Tenant   string
	To       string
	Type     string
	Filename string
	Err      error
	At       time.Time
}

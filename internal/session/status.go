package session

import (
	"fmt"
)

// Status is the lifecycle state of a tenant session.
type Status int

const (
	// StatusNotStarted is reported for tenants with no registered session.
	StatusNotStarted Status = iota
	StatusStarting
	StatusAwaitingAuth
	StatusAuthenticated
	StatusLoggedIn
	StatusAuthFailure
	// StatusDisconnected and StatusLoggedOut are terminal: the session is
	// removed from the registry when it reaches either of them.
	StatusDisconnected
	StatusLoggedOut
)

var statusNames = map[Status]string{
	StatusNotStarted:    "NOT_STARTED",
	StatusStarting:      "STARTING",
	StatusAwaitingAuth:  "AWAITING_AUTH",
	StatusAuthenticated: "AUTHENTICATED",
	StatusLoggedIn:      "LOGGED_IN",
	StatusAuthFailure:   "AUTH_FAILURE",
	StatusDisconnected:  "DISCONNECTED",
	StatusLoggedOut:     "LOGGED_OUT",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus maps a wire name back to its Status.
func ParseStatus(name string) (Status, error) {
	for st, n := range statusNames {
		if n == name {
			return st, nil
		}
	}
	return StatusNotStarted, fmt.Errorf("unknown session status %q", name)
}

// Terminal reports whether reaching s removes the session.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusLoggedOut
}

// transitions lists every allowed edge. NOT_STARTED never appears as a
// source: a session is born in STARTING.
var transitions = map[Status][]Status{
	StatusStarting: {
		StatusAwaitingAuth,
		StatusAuthenticated, // stored credentials, no pairing needed
		StatusAuthFailure,
		StatusDisconnected,
		StatusLoggedOut,
	},
	StatusAwaitingAuth: {
		StatusAwaitingAuth, // artifact rotation
		StatusAuthenticated,
		StatusAuthFailure,
		StatusDisconnected,
		StatusLoggedOut,
	},
	StatusAuthenticated: {
		StatusLoggedIn,
		StatusDisconnected,
		StatusLoggedOut,
	},
	StatusLoggedIn: {
		StatusDisconnected,
		StatusLoggedOut,
	},
	StatusAuthFailure: {
		StatusStarting, // explicit restart
		StatusDisconnected,
		StatusLoggedOut,
	},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// State is the tagged status value of a session. The artifact is only
// meaningful while awaiting authentication and the detail only for
// failure and terminal states; the constructors below are the only way
// to build a State so the payload always matches the tag.
type State struct {
	status   Status
	artifact string
	detail   string
}

func starting() State { return State{status: StatusStarting} }

func awaitingAuth(artifact string) State {
	return State{status: StatusAwaitingAuth, artifact: artifact}
}

func authenticated() State { return State{status: StatusAuthenticated} }

func loggedIn() State { return State{status: StatusLoggedIn} }

func authFailure(detail string) State {
	return State{status: StatusAuthFailure, detail: detail}
}

func terminal(st Status, detail string) State {
	return State{status: st, detail: detail}
}

func (s State) Status() Status { return s.status }

// Artifact returns the pending auth artifact, present only in AWAITING_AUTH.
func (s State) Artifact() (string, bool) {
	if s.status != StatusAwaitingAuth || s.artifact == "" {
		return "", false
	}
	return s.artifact, true
}

func (s State) Detail() string { return s.detail }

package session

import "fmt"

// Phase is the startup and transition phase of a Broadcaster.
type Phase int

const (
	// PhaseInitializing is the phase before the provider's first event.
	PhaseInitializing Phase = iota
	// PhaseCheckingAuthorization is entered on the first provider event.
	PhaseCheckingAuthorization
	// PhaseReady is entered once the first authorization result is applied.
	// It is never left.
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseCheckingAuthorization:
		return "checking_authorization"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for _, v := range []Phase{PhaseInitializing, PhaseCheckingAuthorization, PhaseReady} {
		if v.String() == string(text) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Operation names a user-initiated session operation.
type Operation int

const (
	OpSignIn Operation = iota
	OpSignOut
)

func (o Operation) String() string {
	if o == OpSignOut {
		return "sign_out"
	}
	return "sign_in"
}

// InFlight marks operations that are currently running. The flags are
// informational; nothing is suppressed because of them.
type InFlight struct {
	SignIn  bool `json:"sign_in"`
	SignOut bool `json:"sign_out"`
}

// State is the tuple published to consumers. It is always replaced whole.
type State struct {
	Session       Session `json:"session"`
	Authenticated bool    `json:"authenticated"`
	Administrator bool    `json:"administrator"`
	Phase         Phase   `json:"phase"`
	// AuthorizationPending is set while the Administrator flag for the
	// current Session has not been evaluated yet.
	AuthorizationPending bool     `json:"authorization_pending"`
	InFlight             InFlight `json:"in_flight"`
}

// Ready reports whether the state is settled enough to decide on.
func (s State) Ready() bool {
	return s.Phase == PhaseReady && !s.AuthorizationPending
}

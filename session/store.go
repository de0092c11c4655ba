package session

// Store is the single-writer state machine behind a Broadcaster. It is not
// safe for concurrent use; the Broadcaster loop is its only caller.
type Store struct {
	state State
	gen   uint64
}

// NewStore returns a Store in PhaseInitializing with no session.
func NewStore() *Store {
	return &Store{state: State{Session: Unauthenticated, Phase: PhaseInitializing}}
}

// State returns the current state.
func (s *Store) State() State { return s.state }

// Generation identifies the current Session. It increases on every
// replacement.
func (s *Store) Generation() uint64 { return s.gen }

// Apply replaces the held Session with the projection of in. The
// authorization flag is cleared and marked pending. An input that projects
// to the current Session after the first event changes nothing.
func (s *Store) Apply(in Input) (gen uint64, replaced bool) {
	next := Project(in)
	if s.state.Phase != PhaseInitializing && next.Equal(s.state.Session) {
		return s.gen, false
	}
	phase := s.state.Phase
	if phase == PhaseInitializing {
		phase = PhaseCheckingAuthorization
	}
	s.gen++
	s.state = State{
		Session:              next,
		Authenticated:        next.Authenticated(),
		Administrator:        false,
		Phase:                phase,
		AuthorizationPending: true,
		InFlight:             s.state.InFlight,
	}
	return s.gen, true
}

// Authorize applies an authorization result computed for generation gen.
// Results for a superseded Session are discarded and Authorize returns
// false.
func (s *Store) Authorize(gen uint64, admin bool) bool {
	if gen != s.gen || !s.state.AuthorizationPending {
		return false
	}
	st := s.state
	st.Administrator = admin && st.Authenticated
	st.AuthorizationPending = false
	st.Phase = PhaseReady
	s.state = st
	return true
}

// SetInFlight sets the in-flight flag of op. It reports whether the flag
// changed.
func (s *Store) SetInFlight(op Operation, on bool) bool {
	st := s.state
	switch op {
	case OpSignIn:
		if st.InFlight.SignIn == on {
			return false
		}
		st.InFlight.SignIn = on
	case OpSignOut:
		if st.InFlight.SignOut == on {
			return false
		}
		st.InFlight.SignOut = on
	default:
		return false
	}
	s.state = st
	return true
}

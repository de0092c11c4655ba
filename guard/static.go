package guard

import "github.com/jmcleod/clubhouse/session"

type staticSource struct {
	st session.State
}

// Static returns a Source that always reports st. It serves requests that
// carry no browser session.
func Static(st session.State) Source {
	return staticSource{st: st}
}

// Anonymous is a ready, unauthenticated Source.
var Anonymous = Static(session.State{Session: session.Unauthenticated, Phase: session.PhaseReady})

func (s staticSource) Snapshot() session.State { return s.st }

func (s staticSource) Watch() (<-chan session.State, func()) {
	ch := make(chan session.State, 1)
	ch <- s.st
	return ch, func() {}
}

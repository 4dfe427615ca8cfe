// Package verify tracks whether a batch is blocked on a human verification
// challenge and coordinates its resumption.
package verify

import "sync"

// State is the state of a Gate.
type State int

const (
	// Clear means no challenge is pending.
	Clear State = iota
	// PendingChallenge means an extractor reported a challenge that has not
	// been surfaced to the operator yet.
	PendingChallenge
	// AwaitingOperator means the operator was notified and the gate waits
	// for an explicit acknowledgement.
	AwaitingOperator
)

func (s State) String() string {
	switch s {
	case Clear:
		return "clear"
	case PendingChallenge:
		return "pending challenge"
	case AwaitingOperator:
		return "awaiting operator"
	default:
		return "unknown"
	}
}

// Gate is a small state machine Clear -> PendingChallenge -> AwaitingOperator -> Clear.
// There is no timeout: a gate that awaits the operator stays blocked until
// Acknowledge or Release is called. All methods are safe for concurrent use.
type Gate struct {
	mu           sync.Mutex
	state        State
	cleared      chan struct{}
	onTransition func(from, to State)
}

// NewGate returns a gate in state Clear. onTransition is optional and is
// called synchronously for every state change.
func NewGate(onTransition func(from, to State)) *Gate {
	cleared := make(chan struct{})
	close(cleared)
	return &Gate{
		state:        Clear,
		cleared:      cleared,
		onTransition: onTransition,
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Cleared returns a channel that is closed once the gate is Clear.
func (g *Gate) Cleared() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cleared
}

// Report records a detected challenge. It returns false if the gate was
// not Clear.
func (g *Gate) Report() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Clear {
		return false
	}
	g.cleared = make(chan struct{})
	g.transition(PendingChallenge)
	return true
}

// Surface marks the pending challenge as shown to the operator. It returns
// false if no challenge was pending.
func (g *Gate) Surface() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != PendingChallenge {
		return false
	}
	g.transition(AwaitingOperator)
	return true
}

// Acknowledge is the operator's "done". It returns false unless the gate
// was awaiting the operator.
func (g *Gate) Acknowledge() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != AwaitingOperator {
		return false
	}
	g.clear()
	return true
}

// Release unblocks the gate without an acknowledgement, e.g. on stop.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Clear {
		return
	}
	g.clear()
}

func (g *Gate) clear() {
	g.transition(Clear)
	close(g.cleared)
}

// must be called with g.mu held
func (g *Gate) transition(to State) {
	from := g.state
	g.state = to
	if g.onTransition != nil {
		g.onTransition(from, to)
	}
}

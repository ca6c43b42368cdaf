package papercrawl

import (
	"fmt"
	"slices"
)

// State is the lifecycle position of one work item within a run.
type State string

const (
	StatePending   State = "pending"
	StateSkipped   State = "skipped"
	StateFetching  State = "fetching"
	StateSucceeded State = "succeeded"
	StateExhausted State = "exhausted"
)

// transitions lists the states reachable from each state. An item that
// cannot be addressed at all goes straight from pending to exhausted.
var transitions = map[State][]State{
	StatePending:  {StateSkipped, StateFetching, StateExhausted},
	StateFetching: {StateSucceeded, StateExhausted},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// machine tracks the states an item passes through.
type machine struct {
	path []State
}

func newMachine() *machine {
	return &machine{path: []State{StatePending}}
}

func (m *machine) current() State {
	return m.path[len(m.path)-1]
}

func (m *machine) to(next State) error {
	if !slices.Contains(transitions[m.current()], next) {
		return fmt.Errorf("invalid transition %s -> %s", m.current(), next)
	}
	m.path = append(m.path, next)
	return nil
}

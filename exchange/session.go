package exchange

import (
	"errors"
	"fmt"
	"sync"
)

// State is the trading session state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateMatching
	StateClosing
	StateLiquidated
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateMatching:
		return "matching"
	case StateClosing:
		return "closing"
	case StateLiquidated:
		return "liquidated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var ErrBadTransition = errors.New("bad session transition")

var transitions = map[State][]State{
	StateClosed:     {StateOpen},
	StateOpen:       {StateMatching, StateClosing},
	StateMatching:   {StateClosing},
	StateClosing:    {StateLiquidated},
	StateLiquidated: {StateClosed},
}

// session guards the state flag read by ingress and written by the loop.
type session struct {
	mu    sync.RWMutex
	state State
	date  string
	hook  func(State)
}

func (s *session) get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *session) day() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.date
}

// accepting reports whether new orders may enter the book.
func (s *session) accepting() bool {
	switch s.get() {
	case StateOpen, StateMatching:
		return true
	}
	return false
}

func (s *session) to(next State) error {
	s.mu.Lock()
	cur := s.state
	ok := false
	for _, allowed := range transitions[cur] {
		if allowed == next {
			ok = true
			break
		}
	}
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, cur, next)
	}
	s.state = next
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(next)
	}
	return nil
}

func (s *session) setDate(d string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.date = d
}

package state

import (
	"context"
	"log/slog"
	"sync"
)

// Store is the single mutable cell holding the session state. All writes go
// through Dispatch.
type Store struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	state    State
	subs     map[int]func(State)
	nextSub  int
	logger   *slog.Logger
}

// NewStore returns a store seeded with the initial state.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:  Initial(),
		subs:   map[int]func(State){},
		logger: logger,
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a to the current state and notifies subscribers with the
// result. Concurrent dispatches are serialized; subscribers observe states in
// the order the transitions were applied. With debug logging on, every result
// is also run through CheckInvariants.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	next := Reduce(s.state, a)
	s.state = next
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if a != nil && s.logger.Enabled(context.Background(), slog.LevelDebug) {
		s.logger.Debug("dispatch", slog.String("action", string(a.Type())), slog.Bool("loading", next.Loading), slog.Bool("impersonating", next.IsImpersonating))
		if err := CheckInvariants(next); err != nil {
			s.logger.Warn("state invariant violated", slog.String("action", string(a.Type())), slog.String("error", err.Error()))
		}
	}
	for _, fn := range subs {
		fn(next)
	}
	return next
}

// Subscribe registers fn to receive every new state. Subscribers must not call
// Dispatch synchronously. The returned func removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

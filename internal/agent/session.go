package agent

import (
	"context"
	"slices"
	"sync"

	"github.com/markusylisiurunen/ticketdesk/toolkit/llm"
)

type Event any

type ChangeEvent struct{}

type ErrorEvent struct {
	Err error
}

// Session owns the conversation history of one user. Sessions are
// independent of each other; the price store is the only shared state.
type Session struct {
	mux  sync.RWMutex
	loop *Loop

	running  bool
	resets   int
	messages []llm.Message
	pending  []llm.Message
	usage    llm.Usage
	rounds   int
	capped   bool

	subscriptions []chan Event
}

func NewSession(loop *Loop) *Session {
	return &Session{loop: loop}
}

func (s *Session) Reset() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.resets++
	s.messages = nil
	s.pending = nil
	s.usage = llm.Usage{}
	s.rounds, s.capped = 0, false
}

// Subscribe returns a channel of session events. Events are dropped rather
// than blocking the session when the subscriber falls behind; every event
// means the state should be read again.
func (s *Session) Subscribe() (<-chan Event, func()) {
	subscription := make(chan Event, 32)
	s.mux.Lock()
	s.subscriptions = append(s.subscriptions, subscription)
	s.mux.Unlock()
	var once sync.Once
	return subscription, func() {
		once.Do(func() {
			s.mux.Lock()
			defer s.mux.Unlock()
			for i, sub := range s.subscriptions {
				if sub == subscription {
					s.subscriptions = slices.Delete(s.subscriptions, i, i+1)
					break
				}
			}
			close(subscription)
		})
	}
}

// GetState returns the committed history followed by the messages of a turn
// in progress, and the accumulated usage.
func (s *Session) GetState() ([]llm.Message, llm.Usage) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	messages := make([]llm.Message, 0, len(s.messages)+len(s.pending))
	messages = append(messages, s.messages...)
	messages = append(messages, s.pending...)
	return messages, s.usage
}

// History returns only the committed history.
func (s *Session) History() []llm.Message {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return slices.Clone(s.messages)
}

func (s *Session) IsRunning() bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.running
}

// LastTurn reports how many tool rounds the last completed turn took and
// whether it hit the round limit.
func (s *Session) LastTurn() (rounds int, capped bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.rounds, s.capped
}

// Send runs the turn in the background. It is a no-op while a turn is running.
// The session is marked running before Send returns.
func (s *Session) Send(ctx context.Context, message string) {
	resets, history, err := s.begin()
	if err != nil {
		return
	}
	go s.run(ctx, resets, history, message) //nolint:errcheck
}

// Ask runs a turn and returns the assistant reply.
func (s *Session) Ask(ctx context.Context, message string) (string, error) {
	resets, history, err := s.begin()
	if err != nil {
		return "", err
	}
	return s.run(ctx, resets, history, message)
}

func (s *Session) begin() (int, []llm.Message, error) {
	s.mux.Lock()
	if s.running {
		s.mux.Unlock()
		return 0, nil, ErrBusy
	}
	s.running = true
	resets := s.resets
	history := slices.Clone(s.messages)
	s.pending = nil
	s.mux.Unlock()
	s.notify(&ChangeEvent{})
	return resets, history, nil
}

func (s *Session) run(ctx context.Context, resets int, history []llm.Message, message string) (string, error) {
	turn, err := s.loop.Run(ctx, history, message, WithProgress(func(msg llm.Message) {
		s.mux.Lock()
		if resets == s.resets {
			s.pending = append(s.pending, msg)
		}
		s.mux.Unlock()
		s.notify(&ChangeEvent{})
	}))

	s.mux.Lock()
	s.running = false
	s.pending = nil
	// a turn that outlived a reset must not resurrect the cleared history
	if err == nil && resets == s.resets {
		s.messages = turn.History
		s.usage.Add(turn.Usage)
		s.rounds, s.capped = turn.Rounds, turn.Capped
	}
	s.mux.Unlock()
	if err != nil {
		s.notify(&ErrorEvent{Err: err})
		return "", err
	}
	s.notify(&ChangeEvent{})
	return turn.Reply, nil
}

func (s *Session) notify(event Event) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	for _, ch := range s.subscriptions {
		select {
		case ch <- event:
		default:
		}
	}
}

// Package session keeps per-chat conversation state in memory.
package session

import (
	"sync"
)

type State string

const (
	StateIdle            State = "idle"
	StateNamingAssistant State = "naming_assistant"
	StateInConversation  State = "in_conversation"
	StateMentalInterview State = "mental_interview"
)

// Session is the state of one chat. The zero value is an idle session.
type Session struct {
	State       State
	AssistantID string
	ThreadID    string
}

func (s Session) Current() State {
	if s.State == "" {
		return StateIdle
	}
	return s.State
}

// Store holds one Session per chat. Sessions do not survive a restart.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]Session
	locks    map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[int64]Session),
		locks:    make(map[int64]*chatLock),
	}
}

func (s *Store) Get(chatID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[chatID]
}

func (s *Store) Set(chatID int64, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Current() == StateIdle && sess.AssistantID == "" && sess.ThreadID == "" {
		delete(s.sessions, chatID)
		return
	}
	s.sessions[chatID] = sess
}

// Update applies fn to the chat's session and stores the result.
func (s *Store) Update(chatID int64, fn func(*Session)) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[chatID]
	fn(&sess)
	s.sessions[chatID] = sess
	return sess
}

// Clear resets the chat to an idle session with no data.
func (s *Store) Clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
}

// Lock serializes handlers of one chat. Call the returned func to release.
func (s *Store) Lock(chatID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &chatLock{}
		s.locks[chatID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, chatID)
		}
		s.mu.Unlock()
	}
}

package session

import (
	"sync"
	"testing"
	"time"
)

func TestZeroSessionIsIdle(t *testing.T) {
	s := NewStore()
	if got := s.Get(1).Current(); got != StateIdle {
		t.Errorf("Current() = %q, want idle", got)
	}
}

func TestUpdateAndClear(t *testing.T) {
	s := NewStore()

	s.Update(1, func(sess *Session) {
		sess.State = StateInConversation
		sess.AssistantID = "asst_1"
	})
	s.Update(1, func(sess *Session) {
		sess.ThreadID = "thread_1"
	})

	got := s.Get(1)
	want := Session{State: StateInConversation, AssistantID: "asst_1", ThreadID: "thread_1"}
	if got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
	if other := s.Get(2); other != (Session{}) {
		t.Errorf("other chat leaked state: %+v", other)
	}

	s.Clear(1)
	if got := s.Get(1); got != (Session{}) {
		t.Errorf("after Clear: %+v, want zero", got)
	}
}

func TestSetIdleDropsEntry(t *testing.T) {
	s := NewStore()
	s.Set(1, Session{State: StateNamingAssistant})
	s.Set(1, Session{State: StateIdle})
	if len(s.sessions) != 0 {
		t.Errorf("idle session kept: %+v", s.sessions)
	}
}

func TestLockSerializesChat(t *testing.T) {
	s := NewStore()
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(7)
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent handlers = %d, want 1", maxSeen)
	}
	if len(s.locks) != 0 {
		t.Errorf("locks not released: %d left", len(s.locks))
	}
}

func TestLockIndependentChats(t *testing.T) {
	s := NewStore()
	unlockA := s.Lock(1)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := s.Lock(2)
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on chat 2 blocked by chat 1")
	}
}

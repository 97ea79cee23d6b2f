package storage

import (
	"context"
	"fmt"
	"sync"
)

type memoryUser struct {
	record     UserRecord
	assistants []AssistantRecord
	mental     *MentalRecord
}

type memoryState struct {
	users           map[int64]*memoryUser
	nextAssistantID int64
}

func newMemoryState() *memoryState {
	return &memoryState{users: make(map[int64]*memoryUser)}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		users:           make(map[int64]*memoryUser, len(s.users)),
		nextAssistantID: s.nextAssistantID,
	}
	for id, u := range s.users {
		cu := &memoryUser{
			record:     u.record,
			assistants: append([]AssistantRecord(nil), u.assistants...),
		}
		if u.mental != nil {
			m := *u.mental
			cu.mental = &m
		}
		c.users[id] = cu
	}
	return c
}

func (s *memoryState) byTgID(tgID int64) *memoryUser {
	for _, u := range s.users {
		if u.record.TgID == tgID {
			return u
		}
	}
	return nil
}

func (s *memoryState) assistantExists(openaiID string) bool {
	for _, u := range s.users {
		for _, a := range u.assistants {
			if a.OpenAIID == openaiID {
				return true
			}
		}
	}
	return false
}

type mutation func(*memoryState) error

// MemoryGateway keeps users in a map keyed by internal id, which equals the
// Telegram id. Writes are queued and applied in order on Commit. It is not
// safe for concurrent use.
type MemoryGateway struct {
	state   *memoryState
	pending []mutation
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{state: newMemoryState()}
}

func (g *MemoryGateway) UserByTgID(ctx context.Context, tgID int64) (UserRecord, error) {
	u := g.state.byTgID(tgID)
	if u == nil {
		return UserRecord{}, fmt.Errorf("user tg_id=%d: %w", tgID, ErrNotFound)
	}
	return u.record, nil
}

func (g *MemoryGateway) UserByID(ctx context.Context, id int64) (UserRecord, error) {
	u, ok := g.state.users[id]
	if !ok {
		return UserRecord{}, fmt.Errorf("user id=%d: %w", id, ErrNotFound)
	}
	return u.record, nil
}

func (g *MemoryGateway) UserByTgIDUnsafe(ctx context.Context, tgID int64) (*UserRecord, error) {
	u := g.state.byTgID(tgID)
	if u == nil {
		return nil, nil
	}
	rec := u.record
	return &rec, nil
}

func (g *MemoryGateway) Assistants(ctx context.Context, userID int64) ([]AssistantRecord, error) {
	u, ok := g.state.users[userID]
	if !ok {
		return []AssistantRecord{}, nil
	}
	return append([]AssistantRecord{}, u.assistants...), nil
}

func (g *MemoryGateway) AddAssistant(ctx context.Context, userID int64, openaiID, name string) error {
	g.pending = append(g.pending, func(s *memoryState) error {
		u, ok := s.users[userID]
		if !ok {
			return fmt.Errorf("assistant %s: user id=%d missing: %w", openaiID, userID, ErrConstraint)
		}
		if s.assistantExists(openaiID) {
			return fmt.Errorf("assistant %s already exists: %w", openaiID, ErrConstraint)
		}
		s.nextAssistantID++
		u.assistants = append(u.assistants, AssistantRecord{
			ID:       s.nextAssistantID,
			UserID:   userID,
			OpenAIID: openaiID,
			Name:     name,
		})
		return nil
	})
	return nil
}

func (g *MemoryGateway) Mental(ctx context.Context, userID int64) (MentalRecord, error) {
	u, ok := g.state.users[userID]
	if !ok || u.mental == nil {
		return MentalRecord{}, fmt.Errorf("mental user_id=%d: %w", userID, ErrNotFound)
	}
	return *u.mental, nil
}

func (g *MemoryGateway) UpsertMental(ctx context.Context, userID int64, temperament, profession string) (MentalRecord, error) {
	// One profile per user, so the user id doubles as the profile id.
	rec := MentalRecord{
		ID:          userID,
		UserID:      userID,
		Temperament: temperament,
		Profession:  profession,
	}
	g.pending = append(g.pending, func(s *memoryState) error {
		u, ok := s.users[userID]
		if !ok {
			return fmt.Errorf("mental: user id=%d missing: %w", userID, ErrConstraint)
		}
		m := rec
		u.mental = &m
		return nil
	})
	return rec, nil
}

func (g *MemoryGateway) UpsertUser(ctx context.Context, tgID int64) (UserRecord, error) {
	if u := g.state.byTgID(tgID); u != nil {
		return u.record, nil
	}
	rec := UserRecord{ID: tgID, TgID: tgID}
	g.pending = append(g.pending, func(s *memoryState) error {
		if s.byTgID(tgID) == nil {
			s.users[rec.ID] = &memoryUser{record: rec}
		}
		return nil
	})
	return rec, nil
}

// Commit applies queued writes in order. Either all of them are applied or,
// on the first failure, none are.
func (g *MemoryGateway) Commit(ctx context.Context) error {
	pending := g.pending
	g.pending = nil
	if len(pending) == 0 {
		return nil
	}

	next := g.state.clone()
	for _, m := range pending {
		if err := m(next); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	*g.state = *next
	return nil
}

// Rollback drops queued writes.
func (g *MemoryGateway) Rollback() {
	g.pending = nil
}

// MemoryDatabase shares one in-memory state between gateways and serializes
// scopes with a mutex.
type MemoryDatabase struct {
	mu    sync.Mutex
	state *memoryState
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{state: newMemoryState()}
}

func (d *MemoryDatabase) WithGateway(ctx context.Context, fn func(Gateway) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	gw := &MemoryGateway{state: d.state}
	defer func() {
		if p := recover(); p != nil {
			gw.Rollback()
			panic(p)
		}
	}()

	if err := fn(gw); err != nil {
		gw.Rollback()
		return err
	}
	return gw.Commit(ctx)
}

func (d *MemoryDatabase) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConstraint wraps uniqueness and foreign key violations.
var ErrConstraint = errors.New("constraint violation")

type UserRecord struct {
	ID   int64
	TgID int64
}

type AssistantRecord struct {
	ID       int64
	UserID   int64
	OpenAIID string
	Name     string
}

type MentalRecord struct {
	ID          int64
	UserID      int64
	Temperament string
	Profession  string
}

// Gateway is the storage contract used by the user repository. Writes are
// not visible to other gateways until Commit.
type Gateway interface {
	UserByTgID(ctx context.Context, tgID int64) (UserRecord, error)
	UserByID(ctx context.Context, id int64) (UserRecord, error)
	// UserByTgIDUnsafe returns nil instead of ErrNotFound.
	UserByTgIDUnsafe(ctx context.Context, tgID int64) (*UserRecord, error)

	Assistants(ctx context.Context, userID int64) ([]AssistantRecord, error)
	AddAssistant(ctx context.Context, userID int64, openaiID, name string) error

	Mental(ctx context.Context, userID int64) (MentalRecord, error)
	UpsertMental(ctx context.Context, userID int64, temperament, profession string) (MentalRecord, error)

	UpsertUser(ctx context.Context, tgID int64) (UserRecord, error)

	Commit(ctx context.Context) error
}

// Database hands out request-scoped gateways.
type Database interface {
	// WithGateway runs fn with a fresh gateway. Pending writes are committed
	// when fn returns nil and discarded when it returns an error or panics.
	WithGateway(ctx context.Context, fn func(Gateway) error) error
	Close() error
}

// Package repository turns storage records into domain snapshots.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/voice-bot/internal/models"
	"github.com/xaenox/voice-bot/internal/storage"
)

// UserRepository composes gateway calls into single user-level actions.
// Every write is committed before the method returns.
type UserRepository struct {
	gateway storage.Gateway
}

func NewUserRepository(gateway storage.Gateway) *UserRepository {
	return &UserRepository{gateway: gateway}
}

func (r *UserRepository) build(ctx context.Context, rec storage.UserRecord) (models.User, error) {
	records, err := r.gateway.Assistants(ctx, rec.ID)
	if err != nil {
		return models.User{}, fmt.Errorf("loading assistants: %w", err)
	}

	assistants := make([]models.Assistant, 0, len(records))
	for _, a := range records {
		assistants = append(assistants, models.Assistant{OpenAIID: a.OpenAIID, Name: a.Name})
	}

	user := models.User{
		ID:         rec.ID,
		TgID:       rec.TgID,
		Assistants: assistants,
	}

	mental, err := r.gateway.Mental(ctx, rec.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return models.User{}, fmt.Errorf("loading mental data: %w", err)
	default:
		user.Mental = &models.Mental{
			Temperament: models.Temperament(mental.Temperament),
			Profession:  mental.Profession,
		}
	}

	return user, nil
}

// ByTgID fails with storage.ErrNotFound when the user has never run /start.
func (r *UserRepository) ByTgID(ctx context.Context, tgID int64) (models.User, error) {
	rec, err := r.gateway.UserByTgID(ctx, tgID)
	if err != nil {
		return models.User{}, err
	}
	return r.build(ctx, rec)
}

func (r *UserRepository) ByID(ctx context.Context, id int64) (models.User, error) {
	rec, err := r.gateway.UserByID(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	return r.build(ctx, rec)
}

// ByTgIDUnsafe returns nil instead of failing when the user does not exist.
func (r *UserRepository) ByTgIDUnsafe(ctx context.Context, tgID int64) (*models.User, error) {
	rec, err := r.gateway.UserByTgIDUnsafe(ctx, tgID)
	if err != nil || rec == nil {
		return nil, err
	}
	user, err := r.build(ctx, *rec)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) AddAssistant(ctx context.Context, userID int64, openaiID, name string) (models.User, error) {
	if err := r.gateway.AddAssistant(ctx, userID, openaiID, name); err != nil {
		return models.User{}, err
	}
	if err := r.gateway.Commit(ctx); err != nil {
		return models.User{}, err
	}
	return r.ByID(ctx, userID)
}

func (r *UserRepository) UpsertMental(ctx context.Context, userID int64, mental models.Mental) (models.User, error) {
	if _, err := r.gateway.UpsertMental(ctx, userID, string(mental.Temperament), mental.Profession); err != nil {
		return models.User{}, err
	}
	if err := r.gateway.Commit(ctx); err != nil {
		return models.User{}, err
	}
	return r.ByID(ctx, userID)
}

// UpsertUser creates the user on first contact and returns the stored record
// on every later call. Assistants and Mental are not loaded.
func (r *UserRepository) UpsertUser(ctx context.Context, tgID int64) (models.User, error) {
	rec, err := r.gateway.UpsertUser(ctx, tgID)
	if err != nil {
		return models.User{}, err
	}
	if err := r.gateway.Commit(ctx); err != nil {
		return models.User{}, err
	}
	return models.User{ID: rec.ID, TgID: rec.TgID}, nil
}

package main

import (
	"context"
	"errors"
	"time"

	"github.com/example/presence-service/internal/application"
	"github.com/example/presence-service/internal/persistence"
)

type userDirectoryAdapter struct {
	repo persistence.UserRepository
}

func newUserDirectoryAdapter(repo persistence.UserRepository) *userDirectoryAdapter {
	return &userDirectoryAdapter{repo: repo}
}

func (a *userDirectoryAdapter) ListRecentUsersSince(ctx context.Context, cutoff time.Time) ([]application.User, error) {
	users, err := a.repo.ListUsersActiveSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return toApplicationUsers(users), nil
}

func (a *userDirectoryAdapter) ListUsers(ctx context.Context) ([]application.User, error) {
	users, err := a.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return toApplicationUsers(users), nil
}

func (a *userDirectoryAdapter) GetUser(ctx context.Context, id string) (application.User, error) {
	stored, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return application.User{}, mapPersistenceError(err)
	}
	return toApplicationUser(stored), nil
}

func (a *userDirectoryAdapter) UpdateUser(ctx context.Context, user application.User) error {
	return mapPersistenceError(a.repo.UpdateUser(ctx, toPersistenceUser(user)))
}

func mapPersistenceError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return application.ErrNotFound
	}
	return err
}

func toApplicationUsers(models []persistence.User) []application.User {
	users := make([]application.User, 0, len(models))
	for _, m := range models {
		users = append(users, toApplicationUser(m))
	}
	return users
}

func toApplicationUser(model persistence.User) application.User {
	return application.User{
		ID:              model.ID,
		Name:            model.Name,
		Email:           model.Email,
		Role:            model.Role,
		ProfileImageURL: model.ProfileImageURL,
		IsOnline:        model.IsOnline,
		LastSeenAt:      cloneTime(model.LastSeenAt),
		LastLoginAt:     cloneTime(model.LastLoginAt),
	}
}

func toPersistenceUser(user application.User) persistence.User {
	return persistence.User{
		ID:              user.ID,
		Name:            user.Name,
		Email:           user.Email,
		Role:            user.Role,
		ProfileImageURL: user.ProfileImageURL,
		IsOnline:        user.IsOnline,
		LastSeenAt:      cloneTime(user.LastSeenAt),
		LastLoginAt:     cloneTime(user.LastLoginAt),
	}
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

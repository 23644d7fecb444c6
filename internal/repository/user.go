package repository

import (
	"context"

	"readfeed/internal/model"
)

// UserRepository defines data access for users.
type UserRepository interface {
	// Upsert inserts the user or, when the external id already exists,
	// refreshes the display name (if non-empty) and returns the stored row.
	Upsert(ctx context.Context, u *model.User) (*model.User, error)

	// FindByExternalID returns a user by its external (chat platform) id.
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// ListWithActiveDocument returns every user that currently has an active
	// document, for the daily broadcast.
	ListWithActiveDocument(ctx context.Context) ([]model.User, error)
}

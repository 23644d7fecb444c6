package postgres

import (
	"context"
	"database/sql"

	"readfeed/internal/model"
	"readfeed/internal/repository"
)

// UserPostgres is a PostgreSQL implementation of repository.UserRepository.
type UserPostgres struct {
	db *sql.DB
}

// NewUserPostgres creates a new UserPostgres repository.
func NewUserPostgres(db *sql.DB) *UserPostgres {
	return &UserPostgres{db: db}
}

var _ repository.UserRepository = (*UserPostgres)(nil)

const userColumns = `id, external_id, display_name, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.DisplayName, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Upsert inserts the user or refreshes its display name when the external id
// already exists. An empty display name never overwrites a stored one.
func (r *UserPostgres) Upsert(ctx context.Context, u *model.User) (*model.User, error) {
	const q = `
		INSERT INTO users (id, external_id, display_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE
		SET display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END
		RETURNING ` + userColumns
	row := r.db.QueryRowContext(ctx, q, u.ID, u.ExternalID, u.DisplayName, u.CreatedAt)
	return scanUser(row)
}

// FindByExternalID fetches a user by its external id.
func (r *UserPostgres) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, q, externalID))
}

// ListWithActiveDocument returns users that have an active document.
func (r *UserPostgres) ListWithActiveDocument(ctx context.Context) ([]model.User, error) {
	const q = `
		SELECT u.id, u.external_id, u.display_name, u.created_at
		FROM users u
		JOIN documents d ON d.user_id = u.id AND d.active
		ORDER BY u.created_at, u.id
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

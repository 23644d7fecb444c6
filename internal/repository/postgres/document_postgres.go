package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"readfeed/internal/model"
	"readfeed/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

const documentColumns = `id, user_id, filename, content, cursor_offset, active, storage_path, created_at`

func scanDocument(row interface{ Scan(...any) error }) (*model.Document, error) {
	var d model.Document
	if err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Filename,
		&d.Text,
		&d.Offset,
		&d.Active,
		&d.StoragePath,
		&d.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateActive deactivates all of the user's documents and inserts the new
// one as active, in a single transaction.
func (r *DocumentPostgres) CreateActive(ctx context.Context, doc *model.Document) (*model.Document, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const qDeactivate = `UPDATE documents SET active = FALSE WHERE user_id = $1 AND active`
	if _, err := tx.ExecContext(ctx, qDeactivate, doc.UserID); err != nil {
		return nil, err
	}

	const qInsert = `
		INSERT INTO documents (id, user_id, filename, content, cursor_offset, active, storage_path, created_at)
		VALUES ($1, $2, $3, $4, 0, TRUE, $5, $6)
		RETURNING ` + documentColumns
	row := tx.QueryRowContext(ctx, qInsert,
		doc.ID,
		doc.UserID,
		doc.Filename,
		doc.Text,
		doc.StoragePath,
		doc.CreatedAt,
	)
	out, err := scanDocument(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(r.db.QueryRowContext(ctx, q, id))
}

// FindActiveByUser fetches the user's active document.
func (r *DocumentPostgres) FindActiveByUser(ctx context.Context, userID string) (*model.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 AND active`
	return scanDocument(r.db.QueryRowContext(ctx, q, userID))
}

// ListByUser returns all of the user's documents, newest first.
func (r *DocumentPostgres) ListByUser(ctx context.Context, userID string) ([]model.Document, error) {
	const q = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Activate sets active on the target row and clears it on every sibling,
// in one transaction. The ownership check and the flip are the same
// statement set, so a foreign or missing id surfaces as sql.ErrNoRows.
func (r *DocumentPostgres) Activate(ctx context.Context, userID, docID string) (*model.Document, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const qOwned = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND user_id = $2 FOR UPDATE`
	doc, err := scanDocument(tx.QueryRowContext(ctx, qOwned, docID, userID))
	if err != nil {
		return nil, err
	}

	const qFlip = `UPDATE documents SET active = (id = $1) WHERE user_id = $2`
	if _, err := tx.ExecContext(ctx, qFlip, docID, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	doc.Active = true
	return doc, nil
}

// AdvanceCursor locks the active row with FOR UPDATE, applies advance and
// persists the resulting offset. The lock scope is exactly the
// read-compute-write sequence; callers must not do I/O inside advance.
func (r *DocumentPostgres) AdvanceCursor(ctx context.Context, userID string, advance repository.AdvanceFunc) (*model.Document, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const qLock = `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 AND active FOR UPDATE`
	doc, err := scanDocument(tx.QueryRowContext(ctx, qLock, userID))
	if err != nil {
		return nil, err
	}

	newOffset, err := advance(doc)
	if err != nil {
		return nil, err
	}
	if newOffset < doc.Offset {
		return nil, fmt.Errorf("cursor must not move backwards: %d -> %d", doc.Offset, newOffset)
	}

	const qUpdate = `UPDATE documents SET cursor_offset = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, qUpdate, newOffset, doc.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	doc.Offset = newOffset
	return doc, nil
}

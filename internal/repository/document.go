package repository

import (
	"context"

	"readfeed/internal/model"
)

// AdvanceFunc computes the next cursor offset for a locked document.
// It runs inside the store transaction and must not perform I/O.
type AdvanceFunc func(doc *model.Document) (newOffset int, err error)

// DocumentRepository defines data access for documents using SQL queries only.
// No business logic here — strictly persistence operations. Implementations
// must guarantee the transactional semantics documented per method.
type DocumentRepository interface {
	// CreateActive inserts a new document with cursor 0 and active=true,
	// deactivating every other document of the same user in one transaction.
	CreateActive(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// FindActiveByUser returns the user's active document, or sql.ErrNoRows
	// if the user has none.
	FindActiveByUser(ctx context.Context, userID string) (*model.Document, error)

	// ListByUser returns all documents owned by the user, newest first.
	ListByUser(ctx context.Context, userID string) ([]model.Document, error)

	// Activate marks the given document active and clears the flag on all of
	// the user's other documents, in one transaction. Returns sql.ErrNoRows
	// when the document does not exist or is owned by someone else.
	Activate(ctx context.Context, userID, docID string) (*model.Document, error)

	// AdvanceCursor locks the user's active document row, runs advance on it,
	// persists the returned offset and commits. Concurrent calls for the same
	// user serialize on the row lock, so the second caller always observes
	// the first caller's committed offset. Returns the document with the new
	// offset applied, or sql.ErrNoRows when the user has no active document.
	AdvanceCursor(ctx context.Context, userID string, advance AdvanceFunc) (*model.Document, error)
}

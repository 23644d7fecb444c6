package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"readfeed/internal/extract"
	"readfeed/internal/model"
	"readfeed/internal/repository"
	"readfeed/internal/segment"
	"readfeed/internal/storage"
)

var (
	ErrExternalIDRequired = errors.New("external user id is required")
	ErrNoActiveDocument   = errors.New("no active document")
	ErrUnsupportedFormat  = errors.New("unsupported document format")
	ErrEmptyExtraction    = errors.New("no usable text extracted")
	ErrNotFound           = errors.New("document not found")
)

// minExtractedLen is the floor below which an extraction is considered to
// have produced no usable content (e.g. an image-only scanned PDF).
const minExtractedLen = 10

// presignExpiry bounds download links for archived originals.
const presignExpiry = 15 * time.Minute

// DeliverFunc pushes one fragment to one user. It runs after the cursor
// advance has committed; a delivery failure never rolls the cursor back.
type DeliverFunc func(user model.User, view *model.FragmentView) error

// ReadingService defines the use cases for daily reading sessions.
type ReadingService interface {
	// Ingest extracts text from an uploaded document, archives the raw bytes
	// and stores the document as the user's new active one (cursor at 0).
	Ingest(ctx context.Context, externalID, displayName, filename string, r io.Reader) (*model.DocumentView, error)

	// Advance delivers the next fragment of the user's active document and
	// moves the cursor, as one atomic store transaction.
	Advance(ctx context.Context, externalID string) (*model.FragmentView, error)

	// ActivateDocument switches the user's active document. The target must
	// be owned by the user.
	ActivateDocument(ctx context.Context, externalID, documentID string) (*model.DocumentView, error)

	// ListDocuments returns all of the user's documents with their progress.
	ListDocuments(ctx context.Context, externalID string) ([]model.DocumentView, error)

	// Status reports the active document's progress without advancing it.
	Status(ctx context.Context, externalID string) (*model.ReadingStatus, error)

	// DownloadURL returns a time-limited link to the archived original upload.
	DownloadURL(ctx context.Context, externalID, documentID string) (string, error)

	// ForEachActiveReader advances every user with an active document and
	// hands the fragment to deliver. Per-user failures are collected into the
	// report; they never abort the batch.
	ForEachActiveReader(ctx context.Context, deliver DeliverFunc) *model.BroadcastReport
}

// readingService is a concrete implementation of ReadingService.
type readingService struct {
	users     repository.UserRepository
	docs      repository.DocumentRepository
	store     storage.Storage
	extractor extract.Extractor
	minLen    int
	maxLen    int
	now       func() time.Time
}

// NewReadingService constructs a ReadingService. Non-positive or inverted
// fragment bounds fall back to the segmentation defaults.
func NewReadingService(
	users repository.UserRepository,
	docs repository.DocumentRepository,
	store storage.Storage,
	extractor extract.Extractor,
	minLen, maxLen int,
) ReadingService {
	if minLen <= 0 {
		minLen = segment.DefaultMinLen
	}
	if maxLen <= 0 {
		maxLen = segment.DefaultMaxLen
	}
	if maxLen < minLen {
		minLen, maxLen = segment.DefaultMinLen, segment.DefaultMaxLen
	}
	return &readingService{
		users:     users,
		docs:      docs,
		store:     store,
		extractor: extractor,
		minLen:    minLen,
		maxLen:    maxLen,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// resolveUser upserts the user record keyed by its external identity.
func (s *readingService) resolveUser(ctx context.Context, externalID, displayName string) (*model.User, error) {
	if externalID == "" {
		return nil, ErrExternalIDRequired
	}
	u, err := s.users.Upsert(ctx, &model.User{
		ID:          uuid.New().String(),
		ExternalID:  externalID,
		DisplayName: displayName,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (s *readingService) Ingest(ctx context.Context, externalID, displayName, filename string, r io.Reader) (*model.DocumentView, error) {
	if externalID == "" {
		return nil, ErrExternalIDRequired
	}
	if !extract.Supported(filename) {
		return nil, ErrUnsupportedFormat
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	text, err := s.extractor.Extract(data, filename)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return nil, ErrUnsupportedFormat
		}
		return nil, fmt.Errorf("%w: %v", ErrEmptyExtraction, err)
	}
	if len(text) < minExtractedLen {
		return nil, ErrEmptyExtraction
	}

	user, err := s.resolveUser(ctx, externalID, displayName)
	if err != nil {
		return nil, err
	}

	// Archive the raw upload before the DB insert so the stored document
	// always has its original alongside.
	docID := uuid.New().String()
	key := filepath.ToSlash(filepath.Join("uploads", docID+filepath.Ext(filename)))
	objInfo, err := s.store.Put(ctx, key, bytes.NewReader(data), storage.PutObjectOptions{
		Size:        int64(len(data)),
		ContentType: extract.ContentType(filename),
		Metadata: map[string]string{
			"original-filename": filename,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("archive upload: %w", err)
	}

	doc := &model.Document{
		ID:          docID,
		UserID:      user.ID,
		Filename:    filename,
		Text:        text,
		StoragePath: objInfo.Key,
		CreatedAt:   s.now(),
	}
	stored, err := s.docs.CreateActive(ctx, doc)
	if err != nil {
		// Rollback: remove the archived object so no orphan remains.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}
	return documentView(stored), nil
}

func (s *readingService) Advance(ctx context.Context, externalID string) (*model.FragmentView, error) {
	user, err := s.resolveUser(ctx, externalID, "")
	if err != nil {
		return nil, err
	}
	return s.advanceUser(ctx, user)
}

// advanceUser runs the read-compute-write cycle for one user. The
// segmentation happens inside the repository's row lock; nothing else does.
func (s *readingService) advanceUser(ctx context.Context, user *model.User) (*model.FragmentView, error) {
	var fragment string
	var isFinal bool

	doc, err := s.docs.AdvanceCursor(ctx, user.ID, func(d *model.Document) (int, error) {
		f, newOffset, final := segment.NextFragment(d.Text, d.Offset, s.minLen, s.maxLen)
		fragment, isFinal = f, final
		return newOffset, nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveDocument
		}
		return nil, fmt.Errorf("advance cursor: %w", err)
	}

	return &model.FragmentView{
		Fragment:        fragment,
		ProgressPercent: segment.Progress(len(doc.Text), doc.Offset),
		Filename:        doc.Filename,
		IsFinal:         isFinal,
	}, nil
}

func (s *readingService) ActivateDocument(ctx context.Context, externalID, documentID string) (*model.DocumentView, error) {
	user, err := s.resolveUser(ctx, externalID, "")
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.Activate(ctx, user.ID, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("activate document: %w", err)
	}
	return documentView(doc), nil
}

func (s *readingService) ListDocuments(ctx context.Context, externalID string) ([]model.DocumentView, error) {
	user, err := s.resolveUser(ctx, externalID, "")
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	views := make([]model.DocumentView, 0, len(docs))
	for i := range docs {
		views = append(views, *documentView(&docs[i]))
	}
	return views, nil
}

func (s *readingService) Status(ctx context.Context, externalID string) (*model.ReadingStatus, error) {
	user, err := s.resolveUser(ctx, externalID, "")
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.FindActiveByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveDocument
		}
		return nil, fmt.Errorf("find active document: %w", err)
	}
	return &model.ReadingStatus{
		Filename:        doc.Filename,
		ProgressPercent: segment.Progress(len(doc.Text), doc.Offset),
		IsFinal:         doc.Offset >= len(doc.Text) && len(doc.Text) > 0,
		CreatedAt:       doc.CreatedAt,
	}, nil
}

func (s *readingService) DownloadURL(ctx context.Context, externalID, documentID string) (string, error) {
	user, err := s.resolveUser(ctx, externalID, "")
	if err != nil {
		return "", err
	}
	doc, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("find document: %w", err)
	}
	if doc.UserID != user.ID {
		return "", ErrNotFound
	}
	url, err := s.store.PresignGet(ctx, doc.StoragePath, presignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

func (s *readingService) ForEachActiveReader(ctx context.Context, deliver DeliverFunc) *model.BroadcastReport {
	report := &model.BroadcastReport{}

	users, err := s.users.ListWithActiveDocument(ctx)
	if err != nil {
		report.Failures = append(report.Failures, model.BroadcastFailure{
			Reason: fmt.Sprintf("list readers: %v", err),
		})
		return report
	}

	for i := range users {
		user := users[i]

		view, err := s.advanceUser(ctx, &user)
		if errors.Is(err, ErrNoActiveDocument) {
			// The document was switched or removed between listing and
			// locking; nothing to send.
			report.Skipped++
			continue
		}
		if err != nil {
			report.Failures = append(report.Failures, model.BroadcastFailure{
				ExternalID: user.ExternalID,
				Reason:     fmt.Sprintf("advance: %v", err),
			})
			continue
		}

		// The cursor is committed at this point; delivery failures are a
		// delivery-layer concern and are only reported.
		if err := deliver(user, view); err != nil {
			report.Failures = append(report.Failures, model.BroadcastFailure{
				ExternalID: user.ExternalID,
				Reason:     fmt.Sprintf("deliver: %v", err),
			})
			continue
		}
		report.Delivered++
	}

	return report
}

func documentView(doc *model.Document) *model.DocumentView {
	return &model.DocumentView{
		ID:              doc.ID,
		Filename:        doc.Filename,
		ProgressPercent: segment.Progress(len(doc.Text), doc.Offset),
		Active:          doc.Active,
		CreatedAt:       doc.CreatedAt,
	}
}

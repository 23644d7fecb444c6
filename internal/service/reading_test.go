package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	extractMocks "readfeed/internal/extract/mocks"
	"readfeed/internal/model"
	"readfeed/internal/repository"
	repoMocks "readfeed/internal/repository/mocks"
	"readfeed/internal/storage"
	storeMocks "readfeed/internal/storage/mocks"
)

func newTestService(
	mUsers *repoMocks.MockUserRepository,
	mDocs *repoMocks.MockDocumentRepository,
	mStore *storeMocks.MockStorage,
	mExtract *extractMocks.MockExtractor,
) ReadingService {
	return NewReadingService(mUsers, mDocs, mStore, mExtract, 10, 500)
}

func expectUpsert(mUsers *repoMocks.MockUserRepository, externalID, userID string) {
	mUsers.On("Upsert", mock.Anything, mock.MatchedBy(func(u *model.User) bool {
		return u.ExternalID == externalID
	})).Return(&model.User{ID: userID, ExternalID: externalID}, nil)
}

func TestReadingService_Advance(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers the next fragment and progress", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mUsers, mDocs, nil, nil)

		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("AdvanceCursor", mock.Anything, "user-1", mock.Anything).
			Return(&model.Document{
				ID: "doc-1", UserID: "user-1", Filename: "book.txt",
				Text: "Hello world. This is a test of segmentation. Goodbye!",
			}, nil)

		view, err := svc.Advance(ctx, "tg-42")

		require.NoError(t, err)
		assert.Equal(t, "Hello world.", view.Fragment)
		assert.Equal(t, "book.txt", view.Filename)
		assert.False(t, view.IsFinal)
		// 12 of 54 bytes consumed.
		assert.Equal(t, 22, view.ProgressPercent)

		mUsers.AssertExpectations(t)
		mDocs.AssertExpectations(t)
	})

	t.Run("finished document reports terminal message idempotently", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mUsers, mDocs, nil, nil)

		text := "All read."
		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("AdvanceCursor", mock.Anything, "user-1", mock.Anything).
			Return(&model.Document{ID: "doc-1", Filename: "done.txt", Text: text, Offset: len(text)}, nil)

		for i := 0; i < 3; i++ {
			view, err := svc.Advance(ctx, "tg-42")
			require.NoError(t, err)
			assert.Equal(t, "End of document.", view.Fragment)
			assert.True(t, view.IsFinal)
			assert.Equal(t, 100, view.ProgressPercent)
		}
	})

	t.Run("no active document", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mUsers, mDocs, nil, nil)

		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("AdvanceCursor", mock.Anything, "user-1", mock.Anything).
			Return(nil, sql.ErrNoRows)

		view, err := svc.Advance(ctx, "tg-42")

		assert.ErrorIs(t, err, ErrNoActiveDocument)
		assert.Nil(t, view)
	})

	t.Run("store failure propagates", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mUsers, mDocs, nil, nil)

		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("AdvanceCursor", mock.Anything, "user-1", mock.Anything).
			Return(nil, errors.New("connection reset"))

		_, err := svc.Advance(ctx, "tg-42")

		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoActiveDocument)
	})

	t.Run("missing external id", func(t *testing.T) {
		svc := newTestService(new(repoMocks.MockUserRepository), new(repoMocks.MockDocumentRepository), nil, nil)

		_, err := svc.Advance(ctx, "")

		assert.ErrorIs(t, err, ErrExternalIDRequired)
	})
}

// memoryDocRepo stands in for the row-locked postgres repository: its
// AdvanceCursor does a mutex-guarded read-modify-write, so concurrent callers
// serialize exactly as they would on SELECT ... FOR UPDATE. Every committed
// (from, to) cursor transition is recorded.
type memoryDocRepo struct {
	mu          sync.Mutex
	doc         model.Document
	transitions [][2]int
}

func (r *memoryDocRepo) AdvanceCursor(ctx context.Context, userID string, advance repository.AdvanceFunc) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.doc.UserID != userID || !r.doc.Active {
		return nil, sql.ErrNoRows
	}

	doc := r.doc
	newOffset, err := advance(&doc)
	if err != nil {
		return nil, err
	}
	if newOffset < doc.Offset {
		return nil, errors.New("cursor must not move backwards")
	}
	r.transitions = append(r.transitions, [2]int{r.doc.Offset, newOffset})
	r.doc.Offset = newOffset
	doc.Offset = newOffset
	return &doc, nil
}

func (r *memoryDocRepo) CreateActive(context.Context, *model.Document) (*model.Document, error) {
	return nil, errors.New("not implemented")
}

func (r *memoryDocRepo) FindByID(context.Context, string) (*model.Document, error) {
	return nil, errors.New("not implemented")
}

func (r *memoryDocRepo) FindActiveByUser(context.Context, string) (*model.Document, error) {
	return nil, errors.New("not implemented")
}

func (r *memoryDocRepo) ListByUser(context.Context, string) ([]model.Document, error) {
	return nil, errors.New("not implemented")
}

func (r *memoryDocRepo) Activate(context.Context, string, string) (*model.Document, error) {
	return nil, errors.New("not implemented")
}

func TestReadingService_Advance_ConcurrentCallsNeverDoubleDeliver(t *testing.T) {
	ctx := context.Background()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Sentence number %02d pads out to the minimum length nicely. ", i)
	}
	text := strings.TrimSuffix(b.String(), " ")

	repo := &memoryDocRepo{doc: model.Document{
		ID: "doc-1", UserID: "user-1", Filename: "book.txt", Text: text, Active: true,
	}}
	mUsers := new(repoMocks.MockUserRepository)
	expectUpsert(mUsers, "tg-42", "user-1")

	svc := NewReadingService(mUsers, repo, nil, nil, 10, 500)

	var (
		mu        sync.Mutex
		fragments []string
	)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				view, err := svc.Advance(ctx, "tg-42")
				if err != nil {
					t.Errorf("advance: %v", err)
					return
				}
				if view.Fragment == "End of document." {
					return
				}
				mu.Lock()
				fragments = append(fragments, view.Fragment)
				mu.Unlock()
				if view.IsFinal {
					return
				}
			}
		}()
	}
	wg.Wait()

	// Committed transitions must chain contiguously and strictly forward: no
	// span is ever handed out twice, equality only at the terminal state.
	require.NotEmpty(t, repo.transitions)
	prev := 0
	for _, tr := range repo.transitions {
		require.Equal(t, prev, tr[0], "transition must start at the previous cursor")
		if tr[0] == len(text) {
			require.Equal(t, tr[0], tr[1])
			continue
		}
		require.Greater(t, tr[1], tr[0], "cursor must advance")
		prev = tr[1]
	}
	require.Equal(t, len(text), prev)

	// Every sentence was delivered exactly once across all goroutines.
	require.Len(t, fragments, 40)
	seen := make(map[string]bool, len(fragments))
	for _, f := range fragments {
		require.False(t, seen[f], "fragment delivered twice: %q", f)
		seen[f] = true
	}
}

func TestNewReadingService_InvertedBoundsFallBackToDefaults(t *testing.T) {
	ctx := context.Background()
	mUsers := new(repoMocks.MockUserRepository)
	mDocs := new(repoMocks.MockDocumentRepository)
	// min > max is a misconfiguration the service must not honor.
	svc := NewReadingService(mUsers, mDocs, nil, nil, 500, 50)

	text := strings.Repeat("a", 110) + ". " + strings.Repeat("b", 60)
	expectUpsert(mUsers, "tg-42", "user-1")
	mDocs.On("AdvanceCursor", mock.Anything, "user-1", mock.Anything).
		Return(&model.Document{ID: "doc-1", Filename: "book.txt", Text: text}, nil)

	view, err := svc.Advance(ctx, "tg-42")

	require.NoError(t, err)
	// Under the default bounds the natural boundary at byte 111 fires; the
	// inverted pair would have hard-capped the fragment at 50 bytes.
	assert.Equal(t, strings.Repeat("a", 110)+".", view.Fragment)
}

func TestReadingService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path archives upload and creates active document", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		mStore := new(storeMocks.MockStorage)
		mExtract := new(extractMocks.MockExtractor)
		svc := newTestService(mUsers, mDocs, mStore, mExtract)

		text := "A perfectly reasonable amount of extracted text."
		mExtract.On("Extract", []byte("raw pdf bytes"), "book.pdf").Return(text, nil)
		expectUpsert(mUsers, "tg-42", "user-1")
		mStore.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
			return strings.HasPrefix(key, "uploads/") && strings.HasSuffix(key, ".pdf")
		}), mock.Anything, mock.MatchedBy(func(opt storage.PutObjectOptions) bool {
			return opt.ContentType == "application/pdf" && opt.Metadata["original-filename"] == "book.pdf"
		})).Return(storage.ObjectInfo{Key: "uploads/generated.pdf"}, nil)
		mDocs.On("CreateActive", mock.Anything, mock.MatchedBy(func(doc *model.Document) bool {
			return doc.UserID == "user-1" && doc.Text == text && doc.StoragePath == "uploads/generated.pdf"
		})).Return(&model.Document{
			ID: "doc-1", UserID: "user-1", Filename: "book.pdf",
			Text: text, Active: true, CreatedAt: time.Now().UTC(),
		}, nil)

		view, err := svc.Ingest(ctx, "tg-42", "Ada", "book.pdf", strings.NewReader("raw pdf bytes"))

		require.NoError(t, err)
		assert.Equal(t, "doc-1", view.ID)
		assert.True(t, view.Active)
		assert.Equal(t, 0, view.ProgressPercent)

		mUsers.AssertExpectations(t)
		mDocs.AssertExpectations(t)
		mStore.AssertExpectations(t)
		mExtract.AssertExpectations(t)
	})

	t.Run("unsupported extension rejected before reading", func(t *testing.T) {
		svc := newTestService(new(repoMocks.MockUserRepository), new(repoMocks.MockDocumentRepository),
			new(storeMocks.MockStorage), new(extractMocks.MockExtractor))

		_, err := svc.Ingest(ctx, "tg-42", "", "image.png", strings.NewReader("bytes"))

		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("too-short extraction persists nothing", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		mStore := new(storeMocks.MockStorage)
		mExtract := new(extractMocks.MockExtractor)
		svc := newTestService(mUsers, mDocs, mStore, mExtract)

		mExtract.On("Extract", mock.Anything, "scan.pdf").Return("tiny", nil)

		_, err := svc.Ingest(ctx, "tg-42", "", "scan.pdf", strings.NewReader("scanned image pdf"))

		assert.ErrorIs(t, err, ErrEmptyExtraction)
		// No user, storage or document writes happened.
		mUsers.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
		mStore.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		mDocs.AssertNotCalled(t, "CreateActive", mock.Anything, mock.Anything)
	})

	t.Run("extraction failure maps to empty extraction", func(t *testing.T) {
		mExtract := new(extractMocks.MockExtractor)
		svc := newTestService(new(repoMocks.MockUserRepository), new(repoMocks.MockDocumentRepository),
			new(storeMocks.MockStorage), mExtract)

		mExtract.On("Extract", mock.Anything, "broken.epub").Return("", errors.New("open epub: bad zip"))

		_, err := svc.Ingest(ctx, "tg-42", "", "broken.epub", strings.NewReader("junk"))

		assert.ErrorIs(t, err, ErrEmptyExtraction)
	})

	t.Run("db failure rolls back the archived object", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		mStore := new(storeMocks.MockStorage)
		mExtract := new(extractMocks.MockExtractor)
		svc := newTestService(mUsers, mDocs, mStore, mExtract)

		mExtract.On("Extract", mock.Anything, "book.txt").Return("long enough extracted text", nil)
		expectUpsert(mUsers, "tg-42", "user-1")
		mStore.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{Key: "uploads/x.txt"}, nil)
		mDocs.On("CreateActive", mock.Anything, mock.Anything).Return(nil, errors.New("db fail"))
		mStore.On("Delete", mock.Anything, mock.Anything).Return(nil)

		_, err := svc.Ingest(ctx, "tg-42", "", "book.txt", strings.NewReader("raw"))

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "db save failed")
		mStore.AssertCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}

func TestReadingService_ActivateDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("switches the active document", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mUsers, mDocs, nil, nil)

		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("Activate", mock.Anything, "user-1", "doc-2").
			Return(&model.Document{ID: "doc-2", UserID: "user-1", Filename: "other.epub", Text: "abcd", Offset: 2, Active: true}, nil)

		view, err := svc.ActivateDocument(ctx, "tg-42", "doc-2")

		require.NoError(t, err)
		assert.True(t, view.Active)
		assert.Equal(t, 50, view.ProgressPercent)
	})

	t.Run("foreign or unknown document", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mUsers, mDocs, nil, nil)

		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("Activate", mock.Anything, "user-1", "doc-9").Return(nil, sql.ErrNoRows)

		_, err := svc.ActivateDocument(ctx, "tg-42", "doc-9")

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReadingService_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("reports progress without advancing", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mUsers, mDocs, nil, nil)

		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("FindActiveByUser", mock.Anything, "user-1").
			Return(&model.Document{Filename: "book.pdf", Text: strings.Repeat("x", 100), Offset: 25}, nil)

		st, err := svc.Status(ctx, "tg-42")

		require.NoError(t, err)
		assert.Equal(t, "book.pdf", st.Filename)
		assert.Equal(t, 25, st.ProgressPercent)
		assert.False(t, st.IsFinal)
		mDocs.AssertNotCalled(t, "AdvanceCursor", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no active document", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mUsers, mDocs, nil, nil)

		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("FindActiveByUser", mock.Anything, "user-1").Return(nil, sql.ErrNoRows)

		_, err := svc.Status(ctx, "tg-42")

		assert.ErrorIs(t, err, ErrNoActiveDocument)
	})
}

func TestReadingService_ListDocuments(t *testing.T) {
	ctx := context.Background()

	mUsers := new(repoMocks.MockUserRepository)
	mDocs := new(repoMocks.MockDocumentRepository)
	svc := newTestService(mUsers, mDocs, nil, nil)

	expectUpsert(mUsers, "tg-42", "user-1")
	mDocs.On("ListByUser", mock.Anything, "user-1").Return([]model.Document{
		{ID: "doc-2", Filename: "new.epub", Text: "abcdefgh", Offset: 0, Active: true},
		{ID: "doc-1", Filename: "old.pdf", Text: "abcdefgh", Offset: 8, Active: false},
	}, nil)

	views, err := svc.ListDocuments(ctx, "tg-42")

	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views[0].Active)
	assert.Equal(t, 100, views[1].ProgressPercent)
}

func TestReadingService_DownloadURL(t *testing.T) {
	ctx := context.Background()

	t.Run("presigns the archived original", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		mStore := new(storeMocks.MockStorage)
		svc := newTestService(mUsers, mDocs, mStore, nil)

		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("FindByID", mock.Anything, "doc-1").
			Return(&model.Document{ID: "doc-1", UserID: "user-1", StoragePath: "uploads/doc-1.pdf"}, nil)
		mStore.On("PresignGet", mock.Anything, "uploads/doc-1.pdf", presignExpiry).
			Return("https://example.test/doc-1.pdf?sig=abc", nil)

		url, err := svc.DownloadURL(ctx, "tg-42", "doc-1")

		require.NoError(t, err)
		assert.Contains(t, url, "doc-1.pdf")
	})

	t.Run("another user's document is invisible", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		mStore := new(storeMocks.MockStorage)
		svc := newTestService(mUsers, mDocs, mStore, nil)

		expectUpsert(mUsers, "tg-42", "user-1")
		mDocs.On("FindByID", mock.Anything, "doc-7").
			Return(&model.Document{ID: "doc-7", UserID: "someone-else"}, nil)

		_, err := svc.DownloadURL(ctx, "tg-42", "doc-7")

		assert.ErrorIs(t, err, ErrNotFound)
		mStore.AssertNotCalled(t, "PresignGet", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestReadingService_ForEachActiveReader(t *testing.T) {
	ctx := context.Background()

	t.Run("per-user failures never abort the batch", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		mDocs := new(repoMocks.MockDocumentRepository)
		svc := newTestService(mUsers, mDocs, nil, nil)

		readers := []model.User{
			{ID: "user-1", ExternalID: "tg-1"},
			{ID: "user-2", ExternalID: "tg-2"},
			{ID: "user-3", ExternalID: "tg-3"},
			{ID: "user-4", ExternalID: "tg-4"},
		}
		mUsers.On("ListWithActiveDocument", mock.Anything).Return(readers, nil)

		text := "A sentence long enough to segment cleanly without caps. Tail."
		mDocs.On("AdvanceCursor", mock.Anything, "user-1", mock.Anything).
			Return(&model.Document{ID: "d1", Filename: "a.txt", Text: text}, nil)
		// user-2's store errors out.
		mDocs.On("AdvanceCursor", mock.Anything, "user-2", mock.Anything).
			Return(nil, errors.New("store unavailable"))
		// user-3 lost its active document to a race.
		mDocs.On("AdvanceCursor", mock.Anything, "user-3", mock.Anything).
			Return(nil, sql.ErrNoRows)
		mDocs.On("AdvanceCursor", mock.Anything, "user-4", mock.Anything).
			Return(&model.Document{ID: "d4", Filename: "b.txt", Text: text}, nil)

		delivered := make([]string, 0)
		failDelivery := map[string]bool{"tg-4": true}
		report := svc.ForEachActiveReader(ctx, func(u model.User, view *model.FragmentView) error {
			if failDelivery[u.ExternalID] {
				return errors.New("chat unreachable")
			}
			delivered = append(delivered, u.ExternalID)
			return nil
		})

		assert.Equal(t, 1, report.Delivered)
		assert.Equal(t, 1, report.Skipped)
		require.Len(t, report.Failures, 2)
		assert.Equal(t, []string{"tg-1"}, delivered)

		reasons := map[string]string{}
		for _, f := range report.Failures {
			reasons[f.ExternalID] = f.Reason
		}
		assert.Contains(t, reasons["tg-2"], "advance")
		assert.Contains(t, reasons["tg-4"], "deliver")
	})

	t.Run("listing failure is reported, not raised", func(t *testing.T) {
		mUsers := new(repoMocks.MockUserRepository)
		svc := newTestService(mUsers, new(repoMocks.MockDocumentRepository), nil, nil)

		mUsers.On("ListWithActiveDocument", mock.Anything).Return(nil, errors.New("db down"))

		report := svc.ForEachActiveReader(ctx, func(model.User, *model.FragmentView) error {
			t.Fatal("nothing should be delivered")
			return nil
		})

		assert.Equal(t, 0, report.Delivered)
		require.Len(t, report.Failures, 1)
		assert.Contains(t, report.Failures[0].Reason, "list readers")
	})
}

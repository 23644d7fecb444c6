package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"readfeed/internal/model"
	"readfeed/internal/repository"
)

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) CreateActive(ctx context.Context, doc *model.Document) (*model.Document, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) FindActiveByUser(ctx context.Context, userID string) (*model.Document, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) ListByUser(ctx context.Context, userID string) ([]model.Document, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Document), args.Error(1)
}

func (m *MockDocumentRepository) Activate(ctx context.Context, userID, docID string) (*model.Document, error) {
	args := m.Called(ctx, userID, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

// AdvanceCursor mirrors the transactional advance: when a document fixture is
// configured it runs the advance function against a copy and returns the copy
// with the new offset applied, like the real row-locked update would.
func (m *MockDocumentRepository) AdvanceCursor(ctx context.Context, userID string, advance repository.AdvanceFunc) (*model.Document, error) {
	args := m.Called(ctx, userID, advance)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	doc := *args.Get(0).(*model.Document)
	newOffset, err := advance(&doc)
	if err != nil {
		return nil, err
	}
	doc.Offset = newOffset
	return &doc, args.Error(1)
}

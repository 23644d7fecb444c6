package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"readfeed/internal/model"
	"readfeed/internal/service"
)

type MockReadingService struct {
	mock.Mock
}

func (m *MockReadingService) Ingest(ctx context.Context, externalID, displayName, filename string, r io.Reader) (*model.DocumentView, error) {
	args := m.Called(ctx, externalID, displayName, filename, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentView), args.Error(1)
}

func (m *MockReadingService) Advance(ctx context.Context, externalID string) (*model.FragmentView, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FragmentView), args.Error(1)
}

func (m *MockReadingService) ActivateDocument(ctx context.Context, externalID, documentID string) (*model.DocumentView, error) {
	args := m.Called(ctx, externalID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentView), args.Error(1)
}

func (m *MockReadingService) ListDocuments(ctx context.Context, externalID string) ([]model.DocumentView, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DocumentView), args.Error(1)
}

func (m *MockReadingService) Status(ctx context.Context, externalID string) (*model.ReadingStatus, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReadingStatus), args.Error(1)
}

func (m *MockReadingService) DownloadURL(ctx context.Context, externalID, documentID string) (string, error) {
	args := m.Called(ctx, externalID, documentID)
	return args.String(0), args.Error(1)
}

func (m *MockReadingService) ForEachActiveReader(ctx context.Context, deliver service.DeliverFunc) *model.BroadcastReport {
	args := m.Called(ctx, deliver)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*model.BroadcastReport)
}

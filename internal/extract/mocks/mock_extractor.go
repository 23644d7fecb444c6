package mocks

import (
	"github.com/stretchr/testify/mock"
)

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(data []byte, filename string) (string, error) {
	args := m.Called(data, filename)
	return args.String(0), args.Error(1)
}

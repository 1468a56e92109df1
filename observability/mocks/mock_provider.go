package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// MockProvider is a mock implementation of types.Provider.
type MockProvider struct {
	mock.Mock
}

// NewNopProvider returns a MockProvider handing out nop loggers and metrics
// for every component.
func NewNopProvider() *MockProvider {
	m := new(MockProvider)
	m.On("Logger", mock.Anything).Return(NewNopLogger()).Maybe()
	m.On("Metrics", mock.Anything).Return(NewNopMetrics()).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

func (m *MockProvider) Logger(component string) types.Logger {
	args := m.Called(component)
	if logger, ok := args.Get(0).(types.Logger); ok {
		return logger
	}
	return nil
}

func (m *MockProvider) Metrics(component string) types.Metrics {
	args := m.Called(component)
	if metrics, ok := args.Get(0).(types.Metrics); ok {
		return metrics
	}
	return nil
}

func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

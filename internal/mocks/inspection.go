package mocks

import (
	"context"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
	"github.com/stretchr/testify/mock"
)

// MockSearchConsole is a mock implementation of the URL Inspection service
type MockSearchConsole struct {
	mock.Mock
}

// InspectURL mocks the InspectURL method
func (m *MockSearchConsole) InspectURL(ctx context.Context, inspectionURL, siteURL string) (inspection.Result, error) {
	args := m.Called(ctx, inspectionURL, siteURL)
	return args.Get(0).(inspection.Result), args.Error(1)
}

// MockRemoteInspector is a mock implementation of the retrying remote inspector
type MockRemoteInspector struct {
	mock.Mock
}

// Inspect mocks the Inspect method
func (m *MockRemoteInspector) Inspect(ctx context.Context, req inspection.Request) (inspection.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(inspection.Result), args.Error(1)
}

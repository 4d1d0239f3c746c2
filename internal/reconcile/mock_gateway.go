package reconcile

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"icssync/internal/model"
)

// MockGateway implements Gateway for testing
type MockGateway struct {
	mock.Mock
}

// List implements Gateway
func (m *MockGateway) List(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]string, error) {
	args := m.Called(ctx, calendarID, timeMin, timeMax)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Insert implements Gateway
func (m *MockGateway) Insert(ctx context.Context, calendarID string, ev model.RemoteEvent) (string, error) {
	args := m.Called(ctx, calendarID, ev)
	return args.String(0), args.Error(1)
}

// Delete implements Gateway
func (m *MockGateway) Delete(ctx context.Context, calendarID, eventID string) error {
	args := m.Called(ctx, calendarID, eventID)
	return args.Error(0)
}

package actuator

import (
	"context"

	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockActuator mocks the Actuator interface
type MockActuator struct {
	mock.Mock
}

// Unlock mocks the Unlock method
func (m *MockActuator) Unlock(ctx context.Context, entity interfaces.EntityID) error {
	args := m.Called(ctx, entity)
	return args.Error(0)
}

// Lock mocks the Lock method
func (m *MockActuator) Lock(ctx context.Context, entity interfaces.EntityID) error {
	args := m.Called(ctx, entity)
	return args.Error(0)
}

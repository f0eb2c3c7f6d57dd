package registry

import (
	"context"

	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockRegistry mocks the DeviceRegistry interface
type MockRegistry struct {
	mock.Mock
}

// AddInitialDevice mocks the AddInitialDevice method
func (m *MockRegistry) AddInitialDevice(ctx context.Context, device interfaces.PairedDevice) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

// AddDevice mocks the AddDevice method
func (m *MockRegistry) AddDevice(ctx context.Context, device interfaces.PairedDevice) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

// Device mocks the Device method
func (m *MockRegistry) Device(id interfaces.DeviceID) (interfaces.PairedDevice, error) {
	args := m.Called(id)
	return args.Get(0).(interfaces.PairedDevice), args.Error(1)
}

// DeviceForEntity mocks the DeviceForEntity method
func (m *MockRegistry) DeviceForEntity(id interfaces.DeviceID, entity interfaces.EntityID) (interfaces.PairedDevice, error) {
	args := m.Called(id, entity)
	return args.Get(0).(interfaces.PairedDevice), args.Error(1)
}

// HasDevices mocks the HasDevices method
func (m *MockRegistry) HasDevices() bool {
	args := m.Called()
	return args.Bool(0)
}

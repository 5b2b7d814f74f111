package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/execution-hub/commission-hub/internal/domain/catalog"
)

// MockServiceRepository is a mock implementation of catalog.ServiceRepository
type MockServiceRepository struct {
	mock.Mock
}

func (m *MockServiceRepository) Create(ctx context.Context, s *catalog.Service) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockServiceRepository) GetByID(ctx context.Context, serviceID uuid.UUID) (*catalog.Service, error) {
	args := m.Called(ctx, serviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Service), args.Error(1)
}

func (m *MockServiceRepository) SetCommission(ctx context.Context, serviceID uuid.UUID, cache *catalog.CommissionCache) error {
	args := m.Called(ctx, serviceID, cache)
	return args.Error(0)
}

// MockOrderRepository is a mock implementation of catalog.OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, o *catalog.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*catalog.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Order), args.Error(1)
}

package mocks

import (
	"context"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) InstanceRepository() persistence.InstanceRepository {
	args := m.Called()

	return args.Get(0).(persistence.InstanceRepository)
}

func (m *MockPersistence) HistoryRepository() persistence.HistoryRepository {
	args := m.Called()

	return args.Get(0).(persistence.HistoryRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockHistoryRepository is a mock implementation of persistence.HistoryRepository interface.
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Append(ctx context.Context, instanceID string, expectedLast int64, events []models.HistoryEvent) error {
	args := m.Called(ctx, instanceID, expectedLast, events)

	return args.Error(0)
}

func (m *MockHistoryRepository) Load(ctx context.Context, instanceID string) ([]models.HistoryEvent, error) {
	args := m.Called(ctx, instanceID)

	events, _ := args.Get(0).([]models.HistoryEvent)

	return events, args.Error(1)
}

// MockResultRepository is a mock implementation of persistence.ResultRepository interface.
type MockResultRepository struct {
	mock.Mock
}

func (m *MockResultRepository) Upsert(ctx context.Context, entity *models.Entity) error {
	args := m.Called(ctx, entity)

	return args.Error(0)
}

func (m *MockResultRepository) Get(ctx context.Context, partitionKey, rowKey string) (*models.Entity, error) {
	args := m.Called(ctx, partitionKey, rowKey)

	entity, _ := args.Get(0).(*models.Entity)

	return entity, args.Error(1)
}

func (m *MockResultRepository) QueryByPartition(ctx context.Context, partitionKey string, limit int) ([]*models.Entity, error) {
	args := m.Called(ctx, partitionKey, limit)

	entities, _ := args.Get(0).([]*models.Entity)

	return entities, args.Error(1)
}

func (m *MockResultRepository) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockResultRepository) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

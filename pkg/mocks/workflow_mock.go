package mocks

import (
	"context"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/orchestration"
	"github.com/stretchr/testify/mock"
)

// MockInstanceManager mocks the engine's instance lookup and cancellation.
type MockInstanceManager struct {
	mock.Mock
}

func (m *MockInstanceManager) Instance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowInstance), args.Error(1)
}

func (m *MockInstanceManager) Cancel(ctx context.Context, instanceID, reason string) (*orchestration.AdvanceResult, error) {
	args := m.Called(ctx, instanceID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*orchestration.AdvanceResult), args.Error(1)
}

// MockImageSubmitter mocks the driver's blob submission.
type MockImageSubmitter struct {
	mock.Mock
}

func (m *MockImageSubmitter) SubmitBlob(ctx context.Context, blobName string, data []byte) (string, error) {
	args := m.Called(ctx, blobName, data)

	return args.String(0), args.Error(1)
}

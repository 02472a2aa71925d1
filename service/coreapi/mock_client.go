package coreapi

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/antinvestor/daraja-api/service/models"
)

// MockClient is a mock implementation of the DarajaApiClient interface.
type MockClient struct {
	mock.Mock
}

// GenerateAccessToken mocks the GenerateAccessToken method.
func (m *MockClient) GenerateAccessToken(ctx context.Context) (*AccessTokenResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AccessTokenResponse), args.Error(1)
}

// InitiateSTKPush mocks the InitiateSTKPush method.
func (m *MockClient) InitiateSTKPush(ctx context.Context, request models.STKPushRequest, accessToken string) (*models.STKPushResponse, error) {
	args := m.Called(ctx, request, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.STKPushResponse), args.Error(1)
}

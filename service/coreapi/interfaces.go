package coreapi

import (
	"context"

	"github.com/antinvestor/daraja-api/service/models"
)

//nolint:revive // DarajaApiClient follows original API naming convention
type DarajaApiClient interface {
	GenerateAccessToken(ctx context.Context) (*AccessTokenResponse, error)
	InitiateSTKPush(ctx context.Context, request models.STKPushRequest, accessToken string) (*models.STKPushResponse, error)
}

package repository

import (
	"context"

	"github.com/pitabwire/frame"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/antinvestor/daraja-api/service/models"
)

type CallbackEventRepository interface {
	// Create inserts the audit record for a delivery. The unique
	// (provider, provider_event_id) index makes the insert a no-op for a
	// duplicate delivery; the returned bool reports whether a row was
	// actually created.
	Create(ctx context.Context, event *models.CallbackEvent) (bool, error)

	// RecordDuplicate bumps the delivery counter on the original event so
	// repeat deliveries stay visible without a second row.
	RecordDuplicate(ctx context.Context, provider string, providerEventID string) error

	GetByProviderEventID(ctx context.Context, provider string, providerEventID string) (*models.CallbackEvent, error)
}

type callbackEventRepository struct {
	abstractRepository
}

func NewCallbackEventRepository(_ context.Context, service *frame.Service) CallbackEventRepository {
	return &callbackEventRepository{abstractRepository{service: service}}
}

func (repo *callbackEventRepository) Create(ctx context.Context, event *models.CallbackEvent) (bool, error) {
	result := repo.writeDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (repo *callbackEventRepository) RecordDuplicate(ctx context.Context, provider string, providerEventID string) error {
	return repo.writeDB(ctx).Model(&models.CallbackEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		UpdateColumn("delivery_count", gorm.Expr("delivery_count + 1")).Error
}

func (repo *callbackEventRepository) GetByProviderEventID(ctx context.Context, provider string, providerEventID string) (*models.CallbackEvent, error) {
	event := models.CallbackEvent{}
	err := repo.readDB(ctx).First(&event, "provider = ? AND provider_event_id = ?", provider, providerEventID).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

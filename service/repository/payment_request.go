package repository

import (
	"context"
	"errors"
	"time"

	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/antinvestor/daraja-api/service/models"
)

type PaymentRequestRepository interface {
	GetByID(ctx context.Context, id string) (*models.PaymentRequest, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.PaymentRequest, error)
	Save(ctx context.Context, request *models.PaymentRequest) error

	// TransitionIfPending applies the single guarded terminal transition.
	// The returned bool reports whether this writer won the row; a false
	// with nil error means another writer already resolved it.
	TransitionIfPending(ctx context.Context, id string, status string, completedAt time.Time, receiptNumber string) (bool, error)

	// LinkTransaction records the ledger transaction id on a request that
	// has no link yet. Link-only, never touches status.
	LinkTransaction(ctx context.Context, id string, transactionID string) (bool, error)

	// MatchForLedger resolves the request a ledger posting belongs to:
	// first by the receipt number stashed from the result callback, then
	// by the newest PENDING request with the same account reference and
	// the exact posted amount. Returns nil when nothing matches.
	MatchForLedger(ctx context.Context, receiptNumber string, accountReference string, amount decimal.Decimal) (*models.PaymentRequest, error)

	PendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.PaymentRequest, error)
	CompletedUnconfirmedBefore(ctx context.Context, cutoff time.Time) ([]*models.PaymentRequest, error)
}

type paymentRequestRepository struct {
	abstractRepository
}

func NewPaymentRequestRepository(_ context.Context, service *frame.Service) PaymentRequestRepository {
	return &paymentRequestRepository{abstractRepository{service: service}}
}

func (repo *paymentRequestRepository) GetByID(ctx context.Context, id string) (*models.PaymentRequest, error) {
	request := models.PaymentRequest{}
	err := repo.readDB(ctx).First(&request, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (repo *paymentRequestRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.PaymentRequest, error) {
	request := models.PaymentRequest{}
	err := repo.readDB(ctx).First(&request, "checkout_request_id = ?", checkoutRequestID).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (repo *paymentRequestRepository) Save(ctx context.Context, request *models.PaymentRequest) error {
	return repo.writeDB(ctx).Save(request).Error
}

func (repo *paymentRequestRepository) TransitionIfPending(ctx context.Context, id string, status string, completedAt time.Time, receiptNumber string) (bool, error) {
	updates := map[string]any{
		"status":       status,
		"completed_at": completedAt,
	}
	if receiptNumber != "" {
		updates["receipt_number"] = receiptNumber
	}

	result := repo.writeDB(ctx).Model(&models.PaymentRequest{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (repo *paymentRequestRepository) LinkTransaction(ctx context.Context, id string, transactionID string) (bool, error) {
	result := repo.writeDB(ctx).Model(&models.PaymentRequest{}).
		Where("id = ? AND (linked_transaction_id IS NULL OR linked_transaction_id = '')", id).
		Update("linked_transaction_id", transactionID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (repo *paymentRequestRepository) MatchForLedger(ctx context.Context, receiptNumber string, accountReference string, amount decimal.Decimal) (*models.PaymentRequest, error) {
	request := models.PaymentRequest{}

	if receiptNumber != "" {
		err := repo.readDB(ctx).First(&request, "receipt_number = ?", receiptNumber).Error
		if err == nil {
			return &request, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if accountReference == "" {
		return nil, nil
	}

	err := repo.readDB(ctx).
		Where("account_reference = ? AND status = ? AND amount = ?", accountReference, models.StatusPending, amount).
		Order("initiated_at DESC").
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (repo *paymentRequestRepository) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.PaymentRequest, error) {
	var requests []*models.PaymentRequest
	err := repo.readDB(ctx).
		Where("status = ? AND initiated_at < ?", models.StatusPending, cutoff).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (repo *paymentRequestRepository) CompletedUnconfirmedBefore(ctx context.Context, cutoff time.Time) ([]*models.PaymentRequest, error) {
	var requests []*models.PaymentRequest
	err := repo.readDB(ctx).
		Where("status = ? AND (linked_transaction_id IS NULL OR linked_transaction_id = '') AND completed_at < ?",
			models.StatusCompleted, cutoff).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

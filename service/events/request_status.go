package events

import (
	"context"
	"errors"

	"github.com/pitabwire/frame"

	"github.com/antinvestor/daraja-api/service/models"
)

// RequestStatusNotify fans out payment request lifecycle changes. It is the
// seam downstream consumers (policy activation, receipts, messaging) hang
// off without sitting in the webhook path.
type RequestStatusNotify struct {
	Service *frame.Service
}

func (e *RequestStatusNotify) Name() string {
	return "payment.request.status"
}

func (e *RequestStatusNotify) PayloadType() any {
	return &models.PaymentRequest{}
}

func (e *RequestStatusNotify) Validate(_ context.Context, payload any) error {
	request, ok := payload.(*models.PaymentRequest)
	if !ok {
		return errors.New("payload is not of type models.PaymentRequest")
	}
	if request.GetID() == "" {
		return errors.New("payment request id should already have been set")
	}
	return nil
}

func (e *RequestStatusNotify) Execute(ctx context.Context, payload any) error {
	request := payload.(*models.PaymentRequest)

	logger := e.Service.Log(ctx).
		WithField("type", e.Name()).
		WithField("requestId", request.GetID()).
		WithField("status", request.Status).
		WithField("correlationId", request.CorrelationID)
	logger.Info("payment request status changed")

	return nil
}

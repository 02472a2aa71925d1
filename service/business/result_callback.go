package business

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/antinvestor/daraja-api/service/events"
	"github.com/antinvestor/daraja-api/service/models"
)

// ProcessResultCallback correlates the provider's synchronous result webhook
// to its originating request by checkout id and applies the guarded terminal
// transition. Deliveries are at-least-once and unordered; everything here is
// a safe no-op on replay. Only store failures return an error, and the HTTP
// boundary acknowledges the provider regardless.
func (pb *pushBusiness) ProcessResultCallback(ctx context.Context, rawPayload []byte, callback *models.StkResultCallback) error {
	checkoutRequestID := callback.CheckoutRequestID()
	eventID := models.DeriveEventID(rawPayload, checkoutRequestID)

	logger := pb.service.Log(ctx).
		WithField("type", "ResultCallback").
		WithField("checkoutRequestId", checkoutRequestID).
		WithField("providerEventId", eventID)

	request, err := pb.requestRepo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		request = nil
	}

	auditEvent := &models.CallbackEvent{
		Provider:        models.ProviderStkResult,
		ProviderEventID: eventID,
		EventType:       models.EventTypeStkResult,
		OccurredAt:      pb.clock.Now(),
		RawPayload:      rawPayload,
	}
	if request != nil {
		auditEvent.PaymentRequestID = request.GetID()
	}
	auditEvent.GenID(ctx)

	created, err := pb.eventRepo.Create(ctx, auditEvent)
	if err != nil {
		return err
	}
	if !created {
		logger.WithError(ErrDuplicateDelivery).Info("dropping replayed delivery")
		return pb.eventRepo.RecordDuplicate(ctx, models.ProviderStkResult, eventID)
	}

	if request == nil {
		logger.WithError(ErrUnmatchedCallback).Warn("stored callback without a matching request")
		pb.emitAnomaly(ctx, &events.Anomaly{
			Kind:            events.AnomalyUnmatchedCallback,
			Provider:        models.ProviderStkResult,
			ProviderEventID: eventID,
			Detail:          "result callback matched no payment request",
		})
		return nil
	}

	if request.IsTerminal() {
		// Late result after an expiry or a replayed channel: keep the
		// audit trail, never touch status.
		logger.WithField("status", request.Status).Info("request already terminal, recorded audit event only")
		return nil
	}

	status := models.StatusFailed
	if callback.IsSuccessful() {
		status = models.StatusCompleted
	}

	won, err := pb.requestRepo.TransitionIfPending(ctx, request.GetID(), status, pb.clock.Now(), callback.ReceiptNumber())
	if err != nil {
		return err
	}
	if !won {
		logger.Info("lost transition race, another writer already resolved the request")
		return nil
	}

	request.Status = status
	logger.WithField("status", status).Info("payment request resolved by result callback")
	pb.emitStatus(ctx, request)

	return nil
}

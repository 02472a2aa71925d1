package business

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/antinvestor/daraja-api/service/events"
	"github.com/antinvestor/daraja-api/service/models"
)

// ProcessLedgerConfirmation correlates the asynchronous ledger posting to a
// payment request. The posting is authoritative proof of payment: a still
// pending request completes on it even before the synchronous result arrives.
// It never reverts a failed or expired request; that disagreement is flagged
// for manual review instead.
func (pb *pushBusiness) ProcessLedgerConfirmation(ctx context.Context, rawPayload []byte, confirmation *models.LedgerConfirmation) error {
	eventID := models.DeriveEventID(rawPayload, confirmation.TransID)

	logger := pb.service.Log(ctx).
		WithField("type", "LedgerConfirmation").
		WithField("transactionId", confirmation.TransID).
		WithField("billRef", confirmation.BillRefNumber)

	amount, err := confirmation.Amount()
	if err != nil {
		logger.WithError(err).Warn("could not parse posted amount, matching by receipt only")
		amount = decimal.Zero
	}

	// The ledger's transaction id is the same receipt number a successful
	// result callback carries, which is the primary join key.
	request, err := pb.requestRepo.MatchForLedger(ctx, confirmation.TransID, confirmation.BillRefNumber, amount)
	if err != nil {
		return err
	}

	auditEvent := &models.CallbackEvent{
		Provider:        models.ProviderLedger,
		ProviderEventID: eventID,
		EventType:       models.EventTypeLedgerConfirmation,
		OccurredAt:      confirmation.OccurredAt(pb.clock.Now()),
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
		return pb.eventRepo.RecordDuplicate(ctx, models.ProviderLedger, eventID)
	}

	if request == nil {
		// Standalone postings (direct paybill deposits) are expected on
		// this channel and are kept for the books.
		logger.Info("stored standalone ledger posting")
		return nil
	}

	logger = logger.WithField("requestId", request.GetID())

	if !request.IsTerminal() {
		linked, err := pb.requestRepo.LinkTransaction(ctx, request.GetID(), confirmation.TransID)
		if err != nil {
			return err
		}
		won, err := pb.requestRepo.TransitionIfPending(ctx, request.GetID(), models.StatusCompleted, pb.clock.Now(), confirmation.TransID)
		if err != nil {
			return err
		}
		if won {
			request.Status = models.StatusCompleted
			request.LinkedTransactionID = confirmation.TransID
			logger.Info("payment request completed by ledger confirmation")
			pb.emitStatus(ctx, request)
		} else if linked {
			logger.Info("linked ledger transaction, status already resolved elsewhere")
		}
		return nil
	}

	if request.Status == models.StatusCompleted {
		if !request.IsLinked() {
			if _, err = pb.requestRepo.LinkTransaction(ctx, request.GetID(), confirmation.TransID); err != nil {
				return err
			}
			logger.Info("linked ledger transaction to completed request")
		}
		return nil
	}

	// FAILED or EXPIRED with money confirmed on the ledger: the two
	// channels disagree and nothing is auto-corrected.
	logger.WithError(ErrReconciliationConflict).WithField("status", request.Status).
		Error("ledger confirmation for a terminal non-completed request")
	pb.emitAnomaly(ctx, &events.Anomaly{
		Kind:            events.AnomalyReconciliationConflict,
		Provider:        models.ProviderLedger,
		ProviderEventID: eventID,
		RequestID:       request.GetID(),
		Detail:          "ledger confirmed payment for a " + request.Status + " request",
	})

	return nil
}

package business

import (
	"context"
	"strings"

	"github.com/antinvestor/daraja-api/service/events"
	"github.com/antinvestor/daraja-api/service/models"
)

// ExpireStale transitions PENDING requests older than the configured push
// timeout to EXPIRED. Each row uses the same guarded update as the
// correlators, so a callback racing the sweep wins or loses cleanly; the
// loser's write is dropped, never double-applied.
func (pb *pushBusiness) ExpireStale(ctx context.Context) (*ReconRun, error) {
	now := pb.clock.Now()
	cutoff := now.Add(-pb.cfg.PushTimeout())

	logger := pb.service.Log(ctx).WithField("type", "ExpirationSweeper")

	stale, err := pb.requestRepo.PendingOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	run := &ReconRun{RanAt: now, RequestIDs: []string{}}
	for _, request := range stale {
		won, err := pb.requestRepo.TransitionIfPending(ctx, request.GetID(), models.StatusExpired, now, "")
		if err != nil {
			return nil, err
		}
		if !won {
			// A callback resolved it between the scan and the update.
			continue
		}
		run.Count++
		run.RequestIDs = append(run.RequestIDs, request.GetID())

		request.Status = models.StatusExpired
		pb.emitStatus(ctx, request)
	}

	if run.Count > 0 {
		logger.WithField("expired", run.Count).Info("expired stale payment requests")
	}

	pb.runMu.Lock()
	pb.lastSweep = run
	pb.runMu.Unlock()

	return run, nil
}

// AuditMissingConfirmations reports COMPLETED requests whose ledger
// confirmation never arrived within the SLA window. Reconciliation only, no
// state is mutated; the same request keeps appearing until it is resolved.
func (pb *pushBusiness) AuditMissingConfirmations(ctx context.Context) (*ReconRun, error) {
	now := pb.clock.Now()
	cutoff := now.Add(-pb.cfg.ConfirmationSLA())

	logger := pb.service.Log(ctx).WithField("type", "MissingConfirmationAuditor")

	unconfirmed, err := pb.requestRepo.CompletedUnconfirmedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	run := &ReconRun{RanAt: now, RequestIDs: []string{}}
	for _, request := range unconfirmed {
		run.Count++
		run.RequestIDs = append(run.RequestIDs, request.GetID())

		pb.emitAnomaly(ctx, &events.Anomaly{
			Kind:      events.AnomalyMissingConfirmation,
			Provider:  models.ProviderLedger,
			RequestID: request.GetID(),
			Detail:    "no ledger confirmation within the SLA window",
		})
	}

	if run.Count > 0 {
		logger.WithField("count", run.Count).
			WithField("requestIds", strings.Join(run.RequestIDs, ",")).
			Warn("completed requests missing ledger confirmation")
	}

	pb.runMu.Lock()
	pb.lastAudit = run
	pb.runMu.Unlock()

	return run, nil
}

func (pb *pushBusiness) LastSweep() *ReconRun {
	pb.runMu.Lock()
	defer pb.runMu.Unlock()
	return pb.lastSweep
}

func (pb *pushBusiness) LastAudit() *ReconRun {
	pb.runMu.Lock()
	defer pb.runMu.Unlock()
	return pb.lastAudit
}

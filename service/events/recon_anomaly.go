package events

import (
	"context"
	"errors"

	"github.com/pitabwire/frame"
)

const (
	AnomalyUnmatchedCallback      = "unmatched_callback"
	AnomalyReconciliationConflict = "reconciliation_conflict"
	AnomalyMissingConfirmation    = "missing_confirmation"
)

// Anomaly is an operational signal that needs human or downstream follow-up.
// It is never surfaced to the provider.
type Anomaly struct {
	Kind            string
	Provider        string
	ProviderEventID string
	RequestID       string
	Detail          string
}

// ReconAnomalyNotify routes reconciliation anomalies to the operational log.
type ReconAnomalyNotify struct {
	Service *frame.Service
}

func (e *ReconAnomalyNotify) Name() string {
	return "reconciliation.anomaly"
}

func (e *ReconAnomalyNotify) PayloadType() any {
	return &Anomaly{}
}

func (e *ReconAnomalyNotify) Validate(_ context.Context, payload any) error {
	anomaly, ok := payload.(*Anomaly)
	if !ok {
		return errors.New("payload is not of type events.Anomaly")
	}
	if anomaly.Kind == "" {
		return errors.New("anomaly kind is required")
	}
	return nil
}

func (e *ReconAnomalyNotify) Execute(ctx context.Context, payload any) error {
	anomaly := payload.(*Anomaly)

	e.Service.Log(ctx).
		WithField("type", e.Name()).
		WithField("kind", anomaly.Kind).
		WithField("provider", anomaly.Provider).
		WithField("providerEventId", anomaly.ProviderEventID).
		WithField("requestId", anomaly.RequestID).
		Warn(anomaly.Detail)

	return nil
}

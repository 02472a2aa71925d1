package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pitabwire/frame"

	"github.com/antinvestor/daraja-api/service/business"
)

const (
	headerCorrelationID = "X-Correlation-ID"
	headerCallerID      = "X-Caller-ID"
)

// PushServer carries the handler dependencies.
type PushServer struct {
	Service  *frame.Service
	Business business.PushBusiness
}

func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

type initiateResponse struct {
	ID                string `json:"id"`
	MerchantRequestID string `json:"merchantRequestId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	Status            string `json:"status"`
	CorrelationID     string `json:"correlationId"`
}

// InitiatePush handles the internal-facing push initiation endpoint.
func (ps *PushServer) InitiatePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := ps.Service.Log(ctx).WithField("type", "InitiatePushHandler")

	var request business.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		logger.WithError(err).Info("failed to decode initiation request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if correlationID := r.Header.Get(headerCorrelationID); correlationID != "" {
		request.CorrelationID = correlationID
	}
	initiatedBy := r.Header.Get(headerCallerID)

	paymentRequest, err := ps.Business.Initiate(ctx, initiatedBy, request)
	if err != nil {
		ps.writeInitiateError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, initiateResponse{
		ID:                paymentRequest.GetID(),
		MerchantRequestID: paymentRequest.MerchantRequestID,
		CheckoutRequestID: paymentRequest.CheckoutRequestID,
		Status:            paymentRequest.Status,
		CorrelationID:     paymentRequest.CorrelationID,
	})
}

func (ps *PushServer) writeInitiateError(w http.ResponseWriter, r *http.Request, err error) {
	logger := ps.Service.Log(r.Context()).WithField("type", "InitiatePushHandler")

	var validationErr *business.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
		return
	}

	if errors.Is(err, business.ErrServiceDisabled) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	var providerErr *business.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.RateLimited {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "provider rate limit, retry later"})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment provider unavailable"})
		return
	}

	logger.WithError(err).Error("initiation failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// GetRequest serves the diagnostic fetch-by-id endpoint.
func (ps *PushServer) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := mux.Vars(r)["requestID"]

	paymentRequest, err := ps.Business.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, business.ErrRequestDoesNotExist) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		ps.Service.Log(ctx).WithError(err).WithField("requestId", requestID).Error("could not load request")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, paymentRequest)
}

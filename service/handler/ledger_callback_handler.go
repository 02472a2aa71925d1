package handlers

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/antinvestor/daraja-api/service/models"
)

var ledgerAck = map[string]any{"ResultCode": 0, "ResultDesc": "Success"}

func (ps *PushServer) HandleLedgerConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := ps.Service.Log(ctx).WithField("type", "LedgerConfirmationHandler")

	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.WithError(err).Error("failed to read confirmation body")
		writeJSON(w, http.StatusOK, ledgerAck)
		return
	}

	var confirmation models.LedgerConfirmation
	if err := json.Unmarshal(rawPayload, &confirmation); err != nil {
		logger.WithError(err).Error("failed to decode confirmation body")
		writeJSON(w, http.StatusOK, ledgerAck)
		return
	}

	if err := ps.Business.ProcessLedgerConfirmation(ctx, rawPayload, &confirmation); err != nil {
		logger.WithError(err).
			WithField("transactionId", confirmation.TransID).
			Error("failed to process ledger confirmation")
	}

	writeJSON(w, http.StatusOK, ledgerAck)
}

// IPAllowlist restricts a handler to the given comma separated CIDR ranges.
// An empty list allows everything, which keeps local development working.
func IPAllowlist(networks string, next http.Handler) http.Handler {
	var prefixes []netip.Prefix
	for _, raw := range strings.Split(networks, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			continue
		}
		prefixes = append(prefixes, prefix)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(prefixes) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		addr, err := netip.ParseAddr(host)
		if err != nil {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		for _, prefix := range prefixes {
			if prefix.Contains(addr) {
				next.ServeHTTP(w, r)
				return
			}
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

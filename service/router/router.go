package router

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/antinvestor/daraja-api/config"
	handlers "github.com/antinvestor/daraja-api/service/handler"
)

func NewRouter(ps *handlers.PushServer, cfg *config.DarajaConfig) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	// Health check endpoint
	router.HandleFunc("/health", handlers.HealthHandler).Methods("GET")

	// Internal-facing initiation endpoint
	router.HandleFunc("/payments/push/initiate", ps.InitiatePush).Methods("POST")

	// Provider-facing webhooks: both always acknowledge success
	router.HandleFunc("/payments/push/callback", ps.HandleStkCallback).Methods("POST")
	router.Handle("/payments/ledger/confirmation",
		handlers.IPAllowlist(cfg.LedgerAllowedNetworks, http.HandlerFunc(ps.HandleLedgerConfirmation))).Methods("POST")

	// Diagnostic endpoints stay off production routers entirely
	if !cfg.IsProduction() {
		router.HandleFunc("/payments/push/requests/{requestID}", ps.GetRequest).Methods("GET")
		router.HandleFunc("/recon/sweep/run", ps.RunSweep).Methods("POST")
		router.HandleFunc("/recon/audit/run", ps.RunAudit).Methods("POST")
		router.HandleFunc("/recon/last-runs", ps.LastRuns).Methods("GET")
	}

	return router
}

package handlers

import (
	"net/http"

	"github.com/antinvestor/daraja-api/service/business"
)

// Manual triggers and run reports for the sweeper and auditor. The router
// only mounts these outside production.

func (ps *PushServer) RunSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	run, err := ps.Business.ExpireStale(ctx)
	if err != nil {
		ps.Service.Log(ctx).WithError(err).Error("manual sweep failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sweep failed"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (ps *PushServer) RunAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	run, err := ps.Business.AuditMissingConfirmations(ctx)
	if err != nil {
		ps.Service.Log(ctx).WithError(err).Error("manual audit failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit failed"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (ps *PushServer) LastRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]*business.ReconRun{
		"sweep": ps.Business.LastSweep(),
		"audit": ps.Business.LastAudit(),
	})
}

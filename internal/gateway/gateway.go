// Package gateway exposes the queue producer interface over HTTP:
// enqueue, read_result, approve, unlock. It deliberately does not
// validate the incoming JobSpec payload against a JSON schema (that
// gate lives in front of this package, per spec §6) and performs no
// webhook signature verification — both are treated as the deploying
// operator's responsibility.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/coderun-ai/orchestrator/internal/artifacts"
	"github.com/coderun-ai/orchestrator/internal/jobspec"
	"github.com/coderun-ai/orchestrator/internal/queue"
)

// Gateway wires the HTTP surface on top of a Queue and Store.
type Gateway struct {
	Queue     *queue.Queue
	Artifacts *artifacts.Store
}

// Router builds the chi mux: POST /jobs, GET /jobs/{job_id}/result,
// POST /jobs/{job_id}/approve, POST /jobs/{job_id}/unlock.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", g.handleEnqueue)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/result", g.handleReadResult)
			r.Post("/approve", g.handleApprove)
			r.Post("/unlock", g.handleUnlock)
		})
	})

	return r
}

func (g *Gateway) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var spec jobspec.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, jobspec.ErrValidation, "malformed request body")
		return
	}
	if spec.JobID == "" {
		spec.JobID = uuid.NewString()
	}

	if err := g.Queue.Enqueue(&spec); err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			writeError(w, http.StatusConflict, jobspec.ErrDuplicateJob, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, jobspec.ErrValidation, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": spec.JobID})
}

func (g *Gateway) handleReadResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	jobDir := g.Artifacts.JobDir(jobID)

	// A caller polling only for e.g. "status" or "steps.0.status" can ask
	// for just that gjson path, skipping the full-document decode.
	if field := r.URL.Query().Get("field"); field != "" {
		value, err := g.Artifacts.JSONField(jobDir, artifacts.FileResult, field)
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "field": field, "value": nil})
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobspec.ErrTransientIO, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "field": field, "value": value.Value()})
		return
	}

	var result jobspec.JobResult
	err := g.Artifacts.ReadJSON(jobDir, artifacts.FileResult, &result)
	if errors.Is(err, os.ErrNotExist) {
		// Not yet available: the job may still be running, or may not
		// exist at all. Readers must tolerate this as "not ready".
		writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "result": nil})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, jobspec.ErrTransientIO, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "result": result})
}

func (g *Gateway) handleApprove(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := g.Queue.Approve(jobID); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, jobspec.ErrTransientIO, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleUnlock(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := g.Queue.Unlock(jobID); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, jobspec.ErrTransientIO, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error_code": code, "message": message})
}

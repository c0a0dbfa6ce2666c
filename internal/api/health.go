package api

import (
	"net/http"
	"time"

	"github.com/kjannette/energy-monitor/internal/scheduler"
)

// IngestStatus is the read-only view of the ingestion scheduler.
type IngestStatus interface {
	State() scheduler.State
	LastCycle() (scheduler.CycleResult, bool)
}

type healthResponse struct {
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Store     storeHealth   `json:"store"`
	Ingest    *ingestHealth `json:"ingest,omitempty"`
}

type storeHealth struct {
	Backend string `json:"backend,omitempty"`
	Status  string `json:"status"`
}

type ingestHealth struct {
	State       string `json:"state"`
	LastCycleAt string `json:"last_cycle_at,omitempty"`
	LastFetched int    `json:"last_fetched"`
	LastError   string `json:"last_error,omitempty"`
}

// handleHealth answers 503 while the store is unreachable. A failed ingestion
// cycle only marks the service degraded: stored prices are still servable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Store:     storeHealth{Backend: s.backend, Status: "connected"},
	}
	code := http.StatusOK

	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("store ping failed", "error", err)
		resp.Store.Status = "disconnected"
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	if s.ingest != nil {
		ih := &ingestHealth{State: s.ingest.State().String()}
		if last, ok := s.ingest.LastCycle(); ok {
			ih.LastCycleAt = last.Started.UTC().Format(time.RFC3339)
			ih.LastFetched = last.Fetched
			if last.Err != nil {
				ih.LastError = last.Err.Error()
				if code == http.StatusOK {
					resp.Status = "degraded"
				}
			}
		}
		resp.Ingest = ih
	}

	writeJSON(w, code, resp)
}

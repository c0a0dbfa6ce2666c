package api

import (
	"errors"
	"net/http"

	"github.com/kjannette/energy-monitor/internal/query"
)

func (s *Server) handleLatestPrices(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, s.defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prices, err := s.queries.LatestPrices(r.Context(), limit)
	if err != nil {
		s.fail(w, "fetching latest prices", err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	stats, err := s.queries.DailyStats(r.Context(), date)
	if err != nil {
		s.fail(w, "fetching daily stats", err, "date", date)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// fail answers 400 for caller mistakes and a generic 500 for everything else.
func (s *Server) fail(w http.ResponseWriter, what string, err error, attrs ...any) {
	if errors.Is(err, query.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("error "+what, append(attrs, "error", err)...)
	writeError(w, http.StatusInternalServerError, "failed "+what)
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/audit"
)

// handleListAccessLog returns paginated journal entries, newest first.
//
// Query parameters:
//   - outcome: granted, denied, timeout or protocol_failure
//   - since: RFC 3339 lower bound on the attempt time
//   - limit: max results (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleListAccessLog(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "access journal not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Outcome: q.Get("outcome")}

	switch filter.Outcome {
	case "", "granted", "denied", "timeout", "protocol_failure":
	default:
		writeBadRequest(w, "unknown outcome "+strconv.Quote(filter.Outcome))
		return
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 time")
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list access log", "error", err)
		writeInternalError(w, "failed to list access log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

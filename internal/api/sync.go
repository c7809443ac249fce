package api

import (
	"net/http"
)

// handleSync refreshes the authorization table now. It blocks until the
// download finishes; a failure leaves the current table in place.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeUnavailable(w, "table sync not configured")
		return
	}

	subject := ""
	if c := claimsFrom(r.Context()); c != nil {
		subject = c.Subject
	}
	s.logger.Info("table sync requested", "subject", subject)

	if err := s.syncer.Sync(r.Context()); err != nil {
		s.logger.Warn("requested table sync failed", "subject", subject, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "table sync failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

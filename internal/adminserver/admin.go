package adminserver

import (
	"log/slog"
	"net/http"
)

// handleResyncCommands re-registers every slash command with Discord,
// mirroring what SIGUSR1 does on the running process.
func (s *server) handleResyncCommands(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Resync(r.Context()); err != nil {
		slog.Error("admin resync-commands failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resynced"})
}

// handleSweep runs one immediate stuck-job sweep pass across every pool,
// mirroring the mandatory startup sweep without waiting for its interval.
func (s *server) handleSweep(w http.ResponseWriter, r *http.Request) {
	s.deps.Sweep(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "swept"})
}

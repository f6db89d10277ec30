package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsekeeper/pulsekeeper"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("httpapi: encode response failed")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Runner.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.ReadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	lines, err := s.cfg.Logs.ReadAllLogs(r.Context(), limit)
	if err != nil {
		http.Error(w, "read service log failed", http.StatusInternalServerError)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(lines),
		"lines": lines,
	})
}

// handleCommand publishes a fixed command payload. Commands are
// fire-and-forget: a 202 means the command was published, not that a running
// instance consumed it.
func (s *Server) handleCommand(topic string, payload pulsekeeper.Payload) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.cfg.Channel.Invoke(topic, payload); err != nil {
			http.Error(w, "publish command failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"command": topic})
	}
}

type deviceRequest struct {
	Device string `json:"device"`
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	device := strings.TrimSpace(req.Device)
	if device == "" {
		http.Error(w, "device cannot be empty", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Channel.Invoke(pulsekeeper.TopicSetDevice, pulsekeeper.SetDevice{Device: device}); err != nil {
		http.Error(w, "publish command failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"command": pulsekeeper.TopicSetDevice,
		"device":  device,
	})
}

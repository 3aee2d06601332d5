package api

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/hurttlocker/inboxdigest/internal/store"
	"github.com/hurttlocker/inboxdigest/internal/thread"
)

// ClusterRequest is the body of POST /v1/cluster. Zero options fall back to
// the engine defaults.
type ClusterRequest struct {
	Messages     []thread.Message `json:"messages"`
	WindowHours  int              `json:"window_hours,omitempty"`
	SimThreshold float64          `json:"sim_threshold,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	v := s.cfg.Version
	if v == "" {
		v = "dev"
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": v})
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	var req ClusterRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	opts := thread.DefaultOptions()
	opts.Workers = max(s.cfg.Workers, 1)
	if req.WindowHours != 0 {
		opts.WindowHours = req.WindowHours
	}
	if req.SimThreshold != 0 {
		opts.SimThreshold = req.SimThreshold
	}

	res, err := thread.Cluster(req.Messages, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.counters.Clustered.Add(r.Context(), int64(len(req.Messages)))
	s.counters.Threads.Add(r.Context(), int64(len(res.Threads)))
	if res.Threads == nil {
		res.Threads = []thread.Thread{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Telemetry.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counters": snap})
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("subject") {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}
	out := map[string]string{"fingerprint": thread.NormalizeSubject(q.Get("subject"))}
	if from := q.Get("from"); from != "" {
		out["domain"] = thread.AddressDomain(from)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMailboxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := s.cfg.State.Mailboxes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if boxes == nil {
		boxes = []store.MailboxState{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mailboxes": boxes})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 200)
	}
	runs, err := s.cfg.State.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

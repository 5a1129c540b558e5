package api

import (
	"net/http"
	"strconv"
	"time"

	types "github.com/sebas/softline/api/types/v1"
	"github.com/sebas/softline/internal/broadcast"
	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/engine"
	"github.com/sebas/softline/internal/platform"
)

// --- Queries ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Sessions.Last()
	if !ok {
		writeJSON(w, http.StatusOK, types.StatusResponse{
			Status:      callevents.StatusUnknown.String(),
			Description: callevents.StatusUnknown.Description(),
			Phase:       "IDLE",
		})
		return
	}
	snap := sess.Snapshot()
	writeJSON(w, http.StatusOK, types.StatusResponse{
		Status:      snap.Status.String(),
		Description: snap.Status.Description(),
		Phase:       snap.Phase.String(),
		Running:     sess.Running(),
	})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Sessions.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	writeJSON(w, http.StatusOK, broadcast.CallSession(sess.Snapshot().Call))
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Sessions.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	writeJSON(w, http.StatusOK, broadcast.ConnectionDetails(sess.Snapshot().Connection))
}

func (s *Server) handleCallLog(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, http.StatusNotFound, "call log disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since, want RFC 3339")
			return
		}
		since = t
	}

	entries, err := s.cfg.History.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("[API] Failed to list call log", "error", err)
		writeError(w, http.StatusInternalServerError, "call log unavailable")
		return
	}
	missed, err := s.cfg.History.CountMissed(r.Context(), since)
	if err != nil {
		s.logger.Error("[API] Failed to count missed calls", "error", err)
		writeError(w, http.StatusInternalServerError, "call log unavailable")
		return
	}

	resp := types.CallLogResponse{
		Calls:  make([]types.CallLogEntry, 0, len(entries)),
		Missed: missed,
	}
	for _, e := range entries {
		resp.Calls = append(resp.Calls, types.CallLogEntry{
			ID:        e.ID.String(),
			Peer:      e.Peer,
			Incoming:  e.Incoming,
			Answered:  e.Answered,
			Missed:    e.Missed,
			EndReason: e.EndReason,
			EndedAt:   e.EndedAt.UTC().Format(time.RFC3339),
			Duration:  int64(e.Duration.Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Commands ---

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req types.StartRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.cfg.Sessions.Start(req.CallID); err != nil {
		commandError(w, err)
		return
	}
	s.logger.Info("[API] Session start requested", "call_id", req.CallID)
	writeJSON(w, http.StatusAccepted, types.CommandResponse{Accepted: true})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.command(w, func(sess Session) error { return sess.Connect() })
}

func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var req types.CallRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PeerID == "" {
		writeError(w, http.StatusBadRequest, "peer_id required")
		return
	}
	s.command(w, func(sess Session) error { return sess.Call(req.PeerID) })
}

func (s *Server) handlePickUp(w http.ResponseWriter, r *http.Request) {
	s.command(w, func(sess Session) error { return sess.PickUp() })
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	s.command(w, func(sess Session) error { return sess.TerminateCall() })
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.command(w, func(sess Session) error { return sess.VerifyAuthToken(req.Verified) })
}

func (s *Server) handleAcceptUnencrypted(w http.ResponseWriter, r *http.Request) {
	s.command(w, func(sess Session) error { return sess.AcceptUnencryptedCall() })
}

func (s *Server) handleVolumes(w http.ResponseWriter, r *http.Request) {
	req := types.VolumesRequest{Speaker: 1, Microphone: 1}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Speaker < 0 || req.Microphone < 0 {
		writeError(w, http.StatusBadRequest, "volumes must not be negative")
		return
	}
	v := engine.Volumes{Speaker: req.Speaker, Microphone: req.Microphone}
	s.command(w, func(sess Session) error { return sess.SetVolumes(v) })
}

func (s *Server) handleTelephony(w http.ResponseWriter, r *http.Request) {
	var req types.TelephonyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := platform.ParseTelephonyState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.command(w, func(sess Session) error { return sess.TelephonyChanged(state) })
}

// command runs fn against the running session.
func (s *Server) command(w http.ResponseWriter, fn func(Session) error) {
	sess, ok := s.cfg.Sessions.Current()
	if !ok {
		writeError(w, http.StatusConflict, "no running session")
		return
	}
	if err := fn(sess); err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.CommandResponse{Accepted: true})
}

package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-mcpgw/mcpool/lib/config"
	apperrors "github.com/go-mcpgw/mcpool/lib/errors"
	"github.com/go-mcpgw/mcpool/lib/strategy"
	"github.com/go-mcpgw/mcpool/version"
)

// handleListPools returns the targets with live pools.
func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"targets": s.reg.Targets(),
	})
}

// handleGlobalHealth returns per-pool summaries plus the overall status.
func (s *Server) handleGlobalHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reg.Health())
}

// handleLiveness is a plain liveness probe.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.reg.GetConfig(r.PathValue("target"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	// Unknown fields are rejected so a typo cannot silently fall back to
	// a default value.
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	cfg := config.DefaultPool()
	if err := dec.Decode(&cfg); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeInvalidParams,
			"malformed pool configuration", apperrors.ErrInvalidInput))
		return
	}

	applied, err := s.reg.SetConfig(r.PathValue("target"), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, applied)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reg.GetStats(r.PathValue("target"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.reg.ListSessions(r.PathValue("target"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"target":   r.PathValue("target"),
		"sessions": sessions,
	})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	res, err := s.reg.Drain(target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "pool draining for " + target,
		"result":  res,
	})
}

// resizeRequest is the body of a resize operation.
type resizeRequest struct {
	Size int `json:"size"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeInvalidParams,
			"malformed resize request", apperrors.ErrInvalidInput))
		return
	}

	stats, err := s.reg.Resize(r.Context(), r.PathValue("target"), req.Size)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	destroyed, err := s.reg.Reset(target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":   "pool reset for " + target,
		"destroyed": destroyed,
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	res, err := s.reg.Optimize(r.PathValue("target"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"old_strategy": res.OldStrategy,
		"new_strategy": res.NewStrategy,
		"applied":      res.Applied,
		"description":  strategy.Describe(res.NewStrategy),
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	if err := s.reg.Remove(target); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "pool removed for " + target,
	})
}

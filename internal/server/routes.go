package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/quadwatch/quadwatch/internal/errors"
	"github.com/quadwatch/quadwatch/internal/ptz"
	"github.com/quadwatch/quadwatch/internal/supervisor"
	"github.com/quadwatch/quadwatch/pkg/version"
)

// sessionsResponse is the GET /api/v1/sessions payload.
type sessionsResponse struct {
	Sessions []supervisor.Snapshot `json:"sessions"`
	Focus    int                   `json:"focus"`
}

// focusRequest is the POST /api/v1/focus payload.
type focusRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := s.writeJSON(w, http.StatusOK, version.GetInfo()); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	resp := sessionsResponse{
		Sessions: s.sup.Snapshots(),
		Focus:    s.sup.Focus(),
	}
	if err := s.writeJSON(w, http.StatusOK, resp); err != nil {
		s.logger.WithError(err).Error("Failed to encode sessions response")
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.writeError(w, r, apperrors.NewValidationError("camera index must be numeric"))
		return
	}
	snap, err := s.sup.SessionSnapshot(index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.writeJSON(w, http.StatusOK, snap); err != nil {
		s.logger.WithError(err).Error("Failed to encode session response")
	}
}

func (s *Server) handleSetFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperrors.NewValidationError("invalid focus request body"))
		return
	}
	if err := s.sup.SetFocus(r.Context(), req.Index); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearFocus(w http.ResponseWriter, r *http.Request) {
	s.sup.ClearFocus()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePTZStart(w http.ResponseWriter, r *http.Request) {
	dir := ptz.Direction(mux.Vars(r)["direction"])
	if err := s.sup.StartPTZ(r.Context(), dir); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePTZStop(w http.ResponseWriter, r *http.Request) {
	dir := ptz.Direction(mux.Vars(r)["direction"])
	if err := s.sup.StopPTZ(r.Context(), dir); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloadFn == nil {
		s.writeError(w, r, apperrors.NewServiceDownError("reload"))
		return
	}
	if err := s.reloadFn(r.Context()); err != nil {
		s.writeError(w, r, apperrors.WrapInternalError(err, "configuration reload failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/engine"
	"github.com/jason-s-yu/fairtable/internal/fairness"
	"github.com/jason-s-yu/fairtable/internal/rng"
	"github.com/jason-s-yu/fairtable/internal/session"
)

type createSessionRequest struct {
	GameType fairness.GameType `json:"game_type"`
}

func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.GameType.Supported() {
		writeError(w, http.StatusBadRequest, fairness.ErrUnsupportedGameType.Error())
		return
	}
	sess, err := s.Sessions.CreateSession(r.Context(), string(req.GameType))
	if err != nil {
		s.Logger.WithError(err).Error("failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}
	sess, ok := s.Sessions.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) LeaveSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}
	if err := s.Sessions.LeaveSession(r.Context(), id, playerFrom(r)); err != nil {
		s.Logger.WithError(err).WithField("session", id).Error("failed to leave session")
		writeError(w, http.StatusInternalServerError, "failed to leave session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// participantSession resolves the session in the path and checks that the
// caller is seated in it.
func (s *Server) participantSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := sessionIDFrom(w, r)
	if !ok {
		return uuid.Nil, false
	}
	sess, err := s.Sessions.Lookup(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return uuid.Nil, false
	case errors.Is(err, session.ErrSessionArchived):
		writeError(w, http.StatusGone, err.Error())
		return uuid.Nil, false
	case err != nil:
		s.Logger.WithError(err).WithField("session", id).Error("failed to load session")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return uuid.Nil, false
	}
	if !sess.State.HasPlayer(playerFrom(r)) {
		writeError(w, http.StatusForbidden, session.ErrNotAParticipant.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) StartRoundHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.participantSession(w, r)
	if !ok {
		return
	}
	ev, err := s.Engine.StartRound(r.Context(), id)
	switch {
	case errors.Is(err, rng.ErrSessionAlreadyInitialized):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.Logger.WithError(err).WithField("session", id).Error("failed to start round")
		writeError(w, http.StatusInternalServerError, "failed to start round")
	default:
		writeJSON(w, http.StatusCreated, ev)
	}
}

func (s *Server) RevealRoundHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.participantSession(w, r)
	if !ok {
		return
	}
	ev, err := s.Engine.EndRound(r.Context(), id)
	switch {
	case errors.Is(err, rng.ErrSessionNotInitialized), errors.Is(err, rng.ErrSessionSealed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrSequenceMismatch):
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		s.Logger.WithError(err).WithField("session", id).Error("failed to reveal round")
		writeError(w, http.StatusInternalServerError, "failed to reveal round")
	default:
		writeJSON(w, http.StatusOK, ev)
	}
}

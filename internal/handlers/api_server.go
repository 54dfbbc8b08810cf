// internal/handlers/api_server.go
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/auth"
	"github.com/jason-s-yu/fairtable/internal/engine"
	"github.com/jason-s-yu/fairtable/internal/fairness"
	"github.com/jason-s-yu/fairtable/internal/gateway"
	"github.com/jason-s-yu/fairtable/internal/middleware"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/session"
	"github.com/sirupsen/logrus"
)

// Sessions is the part of session.Manager the HTTP surface drives.
type Sessions interface {
	CreateSession(ctx context.Context, gameType string) (models.GameSession, error)
	Snapshot(sessionID uuid.UUID) (models.GameSession, bool)
	Lookup(ctx context.Context, sessionID uuid.UUID) (models.GameSession, error)
	ResumeSession(ctx context.Context, sessionID, playerID uuid.UUID) (models.SessionState, error)
	LeaveSession(ctx context.Context, sessionID, playerID uuid.UUID) error
	HandleDisconnect(ctx context.Context, sessionID, playerID uuid.UUID) error
}

var _ Sessions = (*session.Manager)(nil)

// Server holds everything the HTTP and websocket handlers need.
type Server struct {
	Logger   logrus.FieldLogger
	Keys     *auth.Keys
	Hub      *gateway.Hub
	Sessions Sessions
	Engine   *engine.Engine
	Verifier *fairness.Verifier
}

// Routes builds the service mux. Every route is wrapped in LogMiddleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(s.Logger)

	mux.Handle("GET /health", logged(http.HandlerFunc(s.Health)))

	mux.Handle("POST /sessions", logged(s.requireAuth(s.CreateSessionHandler)))
	mux.Handle("GET /sessions/{session_id}", logged(http.HandlerFunc(s.GetSessionHandler)))
	mux.Handle("POST /sessions/{session_id}/leave", logged(s.requireAuth(s.LeaveSessionHandler)))
	mux.Handle("POST /sessions/{session_id}/rounds", logged(s.requireAuth(s.StartRoundHandler)))
	mux.Handle("POST /sessions/{session_id}/rounds/reveal", logged(s.requireAuth(s.RevealRoundHandler)))

	mux.Handle("GET /fairness/{session_id}", logged(http.HandlerFunc(s.FairnessReportHandler)))
	mux.Handle("POST /fairness/verify", logged(http.HandlerFunc(s.VerifyOutcomeHandler)))
	mux.Handle("GET /fairness/client-seed", logged(http.HandlerFunc(s.ClientSeedHandler)))

	mux.Handle("/session/ws/{session_id}", logged(http.HandlerFunc(s.SessionWSHandler)))
	return mux
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type playerKey struct{}

// requireAuth rejects requests without a valid token and hands the player id
// to next through the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID, err := s.Keys.Authenticate(requestToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), playerKey{}, playerID)))
	})
}

func playerFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(playerKey{}).(uuid.UUID)
	return id
}

func sessionIDFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return uuid.Nil, false
	}
	return id, true
}

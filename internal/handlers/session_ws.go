// internal/handlers/session_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/fairtable/internal/middleware"
	"github.com/jason-s-yu/fairtable/internal/session"
)

// Subprotocol clients must request on the session socket.
const Subprotocol = "game"

// SessionWSHandler upgrades the HTTP connection to WebSocket for a session.
// It authenticates the player, registers the connection with the hub,
// resumes the player if they are already seated, and then runs the hub's
// read loop. When the loop exits the player is handed to the session
// manager's disconnect handling.
func (s *Server) SessionWSHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}
	token := requestToken(r)

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: []string{"*"}, // Adjust for production security.
	})
	if err != nil {
		s.Logger.Warnf("WebSocket accept error for session %s: %v", sessionID, err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

	if c.Subprotocol() != Subprotocol {
		s.Logger.Warnf("Client for session %s connected with invalid subprotocol: %s", sessionID, c.Subprotocol())
		c.Close(BadSubprotocolError, "Client must use the 'game' subprotocol.")
		return
	}

	playerID, err := s.Keys.Authenticate(token)
	if err != nil {
		s.Logger.Warnf("Authentication failed for session %s: %v", sessionID, err)
		c.Close(InvalidAuthTokenError, "Authentication failed.")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.Hub.Register(sessionID, playerID, c)
	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, sessionID, playerID)

	// Seated players are resynced; anyone else may still send a join action.
	_, err = s.Sessions.ResumeSession(ctx, sessionID, playerID)
	switch {
	case err == nil, errors.Is(err, session.ErrNotAParticipant):
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionArchived):
		s.Hub.Unregister(playerID, c)
		c.Close(InvalidSessionIDError, "Session not found.")
		return
	default:
		s.Logger.WithError(err).WithField("session", sessionID).Error("failed to resume player")
		s.Hub.Unregister(playerID, c)
		return
	}

	s.Hub.Serve(ctx, sessionID, playerID, c)

	// A newer connection for the same player owns the seat now.
	if !s.Hub.Unregister(playerID, c) {
		middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, sessionID, playerID, nil)
		return
	}
	err = s.Sessions.HandleDisconnect(context.WithoutCancel(ctx), sessionID, playerID)
	if err != nil && !errors.Is(err, session.ErrNotAParticipant) && !errors.Is(err, session.ErrSessionNotFound) {
		s.Logger.WithError(err).WithField("session", sessionID).Warn("disconnect handling failed")
	}
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, sessionID, playerID, err)
	c.Close(websocket.StatusNormalClosure, "")
}

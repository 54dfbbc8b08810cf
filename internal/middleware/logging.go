// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the id attached to every request log line. A
// client-supplied value is kept so calls can be traced across services.
const RequestIDHeader = "X-Request-ID"

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// LogMiddleware logs one line per request with its id, status and duration.
// Upgrade requests get the raw ResponseWriter because the socket library
// must hijack it; their status is logged as 101.
func LogMiddleware(logger logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			status := http.StatusSwitchingProtocols
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
			} else {
				sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
				next.ServeHTTP(sw, r)
				status = sw.status
			}

			entry := logger.WithFields(logrus.Fields{
				"request_id": id,
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
				"duration":   time.Since(start),
				"remote":     r.RemoteAddr,
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("HTTP Request")
				return
			}
			entry.Info("HTTP Request")
		})
	}
}

func socketFields(remoteAddr string, sessionID, playerID uuid.UUID) logrus.Fields {
	return logrus.Fields{
		"remote":  remoteAddr,
		"session": sessionID,
		"player":  playerID,
	}
}

// LogWebSocketConnect logs a player's socket being accepted.
func LogWebSocketConnect(logger logrus.FieldLogger, remoteAddr string, sessionID, playerID uuid.UUID) {
	logger.WithFields(socketFields(remoteAddr, sessionID, playerID)).Info("WebSocket connected")
}

// LogWebSocketDisconnect logs a player's socket going away, with the read
// error that ended it if any.
func LogWebSocketDisconnect(logger logrus.FieldLogger, remoteAddr string, sessionID, playerID uuid.UUID, err error) {
	entry := logger.WithFields(socketFields(remoteAddr, sessionID, playerID))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Info("WebSocket disconnected")
}

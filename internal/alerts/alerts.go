// Package alerts records security violations and raises them to operators.
package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/gateway"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus"
)

// Enqueuer accepts records for asynchronous persistence (historian.Writer).
type Enqueuer interface {
	Enqueue(table store.Table, record any)
}

// Alert is the security_alert / critical_error payload.
type Alert struct {
	SessionID string               `json:"session_id"`
	PlayerID  string               `json:"player_id,omitempty"`
	Type      models.ViolationType `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
}

type Reporter struct {
	history Enqueuer
	gw      gateway.Gateway
	log     logrus.FieldLogger
}

func NewReporter(history Enqueuer, gw gateway.Gateway, log logrus.FieldLogger) *Reporter {
	return &Reporter{history: history, gw: gw, log: log}
}

// Report queues v for the violations table and emits security_alert, plus
// critical_error for critical types. It never fails the caller.
func (r *Reporter) Report(ctx context.Context, v models.SecurityViolation) {
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}
	r.history.Enqueue(store.TableViolations, v)

	alert := Alert{SessionID: v.SessionID.String(), Type: v.Type, Timestamp: v.Timestamp}
	if v.PlayerID != uuid.Nil {
		alert.PlayerID = v.PlayerID.String()
	}

	r.log.WithFields(logrus.Fields{
		"session":   v.SessionID,
		"player":    v.PlayerID,
		"violation": v.Type,
	}).Warn("security violation")

	if err := r.gw.Emit(ctx, gateway.Operators(), gateway.EventSecurityAlert, alert); err != nil {
		r.log.WithError(err).Warn("failed to emit security_alert")
	}
	if v.Type.Critical() {
		if err := r.gw.Emit(ctx, gateway.Operators(), gateway.EventCriticalError, alert); err != nil {
			r.log.WithError(err).Error("failed to emit critical_error")
		}
	}
}

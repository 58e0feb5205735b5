package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hasledger/hasledger/internal/platform/db"
)

// ErrAuditIncomplete is returned when an audit record lacks its subject.
var ErrAuditIncomplete = errors.New("shared: audit record requires action, entity and entity id")

// AuditLog is one row of audit_logs.
type AuditLog struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger appends to audit_logs. Rows carry the request id of the
// originating HTTP call when there is one.
type AuditLogger struct {
	db db.DBTX
}

// NewAuditLogger returns an AuditLogger writing through conn.
func NewAuditLogger(conn db.DBTX) *AuditLogger {
	return &AuditLogger{db: conn}
}

const insertAuditSQL = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, request_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`

// Record appends entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return ErrAuditIncomplete
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		utc := entry.At.UTC()
		at = &utc
	}
	actor := entry.ActorID
	if actor == "" {
		actor = ActorFromContext(ctx)
	}
	_, err = l.db.Exec(ctx, insertAuditSQL, actor, entry.Action, entry.Entity, entry.EntityID, middleware.GetReqID(ctx), payload, at)
	return err
}

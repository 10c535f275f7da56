package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Actor identifies who caused an event. OnBehalfOf is set when an
// administrator acted while impersonating ActorID.
type Actor struct {
	ID         int64
	OnBehalfOf int64
}

func (w Writer) Append(ctx context.Context, q sqlx.ExecerContext, evtType, entityKind string, entityID any, actor Actor, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,on_behalf_of,payload) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, entityKind, fmt.Sprint(entityID), nullableID(actor.ID), nullableID(actor.OnBehalfOf), string(data))
	return err
}

type Event struct {
	ID         int64  `db:"id" json:"id"`
	TS         string `db:"ts" json:"ts"`
	Type       string `db:"type" json:"type"`
	EntityKind string `db:"entity_kind" json:"entityKind"`
	EntityID   string `db:"entity_id" json:"entityId"`
	ActorID    *int64 `db:"actor_id" json:"actorId,omitempty"`
	OnBehalfOf *int64 `db:"on_behalf_of" json:"onBehalfOf,omitempty"`
	Payload    string `db:"payload" json:"payload"`
}

// Latest returns up to limit events, newest first, optionally filtered by type.
func Latest(ctx context.Context, q sqlx.QueryerContext, limit int, evtType string) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []Event
	query := `SELECT id, ts, type, entity_kind, entity_id, actor_id, on_behalf_of, payload FROM events`
	args := []any{}
	if evtType != "" {
		query += ` WHERE type=?`
		args = append(args, evtType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

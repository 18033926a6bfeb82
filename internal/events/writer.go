package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the log.
const (
	TypeGameCreated     = "game.created"
	TypeGameLoaded      = "game.loaded"
	TypeGameReset       = "game.reset"
	TypeGameSaved       = "game.saved"
	TypeLoadFailed      = "game.load_failed"
	TypeDeparted        = "flight.departed"
	TypeThrottleSet     = "engine.throttle_set"
	TypeEngineBuilt     = "engine.built"
	TypeEngineRecycled  = "engine.recycled"
	TypeCaptureExpanded = "capture.expanded"
	TypeCaptureReduced  = "capture.reduced"
	TypeAutomationSet   = "automation.set"
	TypeAutomationRun   = "automation.run"
	TypeTaskActivated   = "research.activated"
	TypeTaskDeactivated = "research.deactivated"
	TypeTaskCompleted   = "research.completed"
	TypeOfflineAdvanced = "flight.advanced"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, saveID, entityKind, entityID string, payload EventPayload) error {
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
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,save_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(saveID), entityKind, nullable(entityID), string(data))
	return err
}

// AppendDB writes one event in its own transaction.
func (w Writer) AppendDB(ctx context.Context, evtType, saveID, entityKind, entityID string, payload EventPayload) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, saveID, entityKind, entityID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"lightspeed/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const saveColumns = `id,name,last_update,created_at,updated_at`

func scanSave(row interface{ Scan(...any) error }) (domain.Save, error) {
	var s domain.Save
	err := row.Scan(&s.ID, &s.Name, &s.LastUpdate, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) InsertSaveTx(ctx context.Context, tx *sql.Tx, s domain.Save, state []byte) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO saves(id,name,created_at,updated_at,last_update,state_json) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Name, s.CreatedAt, s.UpdatedAt, s.LastUpdate, string(state))
	return err
}

// UpdateSaveTx stores a new state snapshot for an existing slot.
func (r Repo) UpdateSaveTx(ctx context.Context, tx *sql.Tx, id string, lastUpdate int64, updatedAt string, state []byte) error {
	res, err := tx.ExecContext(ctx, `UPDATE saves SET state_json=?, last_update=?, updated_at=? WHERE id=?`,
		string(state), lastUpdate, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSave(ctx context.Context, id string) (domain.Save, error) {
	return scanSave(r.DB.QueryRowContext(ctx, `SELECT `+saveColumns+` FROM saves WHERE id=?`, id))
}

func (r Repo) GetSaveByName(ctx context.Context, name string) (domain.Save, error) {
	return scanSave(r.DB.QueryRowContext(ctx, `SELECT `+saveColumns+` FROM saves WHERE name=?`, name))
}

// FindSave resolves a save by id, falling back to its name.
func (r Repo) FindSave(ctx context.Context, ref string) (domain.Save, error) {
	s, err := r.GetSave(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return r.GetSaveByName(ctx, ref)
	}
	return s, err
}

// LoadState returns the raw snapshot stored for a save.
func (r Repo) LoadState(ctx context.Context, id string) ([]byte, error) {
	var data string
	err := r.DB.QueryRowContext(ctx, `SELECT state_json FROM saves WHERE id=?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (r Repo) SingleSave(ctx context.Context) (domain.Save, error) {
	saves, err := r.ListSaves(ctx)
	if err != nil {
		return domain.Save{}, err
	}
	if len(saves) == 0 {
		return domain.Save{}, ErrNotFound
	}
	if len(saves) > 1 {
		return domain.Save{}, fmt.Errorf("multiple saves exist; specify --save")
	}
	return saves[0], nil
}

func (r Repo) ListSaves(ctx context.Context) ([]domain.Save, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+saveColumns+` FROM saves ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Save
	for rows.Next() {
		s, err := scanSave(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteSave(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM saves WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type EventFilters struct {
	SaveID     string
	Type       string
	EntityKind string
	EntityID   string
	// Cursor returns events with ids below it.
	Cursor int64
	Limit  int
}

// LatestEvents returns matching events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.SaveID != "" {
		clauses = append(clauses, "save_id=?")
		args = append(args, f.SaveID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(save_id,''),entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, saveID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if saveID != "" {
		clauses = append(clauses, "save_id=?")
		args = append(args, saveID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(save_id,''),entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SaveID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a save.
func (r Repo) LatestEventID(ctx context.Context, saveID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE save_id=?`, saveID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

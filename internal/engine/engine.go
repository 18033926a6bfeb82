// Package engine hosts one running game: it owns the simulation state, serialises
// every tick, player intent and save behind a single writer lock, persists save
// slots and records the event log.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"lightspeed/internal/config"
	"lightspeed/internal/domain"
	"lightspeed/internal/economy"
	"lightspeed/internal/errs"
	"lightspeed/internal/events"
	"lightspeed/internal/logger"
	"lightspeed/internal/physics"
	"lightspeed/internal/repo"
	"lightspeed/internal/research"
	"lightspeed/internal/snapshot"
)

// Listener receives a read-only view after every tick and intent.
type Listener func(domain.View)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Logger *log.Logger

	mu         sync.Mutex
	state      *domain.State
	save       domain.Save
	research   *research.Service
	integrator physics.Integrator

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	rs := cfg.ResearchService()
	return &Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
		Logger:   logger.Discard(),
		research: rs,
		integrator: physics.Integrator{
			Research:  rs,
			Threshold: cfg.Integrator.Threshold,
			MaxSteps:  cfg.Integrator.MaxSteps,
		},
		listeners: map[int]Listener{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) log() *log.Logger {
	return logger.Or(e.Logger).With("component", "engine")
}

var errNoGame = errs.NotFoundf("no game loaded")

// SaveID returns the id of the loaded save, or "" when none is loaded.
func (e *Engine) SaveID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.save.ID
}

// NewGame creates a save slot holding a fresh state and makes it current.
func (e *Engine) NewGame(ctx context.Context, name string) (domain.Save, error) {
	if name == "" {
		return domain.Save{}, errs.Validationf("save name is required")
	}
	if _, err := e.Repo.GetSaveByName(ctx, name); err == nil {
		return domain.Save{}, errs.Validationf("save %s already exists", name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Save{}, err
	}
	now := e.now()
	st := e.Config.NewState(now)
	data, err := snapshot.Encode(st)
	if err != nil {
		return domain.Save{}, err
	}
	ts := now.UTC().Format(time.RFC3339)
	s := domain.Save{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+"|"+ts)).String(),
		Name:       name,
		LastUpdate: st.LastUpdate,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Save{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSaveTx(ctx, tx, s, data); err != nil {
		return domain.Save{}, fmt.Errorf("insert save: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeGameCreated, s.ID, "save", s.ID, events.EventPayload{"name": name}); err != nil {
		return domain.Save{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Save{}, err
	}

	e.mu.Lock()
	e.state = &st
	e.save = s
	e.mu.Unlock()
	e.log().Info("game created", "save", s.ID, "name", name)
	return s, nil
}

// Load makes the referenced save current. A corrupt snapshot is replaced by
// the default initial state; the failure is logged and recorded, not returned.
func (e *Engine) Load(ctx context.Context, ref string) (domain.Save, error) {
	s, err := e.Repo.FindSave(ctx, ref)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Save{}, errs.NotFoundf("save %s not found", ref)
		}
		return domain.Save{}, err
	}
	data, err := e.Repo.LoadState(ctx, s.ID)
	if err != nil {
		return domain.Save{}, err
	}
	now := e.now()
	st, decodeErr := snapshot.Decode(data, e.Config.NewState(now))
	evt := events.TypeGameLoaded
	payload := events.EventPayload{"last_update": st.LastUpdate}
	if decodeErr != nil {
		e.log().Warn("snapshot unreadable, starting from defaults", "save", s.ID, "err", decodeErr)
		evt = events.TypeLoadFailed
		payload = events.EventPayload{"error": decodeErr.Error()}
	}
	if err := e.Events.AppendDB(ctx, evt, s.ID, "save", s.ID, payload); err != nil {
		return domain.Save{}, err
	}

	e.mu.Lock()
	e.state = &st
	e.save = s
	e.mu.Unlock()
	e.log().Info("game loaded", "save", s.ID, "name", s.Name)
	return s, nil
}

// Save persists the current state. The snapshot is taken under the writer
// lock so it never observes a half-applied tick.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return errNoGame
	}
	data, err := snapshot.Encode(*e.state)
	saveID := e.save.ID
	lastUpdate := e.state.LastUpdate
	e.mu.Unlock()
	if err != nil {
		return err
	}
	ts := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSaveTx(ctx, tx, saveID, lastUpdate, ts, data); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errs.NotFoundf("save %s not found", saveID)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.save.ID == saveID {
		e.save.LastUpdate = lastUpdate
		e.save.UpdatedAt = ts
	}
	e.mu.Unlock()
	e.log().Debug("game saved", "save", saveID)
	return nil
}

// Reset replaces the current state with a fresh game and saves it.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return errNoGame
	}
	st := e.Config.NewState(e.now())
	e.state = &st
	saveID := e.save.ID
	e.mu.Unlock()
	if err := e.Events.AppendDB(ctx, events.TypeGameReset, saveID, "save", saveID, nil); err != nil {
		return err
	}
	e.log().Info("game reset", "save", saveID)
	e.notify()
	return e.Save(ctx)
}

// View returns a deep copy of the current state with its derived values.
func (e *Engine) View() (domain.View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return domain.View{}, errNoGame
	}
	return e.viewLocked(), nil
}

func (e *Engine) viewLocked() domain.View {
	st := e.state.Clone()
	return domain.View{
		SaveID:  e.save.ID,
		State:   st,
		Derived: economy.Derive(&st.Rocket),
	}
}

// Catalog exposes the research templates for display.
func (e *Engine) Catalog() research.Catalog {
	return e.research.Catalog
}

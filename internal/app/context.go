package app

import (
	"context"
	"errors"
	"fmt"

	"lightspeed/internal/domain"
	"lightspeed/internal/engine"
	"lightspeed/internal/repo"
)

const DefaultSaveName = "default"

// ResolveSave loads the active save into eng. It prefers the override (id or
// name), then the only existing save. With no saves at all a "default" save
// is created on the fly.
func ResolveSave(ctx context.Context, eng *engine.Engine, saveOverride string) (domain.Save, error) {
	if saveOverride != "" {
		return eng.Load(ctx, saveOverride)
	}
	s, err := eng.Repo.SingleSave(ctx)
	if err == nil {
		return eng.Load(ctx, s.ID)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Save{}, err
	}
	s, err = eng.NewGame(ctx, DefaultSaveName)
	if err != nil {
		return domain.Save{}, fmt.Errorf("create default save: %w", err)
	}
	return s, nil
}

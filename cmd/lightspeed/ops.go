package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"lightspeed/internal/app"
	"lightspeed/internal/config"
	"lightspeed/internal/domain"
	"lightspeed/internal/engine"
	"lightspeed/internal/publish"
	"lightspeed/internal/repo"
	"lightspeed/internal/server"
)

func loadSave(ctx context.Context, e *engine.Engine) error {
	_, err := app.ResolveSave(ctx, e, viper.GetString("save"))
	return err
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// attachPublisher mirrors views to redis when enabled. The returned stop
// function is always safe to call.
func attachPublisher(ctx context.Context, e *engine.Engine) (func(), error) {
	p, err := publish.New(e.Config, e.Logger)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return func() {}, nil
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	unsubscribe := e.Subscribe(p.Offer)
	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(pctx)
	}()
	return func() {
		unsubscribe()
		cancel()
		<-done
		p.Close()
	}, nil
}

func runCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the game loop in the foreground",
		Long:  "Ticks at loop.tick_interval and autosaves at loop.autosave_interval until interrupted (or --for elapses).",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return withStore(ctx, func(ctx context.Context, e *engine.Engine) error {
				if err := loadSave(ctx, e); err != nil {
					return err
				}
				detach, err := attachPublisher(ctx, e)
				if err != nil {
					return err
				}
				defer detach()
				return e.Run(ctx)
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game loop behind the HTTP API",
		Long:  "Serves the JSON API and websocket feed for display clients. Requires LIGHTSPEED_JWT_SECRET.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("LIGHTSPEED_JWT_SECRET is required for bearer auth")
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return withStore(ctx, func(ctx context.Context, e *engine.Engine) error {
				if err := loadSave(ctx, e); err != nil {
					return err
				}
				cfg := e.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				detach, err := attachPublisher(ctx, e)
				if err != nil {
					return err
				}
				defer detach()
				handler, err := server.New(server.Config{
					Engine:      e,
					BasePath:    basePath,
					Auth:        server.AuthConfig{JWTSecret: secret},
					Logger:      e.Logger,
					CORSOrigins: cfg.Server.CORSOrigins,
					RateLimit:   cfg.Server.RateLimit,
					RateBurst:   cfg.Server.RateBurst,
					DevLogin:    cfg.Server.DevLogin,
				})
				if err != nil {
					return err
				}
				defer handler.Close()
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return e.Run(gctx) })
				g.Go(func() error {
					e.Logger.Info("serving", "addr", "http://"+addr+basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(sctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func savesCmd() *cobra.Command {
	saves := &cobra.Command{Use: "saves", Short: "Manage save slots"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List saves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSaves(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.CreatedAt, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	del := &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a save and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.FindSave(ctx, args[0])
				if err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("save %s not found", args[0])
					}
					return err
				}
				if err := r.DeleteSave(ctx, s.ID); err != nil {
					return err
				}
				fmt.Printf("deleted %s (%s)\n", s.Name, s.ID)
				return nil
			})
		},
	}
	saves.AddCommand(list, del)
	return saves
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every intent, departure, research completion and automation batch of the save.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var (
		f      repo.EventFilters
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := loadSave(ctx, e); err != nil {
					return err
				}
				f.SaveID = e.SaveID()
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") && !follow {
					return printJSON(events)
				}
				printEvents(events)
				if !follow {
					return nil
				}
				return followEvents(ctx, e.Repo, f.SaveID)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events until interrupted")
	return cmd
}

func printEvents(events []domain.Event) {
	if viper.GetBool("json") {
		for _, evt := range events {
			_ = printJSON(evt)
		}
		return
	}
	if len(events) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Payload"})
	for _, evt := range events {
		entity := evt.EntityKind
		if evt.EntityID != "" {
			entity += "/" + evt.EntityID
		}
		tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, entity, evt.Payload})
	}
	tw.Render()
}

// followEvents polls for events newer than the last one seen. Another process
// such as `lightspeed run` or `lightspeed serve` is expected to be writing them.
func followEvents(ctx context.Context, r repo.Repo, saveID string) error {
	ctx, stop := signalContext(ctx)
	defer stop()
	cursor, err := r.LatestEventID(ctx, saveID)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		events, err := r.EventsAfter(ctx, 100, cursor, saveID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(events) == 0 {
			continue
		}
		cursor = events[len(events)-1].ID
		printEvents(events)
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect game config",
		Long:  "lightspeed.yml tunes the starting rocket, the research catalog, the integrator and the server. Missing sections keep their defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate lightspeed.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				_, err = loadConfig()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "validate this file instead of the workspace config")
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default lightspeed.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lightspeed/internal/app"
	"lightspeed/internal/config"
	"lightspeed/internal/db"
	"lightspeed/internal/engine"
	"lightspeed/internal/logger"
	"lightspeed/internal/migrate"
	"lightspeed/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "lightspeed",
	Short: "Lightspeed CLI",
	Long: `Lightspeed is an idle game about pushing a rocket ever closer to the speed of light.
- Workspace: the .lightspeed directory holding the save database; lightspeed.yml tunes the game.
- Saves: named slots; commands use the only save, or --save when there are several.
- Engines: combustion, fusion and antimatter stacks built from material and burning fuel.
- Collector: a scoop that captures interstellar fuel in proportion to distance travelled.
- Research: tasks that progress with earth time and unlock or improve parts of the rocket.
- Time: every command first catches the game up to the wall clock, then saves.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	viper.SetEnvPrefix("LIGHTSPEED")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("save", "", "save id or name")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides lightspeed.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("save", rootCmd.PersistentFlags().Lookup("save"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(newCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(advanceCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(throttleCmd())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(recycleCmd())
	rootCmd.AddCommand(expandCmd())
	rootCmd.AddCommand(reduceCmd())
	rootCmd.AddCommand(automateCmd())
	rootCmd.AddCommand(researchCmd())
	rootCmd.AddCommand(savesCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("workspace"))
}

func newLogger(cfg *config.Config) *log.Logger {
	level := viper.GetString("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	return logger.New(logger.Options{Level: level, JSON: cfg.Logging.JSON})
}

// withStore opens the workspace database and builds an engine without loading a save.
func withStore(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	l := newLogger(cfg)
	applied, err := migrate.Apply(ctx, conn)
	if err != nil {
		return err
	}
	for _, m := range applied {
		l.Debug("schema migrated", "version", m.Version, "name", m.Name)
	}
	e := engine.New(conn, cfg)
	e.Logger = l
	return fn(ctx, e)
}

// withGame loads the active save, catches it up to the wall clock, runs fn and
// saves the result.
func withGame(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	return withStore(ctx, func(ctx context.Context, e *engine.Engine) error {
		if _, err := app.ResolveSave(ctx, e, viper.GetString("save")); err != nil {
			return err
		}
		if _, err := e.Tick(ctx); err != nil {
			return err
		}
		if err := fn(ctx, e); err != nil {
			return err
		}
		return e.Save(ctx)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

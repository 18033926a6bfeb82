package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lightspeed/internal/domain"
	"lightspeed/internal/engine"
	"lightspeed/internal/physics"
	"lightspeed/internal/quantity"
)

func newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <name>",
		Short: "Start a new game in a fresh save slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.NewGame(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the rocket",
		Long:  "The dashboard: velocity as a fraction of c, distance, stocks, engines, collector and the two clocks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				v, err := e.View()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				printView(v)
				return nil
			})
		},
	}
}

func printView(v domain.View) {
	st := v.State
	r := st.Rocket
	beta := r.Velocity.Div(quantity.C)
	fmt.Printf("Save: %s\n", v.SaveID)
	fmt.Printf("Departed: %t\n", st.Progression.Departed)
	fmt.Printf("Velocity: %.12g c (%s m/s)\n", beta.Float64(), r.Velocity.Floor())
	fmt.Printf("Lorentz factor: %.12g\n", st.Lorentz.Float64())
	fmt.Printf("Distance: %.6g m\n", r.Distance.Float64())
	fmt.Printf("Earth time: %s s   Horizon time: %s s\n", st.EarthTime.Floor(), st.HorizonTime.Floor())
	fmt.Printf("Material: %s   Fuel: %.6g   Mass: %.6g\n", r.Material.Floor(), r.Fuel.Float64(), v.Derived.Mass.Float64())
	fmt.Printf("Thrust: %.6g N   Burn: %.6g /s\n", v.Derived.Thrust.Float64(), v.Derived.Consumption.Float64())

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Engine", "Count", "Throttle", "Thrust", "Automation", "Locked"})
	for _, kind := range domain.EngineKinds() {
		eng := r.Engines[kind]
		if eng == nil {
			continue
		}
		tw.AppendRow(table.Row{
			kind,
			eng.Count.String(),
			fmt.Sprintf("%d%%", eng.Throttle),
			fmt.Sprintf("%.6g", eng.Thrust.Float64()),
			automationLabel(eng.Automation),
			!st.Progression.Unlocked(domain.EngineUnlock(kind)),
		})
	}
	tw.Render()

	c := r.Capture
	fmt.Printf("Collector: size %s, area %s, rate %s, automation %s, locked %t\n",
		c.Count, c.Area, c.Rate, automationLabel(c.Automation), !st.Progression.Unlocked(domain.UnlockCapture))
}

func automationLabel(a domain.Automation) string {
	if !a.Active() {
		return "off"
	}
	return fmt.Sprintf("%s every %ss", a.Mode, a.Interval)
}

func printReport(rep physics.Report) error {
	if viper.GetBool("json") {
		return printJSON(rep)
	}
	fmt.Printf("Advanced %s s in %d step(s)\n", rep.Delta, rep.Steps)
	if rep.Departed {
		fmt.Println("Departed!")
	}
	for _, id := range rep.Completed {
		fmt.Printf("Research completed: %s\n", id)
	}
	for _, a := range rep.Actions {
		fmt.Printf("Automation %s %s: %d batch(es), %s committed, %d failed\n", a.Target, a.Mode, a.Batches, a.Committed, a.Failed)
	}
	fmt.Printf("Velocity: %.12g c\n", rep.Derived.Velocity.Div(quantity.C).Float64())
	return nil
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Catch the game up to now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rep physics.Report
			err := withStore(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := loadSave(ctx, e); err != nil {
					return err
				}
				var err error
				if rep, err = e.Tick(ctx); err != nil {
					return err
				}
				return e.Save(ctx)
			})
			if err != nil {
				return err
			}
			return printReport(rep)
		},
	}
}

func advanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <duration>",
		Short: "Simulate a span of time offline (e.g. 90s, 2h)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[0], err)
			}
			if d < 0 {
				return fmt.Errorf("duration must not be negative")
			}
			var rep physics.Report
			err = withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err = e.Advance(ctx, d)
				return err
			})
			if err != nil {
				return err
			}
			return printReport(rep)
		},
	}
}

func parseKind(s string) (domain.EngineKind, error) {
	return domain.ParseEngineKind(s)
}

func parseCount(s string) (quantity.Quantity, error) {
	q, err := quantity.Parse(s)
	if err != nil {
		return quantity.Zero, fmt.Errorf("invalid count %q", s)
	}
	return q, nil
}

func printOutcome(action string, out engine.Outcome) error {
	if viper.GetBool("json") {
		return printJSON(out)
	}
	if !out.OK {
		fmt.Printf("%s: not enough resources\n", action)
		return nil
	}
	fmt.Printf("%s: %s\n", action, out.Committed)
	return nil
}

func throttleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "throttle <engine> <percent>",
		Short: "Set an engine throttle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			pct, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid throttle %q", args[1])
			}
			return withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.SetThrottle(ctx, kind, pct)
			})
		},
	}
}

func engineStockCmd(use, short, action string, op func(*engine.Engine) func(context.Context, domain.EngineKind, quantity.Quantity) (engine.Outcome, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <engine> <count>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			n, err := parseCount(args[1])
			if err != nil {
				return err
			}
			var out engine.Outcome
			err = withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				out, err = op(e)(ctx, kind, n)
				return err
			})
			if err != nil {
				return err
			}
			return printOutcome(action, out)
		},
	}
}

func buildCmd() *cobra.Command {
	return engineStockCmd("build", "Build engines from material", "built", func(e *engine.Engine) func(context.Context, domain.EngineKind, quantity.Quantity) (engine.Outcome, error) {
		return e.Build
	})
}

func recycleCmd() *cobra.Command {
	return engineStockCmd("recycle", "Recycle engines into material", "recycled", func(e *engine.Engine) func(context.Context, domain.EngineKind, quantity.Quantity) (engine.Outcome, error) {
		return e.Recycle
	})
}

func captureStockCmd(use, short, action string, op func(*engine.Engine) func(context.Context, quantity.Quantity) (engine.Outcome, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <size>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseCount(args[0])
			if err != nil {
				return err
			}
			var out engine.Outcome
			err = withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				out, err = op(e)(ctx, n)
				return err
			})
			if err != nil {
				return err
			}
			return printOutcome(action, out)
		},
	}
}

func expandCmd() *cobra.Command {
	return captureStockCmd("expand", "Grow the fuel collector", "expanded", func(e *engine.Engine) func(context.Context, quantity.Quantity) (engine.Outcome, error) {
		return e.Expand
	})
}

func reduceCmd() *cobra.Command {
	return captureStockCmd("reduce", "Shrink the fuel collector", "reduced", func(e *engine.Engine) func(context.Context, quantity.Quantity) (engine.Outcome, error) {
		return e.Reduce
	})
}

func automateCmd() *cobra.Command {
	auto := &cobra.Command{
		Use:   "automate",
		Short: "Configure automation policies",
		Long:  "Automation repeats build/recycle (engines) or expand/reduce (collector) every interval of simulated time.",
	}
	var interval string
	engineCmd := &cobra.Command{
		Use:   "engine <engine> <off|build|recycle>",
		Short: "Set an engine automation policy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			iv, err := parseInterval(interval)
			if err != nil {
				return err
			}
			return withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.SetEngineAutomation(ctx, kind, domain.AutomationMode(args[1]), iv)
			})
		},
	}
	engineCmd.Flags().StringVar(&interval, "interval", "", "simulated seconds between batches")
	captureCmd := &cobra.Command{
		Use:   "capture <off|expand|reduce>",
		Short: "Set the collector automation policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iv, err := parseInterval(interval)
			if err != nil {
				return err
			}
			return withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.SetCaptureAutomation(ctx, domain.AutomationMode(args[0]), iv)
			})
		},
	}
	captureCmd.Flags().StringVar(&interval, "interval", "", "simulated seconds between batches")
	auto.AddCommand(engineCmd, captureCmd)
	return auto
}

func parseInterval(s string) (quantity.Quantity, error) {
	if s == "" {
		return quantity.Zero, nil
	}
	q, err := quantity.Parse(s)
	if err != nil {
		return quantity.Zero, fmt.Errorf("invalid interval %q", s)
	}
	return q, nil
}

func researchCmd() *cobra.Command {
	res := &cobra.Command{
		Use:   "research",
		Short: "Manage research",
		Long:  "Active tasks share earth time: n active tasks each progress at 1/sqrt(n) of the rate.",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List research tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				v, err := e.View()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v.State.Research)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Duration"})
				appendTasks(tw, "active", v.State.Research.Active)
				appendTasks(tw, "available", v.State.Research.Available)
				appendTasks(tw, "completed", v.State.Research.Completed)
				tw.Render()
				fmt.Printf("Multitask factor: %.6g\n", v.State.MultitaskFactor.Float64())
				return nil
			})
		},
	}
	start := &cobra.Command{
		Use:   "start <id>",
		Short: "Activate a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.ActivateTask(ctx, args[0])
			})
		},
	}
	stop := &cobra.Command{
		Use:   "stop <id>",
		Short: "Pause an active task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeactivateTask(ctx, args[0])
			})
		},
	}
	res.AddCommand(list, start, stop)
	return res
}

func appendTasks(tw table.Writer, status string, tasks map[string]*domain.Task) {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := tasks[id]
		tw.AppendRow(table.Row{t.ID, t.Title, status, fmt.Sprintf("%.1f", t.Progress.Float64()), t.Duration.String()})
	}
}

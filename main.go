package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	Fc "github.com/maroda/fmdrisk/config"
	Fd "github.com/maroda/fmdrisk/display"
	"github.com/maroda/fmdrisk/models"
	Fo "github.com/maroda/fmdrisk/obvy"
	Fx "github.com/maroda/fmdrisk/plugin"
	Fp "github.com/maroda/fmdrisk/propagate"
	Fr "github.com/maroda/fmdrisk/risk"
	Fs "github.com/maroda/fmdrisk/sample"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "study file, JSON or YAML")
	model := flag.String("model", "chain", "model to study when no config is given")
	serve := flag.Bool("serve", false, "keep serving the API after the study")
	terminal := flag.Bool("terminal", false, "show the risk view in the terminal")
	version := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *version {
		fmt.Println(Fd.Version)
		return
	}

	cfg, err := loadConfig(*configPath, *model)
	if err != nil {
		slog.Error("Could not load config", slog.Any("error", err))
		os.Exit(1)
	}
	cfg.Server.Terminal = cfg.Server.Terminal || *terminal

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := Fo.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("Could not start tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("Tracing shutdown failed", slog.Any("error", err))
		}
	}()

	var out Fx.OutputAdapter
	if cfg.Output.Type != "" {
		out, err = Fx.OutputLookup(cfg.Output.Type, cfg.Output.Target, cfg.Output.Table, cfg.Output.BatchSize)
		if err != nil {
			slog.Error("Could not open output", slog.String("type", cfg.Output.Type), slog.Any("error", err))
			os.Exit(1)
		}
		defer out.Close()
	}

	interval, _ := cfg.RerunInterval()
	if *serve || cfg.Server.Terminal || interval > 0 {
		err = runServer(ctx, cfg, out, interval)
	} else {
		err = runOnce(ctx, cfg, out)
	}
	if err != nil {
		slog.Error("fmdrisk failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadConfig(path, model string) (*Fc.Config, error) {
	if path == "" {
		return Fc.Default(model)
	}
	return Fc.LoadConfigFileName(path)
}

// newRunner builds a fresh model, engine and approach for every study,
// so reruns never share state.
func newRunner(cfg *Fc.Config, stats *Fo.StatsInternal, progress func(Fr.Event), out Fx.OutputAdapter) Fd.RunFunc {
	return func(ctx context.Context) (*Fr.Report, error) {
		factory, err := models.Lookup(cfg.Model)
		if err != nil {
			return nil, err
		}
		g, mission, err := factory()
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", cfg.Model, err)
		}
		if cfg.Life > 0 {
			mission.Life = cfg.Life
		}

		ecfg, err := cfg.EngineConfig(mission.Times)
		if err != nil {
			return nil, err
		}
		eng, err := Fp.NewEngine(ecfg)
		if err != nil {
			return nil, err
		}
		eng.Stats = stats

		params, err := cfg.Sampling.Params()
		if err != nil {
			return nil, err
		}
		opts, err := cfg.Sampling.Options()
		if err != nil {
			return nil, err
		}
		approach, err := Fs.New(g, mission, cfg.RateTable(), params, opts...)
		if err != nil {
			return nil, err
		}

		classifier, err := Fx.ClassifierLookup(cfg.Classifier, mission.Life)
		if err != nil {
			return nil, err
		}

		study := &Fr.Study{
			Engine:     eng,
			Graph:      g,
			Approach:   approach,
			Classifier: classifier,
			Severities: cfg.Severities,
			PruneTol:   cfg.Sampling.PruneTol,
			Progress:   progress,
		}
		report, err := study.Run(ctx)
		if err != nil {
			return nil, err
		}

		if out != nil {
			n, err := Fx.Persist(out, report.ID, report.Scenarios, report.EndClasses)
			if err != nil {
				return nil, err
			}
			slog.Info("Results stored", slog.String("output", out.Type()), slog.String("batch", report.ID), slog.Int("records", n))
		}
		return report, nil
	}
}

// runOnce studies the model and prints the summary.
func runOnce(ctx context.Context, cfg *Fc.Config, out Fx.OutputAdapter) error {
	stats := Fo.NewStatsInternal()
	report, err := newRunner(cfg, stats, nil, out)(ctx)
	if err != nil {
		return err
	}
	stats.RecStudy(cfg.Model, report.Summary.TotalExpectedCost, report.Summary.Scenarios)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"batch":   report.ID,
		"model":   cfg.Model,
		"summary": report.Summary,
	})
}

// runServer keeps the study, the API and optionally the terminal
// running until a signal, ESC or a server failure.
func runServer(ctx context.Context, cfg *Fc.Config, out Fx.OutputAdapter, interval time.Duration) error {
	view := Fd.NewView(cfg.Model, Fo.NewStatsInternal())
	view.Output = out
	ss := view.NewStudySupervisor(newRunner(cfg, view.Stats, view.Observe, out), interval)

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		return view.Serve(cfg.Server.Addr)
	})
	g.Go(func() error {
		ss.Start()
		<-ctx.Done()
		ss.Stop()

		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return view.Shutdown(sctx)
	})
	if cfg.Server.Terminal {
		g.Go(func() error {
			defer cancel()
			return view.StartTerminal(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

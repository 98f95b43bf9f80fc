package propagate

/*

	The Engine drives one model graph across the simulation times.
	Every run works on its own clone of the graph, so runs never share
	a mutable flow or block. Nominal state can be kept in an Arena
	of snapshots so fault runs resume at their injection time.

*/

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"time"

	Fm "github.com/maroda/fmdrisk/model"
	Ft "github.com/maroda/fmdrisk/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const timeEpsilon = 1e-9

type Engine struct {
	Config   Config
	Stats    Recorder      // optional run statistics
	OnResult func(*Result) // optional, called serially within a batch as runs finish
	tracer   trace.Tracer
}

// Result is everything one run produced.
// Err is set when the run failed: History then stops at the failing step
// and Diff is nil.
type Result struct {
	Scenario Ft.Scenario
	History  *History
	End      EndState
	Diff     *Diff
	Passes   int
	Err      error
}

// Nominal is a prepared nominal run: the pristine graph every
// fault run clones from, the nominal result and its snapshots.
type Nominal struct {
	Graph  *Fm.Graph
	Result *Result
	Arena  *Arena
}

// Compare pairs a fault run with this nominal for reporting.
func (n *Nominal) Compare(r *Result) Compare {
	return Compare{Nominal: n.Result.History, Faulty: r.History}
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := Fm.ValidateTimes(cfg.Times); err != nil {
		return nil, err
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = DefaultMaxIter
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Engine{
		Config: cfg,
		tracer: otel.Tracer("github.com/maroda/fmdrisk/propagate"),
	}, nil
}

// RunNominal executes g with no fault ever injected. g itself is not touched.
func (e *Engine) RunNominal(ctx context.Context, g *Fm.Graph) (*Result, error) {
	nom, err := e.prepare(ctx, g, nil, SnapshotNone)
	if err != nil {
		return nil, err
	}
	return nom.Result, nil
}

// Prepare runs nominal and keeps the snapshots later fault runs resume from.
// injectTimes are the candidate injection times of the batch to come,
// used by SnapshotSampled.
func (e *Engine) Prepare(ctx context.Context, g *Fm.Graph, injectTimes []float64) (*Nominal, error) {
	policy := e.Config.Snapshots
	if !e.Config.Staged {
		policy = SnapshotNone
	}
	return e.prepare(ctx, g, injectTimes, policy)
}

func (e *Engine) prepare(ctx context.Context, g *Fm.Graph, injectTimes []float64, policy SnapshotPolicy) (*Nominal, error) {
	ctx, span := e.tracer.Start(ctx, "propagate.nominal",
		trace.WithAttributes(
			attribute.String("model", g.Name),
			attribute.String("snapshots", policy.String())))
	defer span.End()

	keep := make(map[int]bool, len(injectTimes))
	for _, t := range injectTimes {
		i, err := e.index(t)
		if err != nil {
			return nil, err
		}
		keep[i] = true
	}

	nom := &Nominal{Graph: g.Clone()}
	var snap func(int, *Fm.Graph)
	if policy != SnapshotNone {
		nom.Arena = NewArena()
		snap = func(i int, cur *Fm.Graph) {
			if policy == SnapshotAll || keep[i] {
				nom.Arena.Put(e.Config.Times[i], cur)
			}
		}
	}

	began := time.Now()
	work := nom.Graph.Clone()
	h := NewHistory(work)
	passes, err := e.simulate(ctx, work, h, 0, nil, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "nominal run failed")
		e.record("failed", began)
		slog.Error("Nominal run failed", slog.String("model", g.Name), slog.Any("error", err))
		return nil, fmt.Errorf("nominal run: %w", err)
	}
	e.record("ok", began)

	nom.Result = &Result{
		Scenario: Ft.Scenario{ID: Ft.NominalID, Kind: Ft.Nominal, Weight: 1},
		History:  h,
		End:      endState(work, e.last()),
		Diff:     Difference(h, h),
		Passes:   passes,
	}
	slog.Info("Nominal run complete",
		slog.String("model", g.Name),
		slog.Int("steps", h.Len()),
		slog.Int("snapshots", nom.Arena.Len()))
	return nom, nil
}

// RunOneFault injects one mode into one block at t and runs to the end.
// Off-grid times inject at the first grid time at or after t.
func (e *Engine) RunOneFault(ctx context.Context, nom *Nominal, function, mode string, t float64) (*Result, error) {
	rate := ""
	if m, err := nom.Graph.Lookup(function, mode); err == nil {
		rate = m.Rate
	}
	f := Ft.Fault{Function: function, Mode: mode, RateClass: rate, Time: t}
	sc := Ft.Scenario{
		ID:     Fm.ScenarioID(f),
		Kind:   Ft.SingleFault,
		Faults: []Ft.Fault{f},
		Time:   t,
		Weight: 1,
	}
	return e.RunScenario(ctx, nom, sc)
}

// RunScenario runs any scenario kind. Joint faults are injected each at its own time.
// Configuration problems are returned as the error, run failures land in Result.Err.
func (e *Engine) RunScenario(ctx context.Context, nom *Nominal, sc Ft.Scenario) (*Result, error) {
	p, err := e.plan(nom.Graph, sc)
	if err != nil {
		return nil, err
	}
	r := e.run(ctx, nom, sc, p)
	if errors.Is(r.Err, Fm.ErrConfig) {
		return r, r.Err
	}
	return r, nil
}

// plan is a validated scenario: faults grouped by the grid step they inject at.
type plan struct {
	inject map[int][]Ft.Fault
	first  int
}

func (e *Engine) plan(g *Fm.Graph, sc Ft.Scenario) (plan, error) {
	p := plan{inject: make(map[int][]Ft.Fault), first: len(e.Config.Times)}
	switch sc.Kind {
	case Ft.Nominal:
		if len(sc.Faults) != 0 {
			return p, Fm.Configf("scenario "+sc.ID, "nominal scenario carries %d faults", len(sc.Faults))
		}
		return p, nil
	case Ft.SingleFault:
		if len(sc.Faults) != 1 {
			return p, Fm.Configf("scenario "+sc.ID, "single-fault scenario carries %d faults", len(sc.Faults))
		}
	case Ft.JointFault:
		if len(sc.Faults) < 2 {
			return p, Fm.Configf("scenario "+sc.ID, "joint scenario carries %d faults", len(sc.Faults))
		}
	default:
		return p, Fm.Configf("scenario "+sc.ID, "unknown scenario kind %d", sc.Kind)
	}

	for _, f := range sc.Faults {
		if _, err := g.Lookup(f.Function, f.Mode); err != nil {
			return p, err
		}
		i, err := e.index(f.Time)
		if err != nil {
			return p, err
		}
		p.inject[i] = append(p.inject[i], f)
		if i < p.first {
			p.first = i
		}
	}
	return p, nil
}

// index maps t to the first grid step at or after it.
func (e *Engine) index(t float64) (int, error) {
	times := e.Config.Times
	if math.IsNaN(t) || t < times[0]-timeEpsilon || t > times[len(times)-1]+timeEpsilon {
		return 0, Fm.Configf("injection time", "t=%g outside [%g, %g]", t, times[0], times[len(times)-1])
	}
	return sort.SearchFloat64s(times, t-timeEpsilon), nil
}

func (e *Engine) last() float64 { return e.Config.Times[len(e.Config.Times)-1] }

func (e *Engine) run(ctx context.Context, nom *Nominal, sc Ft.Scenario, p plan) *Result {
	ctx, span := e.tracer.Start(ctx, "propagate.run",
		trace.WithAttributes(
			attribute.String("scenario.id", sc.ID),
			attribute.Int("scenario.faults", len(sc.Faults)),
			attribute.Float64("scenario.time", sc.Time)))
	defer span.End()

	if sc.Kind == Ft.Nominal {
		r := *nom.Result
		r.Scenario = sc
		return &r
	}

	began := time.Now()
	var (
		g     *Fm.Graph
		h     *History
		start int
	)
	if e.Config.Staged && p.first < len(e.Config.Times) {
		if snap, ok := nom.Arena.Get(e.Config.Times[p.first]); ok {
			g, h, start = snap, nom.Result.History.Prefix(p.first), p.first
			span.SetAttributes(attribute.Bool("staged", true))
		}
	}
	if g == nil {
		g = nom.Graph.Clone()
		h = NewHistory(g)
	}

	res := &Result{Scenario: sc, History: h}
	res.Passes, res.Err = e.simulate(ctx, g, h, start, p.inject, nil)
	end := e.last()
	if h.Len() > 0 {
		end = h.Time[h.Len()-1]
	}
	res.End = endState(g, end)

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "run failed")
		e.record("failed", began)
		slog.Warn("Run failed", slog.String("scenario", sc.ID), slog.Any("error", res.Err))
		return res
	}
	res.Diff = Difference(nom.Result.History, h)
	e.record("ok", began)
	return res
}

// simulate runs g from grid step start to the end, recording into h.
// Faults planned for a step are activated before that step's passes.
// snap, when set, sees the graph before injection at every step.
func (e *Engine) simulate(ctx context.Context, g *Fm.Graph, h *History, start int, inject map[int][]Ft.Fault, snap func(int, *Fm.Graph)) (int, error) {
	total := 0
	for i := start; i < len(e.Config.Times); i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		t := e.Config.Times[i]
		if snap != nil {
			snap(i, g)
		}
		for _, f := range inject[i] {
			b, ok := g.Block(f.Function)
			if !ok {
				return total, Fm.Configf("scenario", "unknown function %q", f.Function)
			}
			if err := b.AddFault(f.Mode); err != nil {
				return total, err
			}
		}

		passes, err := e.step(g, t)
		total += passes
		if e.Stats != nil {
			e.Stats.RecIterations(passes)
		}
		if err != nil {
			return total, err
		}
		h.Record(g, t)
	}
	return total, nil
}

func (e *Engine) record(status string, began time.Time) {
	if e.Stats != nil {
		e.Stats.RecRun(status, time.Since(began))
	}
}

package sample

/*

	An Approach turns a model's fault catalog and mission phases into a
	finite, weighted list of injection scenarios.

	Weights are probability mass. A sample set sums to 1 over its phase,
	and a scenario's weight is its sample weight times the phase's share
	of the mission, so the scenarios of one mode sum to 1 over the mission.
	Expected cost is then the weight-sum of rate x life x cost.

*/

import (
	"fmt"
	"log/slog"
	"sort"

	Fm "github.com/maroda/fmdrisk/model"
	Ft "github.com/maroda/fmdrisk/types"
)

// Entry is one (mode, phase) of the approach and its sample set.
type Entry struct {
	Function  string
	Mode      string
	Phase     Ft.Phase
	RateClass string
	Rate      float64
	Share     float64 // phase duration over mission duration
	Params    Params
	Samples   Ft.SampleSet
}

// Approach is the sampled fault space of one model.
type Approach struct {
	Mission   Fm.Mission
	Params    Params
	Rates     Rates
	Entries   []Entry
	Scenarios []Ft.Scenario

	graph       *Fm.Graph
	joint       bool
	selected    []selection
	phaseParams map[string]Params
}

type Option func(*Approach)

type selection struct {
	function string
	modes    []string
}

// WithModes restricts sampling to the given modes of function,
// or to all of its modes when none are named. It may be repeated.
func WithModes(function string, modes ...string) Option {
	return func(a *Approach) {
		a.selected = append(a.selected, selection{function: function, modes: modes})
	}
}

// WithPhaseParams overrides the strategy parameters for one phase.
func WithPhaseParams(phase string, p Params) Option {
	return func(a *Approach) { a.phaseParams[phase] = p }
}

// WithJoint adds every pairwise joint scenario of the sampled single faults.
func WithJoint() Option {
	return func(a *Approach) { a.joint = true }
}

// New samples every selected mode of g over every phase of the mission.
// Every phase is checked first. Phases where a mode's rate is zero
// then get no samples for that mode.
func New(g *Fm.Graph, mission Fm.Mission, rates Rates, params Params, opts ...Option) (*Approach, error) {
	if err := mission.Validate(); err != nil {
		return nil, err
	}
	if rates == nil {
		rates = DefaultRates
	}
	a := &Approach{
		Mission:     mission,
		Params:      params,
		Rates:       rates,
		graph:       g,
		phaseParams: make(map[string]Params),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	modes, err := a.modes()
	if err != nil {
		return nil, err
	}
	duration := mission.Duration()

	// every phase must sample, even one where no mode can occur
	sets := make(map[string]Ft.SampleSet, len(mission.Phases))
	for _, phase := range mission.Phases {
		set, err := Build(phase, mission.PhaseTimes(phase), a.paramsFor(phase.Name))
		if err != nil {
			return nil, err
		}
		sets[phase.Name] = set
	}

	for _, fm := range modes {
		mode, _ := g.Lookup(fm.Function, fm.Mode)
		for _, phase := range mission.Phases {
			class := mode.RateIn(phase.Name)
			rate, err := rates.Lookup(class)
			if err != nil {
				return nil, fmt.Errorf("%s %s in %s: %w", fm.Function, fm.Mode, phase.Name, err)
			}
			if rate == 0 {
				continue
			}
			share := 1.0
			if duration > 0 {
				share = (phase.End - phase.Start) / duration
			}
			a.Entries = append(a.Entries, Entry{
				Function:  fm.Function,
				Mode:      fm.Mode,
				Phase:     phase,
				RateClass: class,
				Rate:      rate,
				Share:     share,
				Params:    a.paramsFor(phase.Name),
				Samples:   append(Ft.SampleSet(nil), sets[phase.Name]...),
			})
		}
	}

	a.rebuild()
	slog.Info("Sample approach built",
		slog.String("model", g.Name),
		slog.String("strategy", params.Strategy.String()),
		slog.Int("entries", len(a.Entries)),
		slog.Int("scenarios", len(a.Scenarios)))
	return a, nil
}

func (a *Approach) paramsFor(phase string) Params {
	if p, ok := a.phaseParams[phase]; ok {
		return p
	}
	return a.Params
}

// modes resolves the selection against the catalog, in block declaration order.
func (a *Approach) modes() ([]Ft.Fault, error) {
	var out []Ft.Fault
	if len(a.selected) == 0 {
		for _, b := range a.graph.Blocks() {
			for _, m := range b.ModeNames() {
				out = append(out, Ft.Fault{Function: b.Name, Mode: m})
			}
		}
		return out, nil
	}

	seen := make(map[[2]string]bool)
	for _, sel := range a.selected {
		b, ok := a.graph.Block(sel.function)
		if !ok {
			return nil, Fm.Configf("sample approach", "unknown function %q", sel.function)
		}
		names := sel.modes
		if len(names) == 0 {
			names = b.ModeNames()
		}
		for _, m := range names {
			if _, ok := b.Mode(m); !ok {
				return nil, Fm.Configf("sample approach", "function %q has no fault mode %q", sel.function, m)
			}
			key := [2]string{sel.function, m}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Ft.Fault{Function: sel.function, Mode: m})
		}
	}
	return out, nil
}

// rebuild derives the scenario list from the entries.
func (a *Approach) rebuild() {
	a.Scenarios = nil
	perMode := make(map[[2]string][]Ft.Scenario)
	var order [][2]string

	for _, e := range a.Entries {
		key := [2]string{e.Function, e.Mode}
		if _, ok := perMode[key]; !ok {
			order = append(order, key)
		}
		for _, s := range e.Samples {
			f := Ft.Fault{Function: e.Function, Mode: e.Mode, RateClass: e.RateClass, Time: s.Time}
			sc := Ft.Scenario{
				ID:     Fm.ScenarioID(f),
				Kind:   Ft.SingleFault,
				Faults: []Ft.Fault{f},
				Time:   s.Time,
				Phase:  e.Phase.Name,
				Weight: s.Weight * e.Share,
			}
			perMode[key] = append(perMode[key], sc)
			a.Scenarios = append(a.Scenarios, sc)
		}
	}

	if !a.joint {
		return
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			a.Scenarios = append(a.Scenarios, Joint(perMode[order[i]], perMode[order[j]], a.graph)...)
		}
	}
}

// Times lists the distinct injection times of the approach, sorted.
// They are what a staged nominal run needs snapshots for.
func (a *Approach) Times() []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, sc := range a.Scenarios {
		for _, f := range sc.Faults {
			if !seen[f.Time] {
				seen[f.Time] = true
				out = append(out, f.Time)
			}
		}
	}
	sort.Float64s(out)
	return out
}

// Set returns the sample set of one (function, mode, phase).
func (a *Approach) Set(function, mode, phase string) (Ft.SampleSet, bool) {
	for _, e := range a.Entries {
		if e.Function == function && e.Mode == mode && e.Phase.Name == phase {
			return e.Samples, true
		}
	}
	return nil, false
}

// Prune thins every entry sampled with the Pruned strategy against the
// costs of its single-fault scenarios, keyed by scenario ID, then
// rebuilds the scenario list. Entries using other strategies are untouched.
// tol overrides the entry's own tolerance when positive.
func (a *Approach) Prune(costs map[string]float64, tol float64) error {
	before := len(a.Scenarios)
	for i, e := range a.Entries {
		if e.Params.Strategy != Pruned {
			continue
		}
		var missing string
		f := func(t float64) float64 {
			id := Fm.ScenarioID(Ft.Fault{Function: e.Function, Mode: e.Mode, Time: t})
			c, ok := costs[id]
			if !ok && missing == "" {
				missing = id
			}
			return c
		}
		limit := e.Params.Tolerance
		if tol > 0 {
			limit = tol
		}
		pruned := Prune(e.Samples, f, limit, e.Params.MinSamples)
		if missing != "" {
			return fmt.Errorf("prune %s %s in %s: no cost for scenario %q", e.Function, e.Mode, e.Phase.Name, missing)
		}
		a.Entries[i].Samples = pruned
	}
	a.rebuild()
	slog.Info("Sample approach pruned",
		slog.Int("before", before),
		slog.Int("after", len(a.Scenarios)))
	return nil
}

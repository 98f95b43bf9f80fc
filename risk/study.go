package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	Fm "github.com/maroda/fmdrisk/model"
	Fp "github.com/maroda/fmdrisk/propagate"
	Fs "github.com/maroda/fmdrisk/sample"
	Ft "github.com/maroda/fmdrisk/types"
)

// Study stages
const (
	StageNominal   = "nominal"
	StageRun       = "run"
	StagePrune     = "prune"
	StageAggregate = "aggregate"
	StageDone      = "done"
)

// Event reports study progress.
type Event struct {
	Stage    string  `json:"stage"`
	Done     int     `json:"done"`
	Total    int     `json:"total"`
	Scenario string  `json:"scenario,omitempty"`
	Cost     float64 `json:"expected_cost,omitempty"`
	Failed   bool    `json:"failed,omitempty"`
}

// Study runs an Approach through an Engine and classifies every run.
type Study struct {
	Engine     *Fp.Engine
	Graph      *Fm.Graph
	Approach   *Fs.Approach
	Classifier Classifier
	Severities []Ft.Severity
	PruneTol   float64     // overrides per-phase pruning tolerance when positive
	Progress   func(Event) // optional, called serially
}

// Report is everything a study produced, keyed by scenario ID.
type Report struct {
	ID         string
	Nominal    *Fp.Nominal
	Scenarios  []Ft.Scenario // final list, nominal first
	EndClasses map[string]Ft.EndResult
	Results    map[string]*Fp.Result
	Summary    *Summary
}

// Compare returns the nominal/faulty history pair of one scenario.
func (r *Report) Compare(id string) (Fp.Compare, bool) {
	res, ok := r.Results[id]
	if !ok || res == nil {
		return Fp.Compare{}, false
	}
	return r.Nominal.Compare(res), true
}

// Run executes the study. Configuration errors and cancellation stop it,
// failed runs are reported and left out of the totals.
func (s *Study) Run(ctx context.Context) (*Report, error) {
	if s.Engine == nil || s.Graph == nil || s.Approach == nil {
		return nil, errors.New("study needs an engine, a graph and an approach")
	}
	if s.Classifier == nil {
		s.Classifier = NewCostModel(s.Approach.Mission.Life)
	}

	s.emit(Event{Stage: StageNominal})
	nom, err := s.Engine.Prepare(ctx, s.Graph, s.Approach.Times())
	if err != nil {
		return nil, err
	}
	nomClass, err := s.Classifier.Classify(OutcomeOf(nom.Result))
	if err != nil {
		return nil, fmt.Errorf("classify nominal: %w", err)
	}

	total := len(s.Approach.Scenarios)
	done := 0
	batch, err := s.Engine.RunApproachFunc(ctx, nom, s.Approach.Scenarios, func(r *Fp.Result) {
		done++
		s.emit(Event{Stage: StageRun, Done: done, Total: total, Scenario: r.Scenario.ID, Failed: r.Err != nil})
	})
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:         batch.ID,
		Nominal:    nom,
		EndClasses: make(map[string]Ft.EndResult),
		Results:    make(map[string]*Fp.Result, len(batch.Results)+1),
	}
	report.Results[Ft.NominalID] = nom.Result

	classes := make(map[string]Ft.Classification, len(batch.Results))
	for _, r := range batch.Results {
		report.Results[r.Scenario.ID] = r
		if r.Err != nil {
			continue
		}
		c, err := s.Classifier.Classify(OutcomeOf(r))
		if err != nil {
			return nil, fmt.Errorf("classify %q: %w", r.Scenario.ID, err)
		}
		classes[r.Scenario.ID] = c
	}

	if s.prunable() {
		s.emit(Event{Stage: StagePrune, Total: total})
		// failed runs price at zero so their samples may still be pruned
		costs := make(map[string]float64, len(batch.Results))
		for _, r := range batch.Results {
			costs[r.Scenario.ID] = classes[r.Scenario.ID].ExpectedCost
		}
		if err := s.Approach.Prune(costs, s.PruneTol); err != nil {
			return nil, err
		}
	}

	s.emit(Event{Stage: StageAggregate})
	nomSc := nom.Result.Scenario
	report.Scenarios = append([]Ft.Scenario{nomSc}, s.Approach.Scenarios...)
	report.EndClasses[nomSc.ID] = Ft.EndResult{Properties: PropertiesOf(nomSc), Classification: nomClass}
	for _, sc := range s.Approach.Scenarios {
		er := Ft.EndResult{Properties: PropertiesOf(sc)}
		if r := report.Results[sc.ID]; r != nil && r.Err != nil {
			er.Error = r.Err.Error()
		} else {
			er.Classification = classes[sc.ID]
		}
		report.EndClasses[sc.ID] = er
	}
	report.Summary = Aggregate(report.EndClasses, report.Scenarios, s.Severities)

	slog.Info("Study complete",
		slog.String("batch", report.ID),
		slog.String("model", s.Graph.Name),
		slog.Int("scenarios", report.Summary.Scenarios),
		slog.Int("failed", len(report.Summary.Failed)),
		slog.Float64("expected_cost", report.Summary.TotalExpectedCost))
	s.emit(Event{Stage: StageDone, Done: done, Total: total, Cost: report.Summary.TotalExpectedCost})
	return report, nil
}

func (s *Study) prunable() bool {
	for _, e := range s.Approach.Entries {
		if e.Params.Strategy == Fs.Pruned {
			return true
		}
	}
	return false
}

func (s *Study) emit(ev Event) {
	if s.Progress != nil {
		s.Progress(ev)
	}
}

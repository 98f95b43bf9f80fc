package risk

import (
	"log/slog"
	"sort"
	"strings"

	Ft "github.com/maroda/fmdrisk/types"
)

// Summary is the risk picture of one batch.
// Only fault scenarios count toward totals, the nominal run is
// reported on its own as NominalCost.
type Summary struct {
	TotalExpectedCost float64         `json:"total_expected_cost"`
	NominalCost       float64         `json:"nominal_cost"`
	Scenarios         int             `json:"scenarios"`
	Severities        []SeverityTotal `json:"severities,omitempty"`
	CostOverTime      []TimePoint     `json:"cost_over_time"`
	Modes             []ModeRow       `json:"modes"`
	Failed            []string        `json:"failed,omitempty"`
}

// SeverityTotal is the occurrence mass (sum of weight x rate) of the
// scenarios falling into one severity bucket.
type SeverityTotal struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
	Count       int     `json:"count"`
}

// TimePoint is the expected cost contributed by faults injected at Time.
type TimePoint struct {
	Time         float64 `json:"time"`
	ExpectedCost float64 `json:"expected_cost"`
}

// Point is one sampled scenario of a mode.
type Point struct {
	ID           string  `json:"id"`
	Time         float64 `json:"time"`
	Phase        string  `json:"phase,omitempty"`
	Weight       float64 `json:"weight"`
	Rate         float64 `json:"rate"`
	Cost         float64 `json:"cost"`
	ExpectedCost float64 `json:"expected_cost"`
}

// ModeRow is an FMEA-style line: one fault mode (or joint mode pair)
// aggregated over its sampled times.
type ModeRow struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Rate         float64 `json:"rate"` // sum of weight x rate
	Cost         float64 `json:"cost"` // weighted mean cost
	ExpectedCost float64 `json:"expected_cost"`
	Points       []Point `json:"points"`
	weight       float64
}

// Aggregate combines per-scenario end results into a Summary.
// scenarios gives the order and the weights, endclasses is keyed by
// scenario ID. Failed or missing runs are listed and left out of
// every total. A scenario lands in the first severity whose thresholds
// it meets, or in none.
func Aggregate(endclasses map[string]Ft.EndResult, scenarios []Ft.Scenario, severities []Ft.Severity) *Summary {
	s := &Summary{}
	for _, sv := range severities {
		s.Severities = append(s.Severities, SeverityTotal{Name: sv.Name})
	}
	overTime := make(map[float64]float64)
	rows := make(map[string]*ModeRow)
	var order []string

	for _, sc := range scenarios {
		er, ok := endclasses[sc.ID]
		if !ok || er.Error != "" {
			s.Failed = append(s.Failed, sc.ID)
			continue
		}
		c := er.Classification
		if sc.Kind == Ft.Nominal {
			s.NominalCost = c.Cost
			continue
		}
		s.Scenarios++

		contrib := sc.Weight * c.ExpectedCost
		s.TotalExpectedCost += contrib
		for _, f := range sc.Faults {
			overTime[f.Time] += contrib / float64(len(sc.Faults))
		}

		for i, sv := range severities {
			if c.Cost >= sv.MinCost && c.Rate >= sv.MinRate {
				s.Severities[i].Probability += sc.Weight * c.Rate
				s.Severities[i].Count++
				break
			}
		}

		name := modeName(sc)
		row, ok := rows[name]
		if !ok {
			row = &ModeRow{Name: name, Type: KindName(sc.Kind)}
			rows[name] = row
			order = append(order, name)
		}
		row.weight += sc.Weight
		row.Rate += sc.Weight * c.Rate
		row.Cost += sc.Weight * c.Cost
		row.ExpectedCost += contrib
		row.Points = append(row.Points, Point{
			ID:           sc.ID,
			Time:         sc.Time,
			Phase:        sc.Phase,
			Weight:       sc.Weight,
			Rate:         c.Rate,
			Cost:         c.Cost,
			ExpectedCost: c.ExpectedCost,
		})
	}

	for _, name := range order {
		row := rows[name]
		if row.weight > 0 {
			row.Cost /= row.weight
		}
		sort.SliceStable(row.Points, func(i, j int) bool { return row.Points[i].Time < row.Points[j].Time })
		s.Modes = append(s.Modes, *row)
	}
	for t, v := range overTime {
		s.CostOverTime = append(s.CostOverTime, TimePoint{Time: t, ExpectedCost: v})
	}
	sort.Slice(s.CostOverTime, func(i, j int) bool { return s.CostOverTime[i].Time < s.CostOverTime[j].Time })

	if len(s.Failed) > 0 {
		slog.Warn("Runs left out of aggregate", slog.Int("failed", len(s.Failed)))
	}
	return s
}

// Mode returns the row for name, e.g. "transform no_output".
func (s *Summary) Mode(name string) (ModeRow, bool) {
	for _, m := range s.Modes {
		if m.Name == name {
			return m, true
		}
	}
	return ModeRow{}, false
}

// Severity returns the bucket total for name.
func (s *Summary) Severity(name string) (SeverityTotal, bool) {
	for _, sv := range s.Severities {
		if sv.Name == name {
			return sv, true
		}
	}
	return SeverityTotal{}, false
}

func modeName(sc Ft.Scenario) string {
	parts := make([]string, len(sc.Faults))
	for i, f := range sc.Faults {
		parts[i] = f.Function + " " + f.Mode
	}
	return strings.Join(parts, " + ")
}

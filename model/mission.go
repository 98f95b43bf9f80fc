package model

import (
	"fmt"
	"math"
	"sort"
	"strings"

	Ft "github.com/maroda/fmdrisk/types"
)

// Mission is what a model definition supplies besides its graph:
// the discrete time range, the phases that partition it,
// the life used to scale expected cost, and the time units.
type Mission struct {
	Times  []float64
	Phases []Ft.Phase
	Life   float64
	Units  string
}

// NewTimes expands a start/end range into a strictly increasing grid with the given step.
// Checkpoints that do not fall on the grid are merged in.
func NewTimes(start, end, step float64, checkpoints ...float64) ([]float64, error) {
	if step <= 0 {
		return nil, Configf("time range", "step must be positive, got %g", step)
	}
	if end < start {
		return nil, Configf("time range", "end %g before start %g", end, start)
	}

	n := int(math.Floor((end-start)/step+1e-9)) + 1
	times := make([]float64, 0, n+len(checkpoints)+1)
	for i := 0; i < n; i++ {
		times = append(times, start+float64(i)*step)
	}
	if last := times[len(times)-1]; end-last > 1e-9 {
		times = append(times, end)
	}
	for _, c := range checkpoints {
		if c < start || c > end {
			return nil, Configf("time range", "checkpoint %g outside [%g, %g]", c, start, end)
		}
		times = append(times, c)
	}

	sort.Float64s(times)
	out := times[:1]
	for _, t := range times[1:] {
		if t-out[len(out)-1] > 1e-9 {
			out = append(out, t)
		}
	}
	return out, nil
}

// ValidateTimes checks that times is non-empty and strictly increasing.
func ValidateTimes(times []float64) error {
	if len(times) == 0 {
		return Configf("time range", "no simulation times")
	}
	for i := 1; i < len(times); i++ {
		if !(times[i] > times[i-1]) {
			return Configf("time range", "times not strictly increasing at index %d (%g after %g)", i, times[i], times[i-1])
		}
	}
	return nil
}

// Validate checks the time range, that phases are non-empty, ordered,
// non-overlapping and cover [Times[0], Times[last]].
// A mission with no phases gets a single phase spanning the whole range.
func (m *Mission) Validate() error {
	if err := ValidateTimes(m.Times); err != nil {
		return err
	}
	start, end := m.Times[0], m.Times[len(m.Times)-1]
	if len(m.Phases) == 0 {
		m.Phases = []Ft.Phase{{Name: "mission", Start: start, End: end}}
	}
	if m.Life <= 0 {
		return Configf("mission", "life must be positive, got %g", m.Life)
	}

	cursor := start
	seen := make(map[string]bool, len(m.Phases))
	for _, p := range m.Phases {
		if seen[p.Name] {
			return Configf("phase "+p.Name, "duplicate phase name")
		}
		seen[p.Name] = true
		if !(p.End > p.Start) {
			return Configf("phase "+p.Name, "zero-length phase [%g, %g)", p.Start, p.End)
		}
		if math.Abs(p.Start-cursor) > 1e-9 {
			return Configf("phase "+p.Name, "starts at %g, expected %g", p.Start, cursor)
		}
		cursor = p.End
	}
	if math.Abs(cursor-end) > 1e-9 {
		return Configf("mission", "phases end at %g, time range ends at %g", cursor, end)
	}
	return nil
}

// Duration is the length of the mission time range.
func (m Mission) Duration() float64 {
	if len(m.Times) == 0 {
		return 0
	}
	return m.Times[len(m.Times)-1] - m.Times[0]
}

// PhaseAt returns the phase owning t. The last phase also owns the end time.
func (m Mission) PhaseAt(t float64) (Ft.Phase, bool) {
	for i, p := range m.Phases {
		if t >= p.Start && t < p.End {
			return p, true
		}
		if i == len(m.Phases)-1 && math.Abs(t-p.End) < 1e-9 {
			return p, true
		}
	}
	return Ft.Phase{}, false
}

// PhaseTimes returns the grid times owned by phase p.
func (m Mission) PhaseTimes(p Ft.Phase) []float64 {
	last := len(m.Phases) > 0 && m.Phases[len(m.Phases)-1].Name == p.Name
	var out []float64
	for _, t := range m.Times {
		if t >= p.Start && (t < p.End || (last && math.Abs(t-p.End) < 1e-9)) {
			out = append(out, t)
		}
	}
	return out
}

// ScenarioID names a scenario by its faults, e.g. "move_water short, t=20".
// Joint scenarios join their faults with " + ".
func ScenarioID(faults ...Ft.Fault) string {
	if len(faults) == 0 {
		return Ft.NominalID
	}
	parts := make([]string, len(faults))
	for i, f := range faults {
		parts[i] = fmt.Sprintf("%s %s, t=%g", f.Function, f.Mode, f.Time)
	}
	return strings.Join(parts, " + ")
}

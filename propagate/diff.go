package propagate

import (
	"encoding/json"
	"math"
	"sort"

	Fm "github.com/maroda/fmdrisk/model"
)

// EndState is the model as it stands after the last step of a run.
// Faults carries the catalog entry of each active mode so a classifier
// can read cost classes without the graph.
type EndState struct {
	Time   float64                       `json:"time"`
	Flows  map[string]map[string]float64 `json:"flows"`
	States map[string]map[string]float64 `json:"states"`
	Faults map[string]map[string]Fm.Mode `json:"faults"`
}

func endState(g *Fm.Graph, t float64) EndState {
	es := EndState{
		Time:   t,
		Flows:  make(map[string]map[string]float64),
		States: make(map[string]map[string]float64),
		Faults: make(map[string]map[string]Fm.Mode),
	}
	for _, f := range g.Flows() {
		es.Flows[f.Name] = f.Values()
	}
	for _, b := range g.Blocks() {
		es.States[b.Name] = b.States()
		if b.Nominal() {
			continue
		}
		modes := make(map[string]Fm.Mode)
		for _, name := range b.Faults() {
			modes[name], _ = b.Mode(name)
		}
		es.Faults[b.Name] = modes
	}
	return es
}

// Degraded lists blocks with at least one active fault, sorted.
func (s EndState) Degraded() []string {
	out := make([]string, 0, len(s.Faults))
	for name := range s.Faults {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Diff is faulty minus nominal, restricted to what changed.
// A flow attribute or state appears when it differs at any step.
// Faults lists modes active in the faulty run at its end but not in the nominal.
type Diff struct {
	Time   []float64
	Flows  map[string]map[string][]float64
	States map[string]map[string][]float64
	Faults map[string][]string
}

// Difference compares two histories over the steps they share.
func Difference(nominal, faulty *History) *Diff {
	n := nominal.Len()
	if faulty.Len() < n {
		n = faulty.Len()
	}
	d := &Diff{
		Time:   append([]float64(nil), faulty.Time[:n]...),
		Flows:  diffSeries(nominal.Flows, faulty.Flows, n),
		States: diffSeries(nominal.States, faulty.States, n),
		Faults: make(map[string][]string),
	}
	if n == 0 {
		return d
	}
	for name, steps := range faulty.Faults {
		nom := make(map[string]bool)
		if ns := nominal.Faults[name]; len(ns) >= n {
			for _, m := range ns[n-1] {
				nom[m] = true
			}
		}
		var added []string
		for _, m := range steps[n-1] {
			if !nom[m] {
				added = append(added, m)
			}
		}
		if len(added) > 0 {
			d.Faults[name] = added
		}
	}
	return d
}

func diffSeries(nominal, faulty map[string]map[string][]float64, n int) map[string]map[string][]float64 {
	out := make(map[string]map[string][]float64)
	for name, attrs := range faulty {
		for attr, fv := range attrs {
			nv := nominal[name][attr]
			if len(nv) < n || len(fv) < n {
				continue
			}
			delta := make([]float64, n)
			changed := false
			for i := 0; i < n; i++ {
				a, b := fv[i], nv[i]
				switch {
				case math.IsNaN(a) && math.IsNaN(b):
					delta[i] = 0
				case math.IsNaN(a) || math.IsNaN(b):
					delta[i] = Fm.Unset
					changed = true
				default:
					delta[i] = a - b
					if delta[i] != 0 {
						changed = true
					}
				}
			}
			if !changed {
				continue
			}
			if out[name] == nil {
				out[name] = make(map[string][]float64)
			}
			out[name][attr] = delta
		}
	}
	return out
}

// Empty reports whether the faulty run never left nominal.
func (d *Diff) Empty() bool {
	return d == nil || (len(d.Flows) == 0 && len(d.States) == 0 && len(d.Faults) == 0)
}

// Functions lists blocks whose state or fault set changed, sorted.
func (d *Diff) Functions() []string {
	seen := make(map[string]bool)
	for name := range d.States {
		seen[name] = true
	}
	for name := range d.Faults {
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *Diff) MarshalJSON() ([]byte, error) {
	conv := func(m map[string]map[string][]float64) map[string]map[string][]*float64 {
		out := make(map[string]map[string][]*float64, len(m))
		for name, attrs := range m {
			out[name] = make(map[string][]*float64, len(attrs))
			for a, vals := range attrs {
				out[name][a] = nullable(vals)
			}
		}
		return out
	}
	return json.Marshal(struct {
		Time   []float64                        `json:"time"`
		Flows  map[string]map[string][]*float64 `json:"flows"`
		States map[string]map[string][]*float64 `json:"functions"`
		Faults map[string][]string              `json:"faults"`
	}{d.Time, conv(d.Flows), conv(d.States), d.Faults})
}

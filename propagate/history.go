package propagate

import (
	"encoding/json"
	"math"
	"sort"

	Fm "github.com/maroda/fmdrisk/model"
)

// History is the per-step record of one run: every flow attribute,
// every block state and every active fault set, after each step.
// It is appended to while the run is going and read-only afterwards.
type History struct {
	Time   []float64
	Flows  map[string]map[string][]float64 // flow -> attribute -> values
	States map[string]map[string][]float64 // block -> state -> values
	Faults map[string][][]string           // block -> active modes per step
}

// NewHistory lays out an empty history for the flows and blocks of g.
func NewHistory(g *Fm.Graph) *History {
	h := &History{
		Flows:  make(map[string]map[string][]float64),
		States: make(map[string]map[string][]float64),
		Faults: make(map[string][][]string),
	}
	for _, f := range g.Flows() {
		attrs := make(map[string][]float64)
		for _, a := range f.Attributes() {
			attrs[a] = nil
		}
		h.Flows[f.Name] = attrs
	}
	for _, b := range g.Blocks() {
		states := make(map[string][]float64)
		for _, s := range b.StateNames() {
			states[s] = nil
		}
		h.States[b.Name] = states
		h.Faults[b.Name] = nil
	}
	return h
}

// Record appends the current values of g at time t.
func (h *History) Record(g *Fm.Graph, t float64) {
	h.Time = append(h.Time, t)
	for _, f := range g.Flows() {
		attrs := h.Flows[f.Name]
		for a := range attrs {
			attrs[a] = append(attrs[a], f.Get(a))
		}
	}
	for _, b := range g.Blocks() {
		states := h.States[b.Name]
		for s := range states {
			states[s] = append(states[s], b.State(s))
		}
		h.Faults[b.Name] = append(h.Faults[b.Name], b.Faults())
	}
}

// Len is the number of recorded steps.
func (h *History) Len() int { return len(h.Time) }

// Index returns the step index recorded at t.
func (h *History) Index(t float64) (int, bool) {
	i := sort.SearchFloat64s(h.Time, t-timeEpsilon)
	if i < len(h.Time) && math.Abs(h.Time[i]-t) <= timeEpsilon {
		return i, true
	}
	return 0, false
}

// Value reads flow.attr at step i, Unset when out of range.
func (h *History) Value(flow, attr string, i int) float64 {
	vals := h.Flows[flow][attr]
	if i < 0 || i >= len(vals) {
		return Fm.Unset
	}
	return vals[i]
}

// Prefix returns an independent copy of the first n steps.
func (h *History) Prefix(n int) *History {
	if n > h.Len() {
		n = h.Len()
	}
	p := &History{
		Time:   append(make([]float64, 0, len(h.Time)), h.Time[:n]...),
		Flows:  make(map[string]map[string][]float64, len(h.Flows)),
		States: make(map[string]map[string][]float64, len(h.States)),
		Faults: make(map[string][][]string, len(h.Faults)),
	}
	for name, attrs := range h.Flows {
		p.Flows[name] = prefixSeries(attrs, n, len(h.Time))
	}
	for name, states := range h.States {
		p.States[name] = prefixSeries(states, n, len(h.Time))
	}
	for name, faults := range h.Faults {
		p.Faults[name] = append(make([][]string, 0, len(h.Time)), faults[:n]...)
	}
	return p
}

func prefixSeries(m map[string][]float64, n, capacity int) map[string][]float64 {
	out := make(map[string][]float64, len(m))
	for k, v := range m {
		out[k] = append(make([]float64, 0, capacity), v[:n]...)
	}
	return out
}

// MarshalJSON renders the reporting layout:
// {"flows":{flow:{attr:[...]}},"functions":{fn:{state:[...],"faults":[[...]]}},"time":[...]}.
// Unset values are written as null.
func (h *History) MarshalJSON() ([]byte, error) {
	flows := make(map[string]map[string][]*float64, len(h.Flows))
	for name, attrs := range h.Flows {
		out := make(map[string][]*float64, len(attrs))
		for a, vals := range attrs {
			out[a] = nullable(vals)
		}
		flows[name] = out
	}

	functions := make(map[string]map[string]any, len(h.States))
	for name, states := range h.States {
		out := make(map[string]any, len(states)+1)
		for s, vals := range states {
			out[s] = nullable(vals)
		}
		faults := h.Faults[name]
		if faults == nil {
			faults = [][]string{}
		}
		out["faults"] = faults
		functions[name] = out
	}

	return json.Marshal(struct {
		Flows     map[string]map[string][]*float64 `json:"flows"`
		Functions map[string]map[string]any        `json:"functions"`
		Time      []float64                        `json:"time"`
	}{flows, functions, h.Time})
}

func nullable(vals []float64) []*float64 {
	out := make([]*float64, len(vals))
	for i := range vals {
		if math.IsNaN(vals[i]) || math.IsInf(vals[i], 0) {
			continue
		}
		v := vals[i]
		out[i] = &v
	}
	return out
}

// Compare is the nominal-vs-faulty pair handed to reporting.
type Compare struct {
	Nominal *History `json:"nominal"`
	Faulty  *History `json:"faulty"`
}

package model

import (
	"math"
	"sort"
)

// Unset marks a flow attribute that a producing block must write.
var Unset = math.NaN()

// Flow is a named bundle of scalar attributes shared by the blocks it connects.
// The attribute set is fixed at construction, only values change.
type Flow struct {
	Name  string
	Type  string
	attrs map[string]float64
	keys  []string // sorted attribute names
}

// NewFlow creates a flow with a fixed attribute set and initial values.
// Type is descriptive only (e.g. "EE", "Water").
func NewFlow(name, flowType string, attrs map[string]float64) *Flow {
	f := &Flow{
		Name:  name,
		Type:  flowType,
		attrs: make(map[string]float64, len(attrs)),
		keys:  make([]string, 0, len(attrs)),
	}
	for k, v := range attrs {
		f.attrs[k] = v
		f.keys = append(f.keys, k)
	}
	sort.Strings(f.keys)
	return f
}

// Get returns the value of attr, or Unset when attr is not declared.
func (f *Flow) Get(attr string) float64 {
	v, ok := f.attrs[attr]
	if !ok {
		return Unset
	}
	return v
}

// Set writes attr. Writing an undeclared attribute is a configuration error.
func (f *Flow) Set(attr string, v float64) error {
	if _, ok := f.attrs[attr]; !ok {
		return Configf("flow "+f.Name, "undeclared attribute %q", attr)
	}
	f.attrs[attr] = v
	return nil
}

// Has reports whether attr is declared on the flow.
func (f *Flow) Has(attr string) bool {
	_, ok := f.attrs[attr]
	return ok
}

// Attributes returns the declared attribute names in sorted order.
func (f *Flow) Attributes() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Values returns a copy of the current attribute values.
func (f *Flow) Values() map[string]float64 {
	out := make(map[string]float64, len(f.attrs))
	for k, v := range f.attrs {
		out[k] = v
	}
	return out
}

// Unsets returns the attributes currently holding Unset, sorted.
func (f *Flow) Unsets() []string {
	var out []string
	for _, k := range f.keys {
		if math.IsNaN(f.attrs[k]) {
			out = append(out, k)
		}
	}
	return out
}

// Clone returns an independent copy of the flow.
func (f *Flow) Clone() *Flow {
	c := &Flow{
		Name:  f.Name,
		Type:  f.Type,
		attrs: make(map[string]float64, len(f.attrs)),
		keys:  f.keys, // immutable after construction
	}
	for k, v := range f.attrs {
		c.attrs[k] = v
	}
	return c
}

// MaxDelta is the largest absolute attribute difference between f and o.
// Attributes compared are those of f. NaN against NaN counts as equal,
// NaN against a number counts as infinitely different.
func (f *Flow) MaxDelta(o map[string]float64) float64 {
	max := 0.0
	for _, k := range f.keys {
		a, b := f.attrs[k], o[k]
		switch {
		case math.IsNaN(a) && math.IsNaN(b):
			continue
		case math.IsNaN(a) || math.IsNaN(b):
			return math.Inf(1)
		}
		if d := math.Abs(a - b); d > max {
			max = d
		}
	}
	return max
}

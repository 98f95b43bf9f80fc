package sample

import (
	"sort"

	Fm "github.com/maroda/fmdrisk/model"
)

// Rates maps qualitative rate classes to occurrence rates per unit time.
type Rates map[string]float64

// DefaultRates is the reference rate key.
var DefaultRates = Rates{
	"rare":     1e-7,
	"moderate": 1e-5,
}

// Lookup returns the numeric rate of class. Unknown classes are a
// configuration error, never a default.
func (r Rates) Lookup(class string) (float64, error) {
	v, ok := r[class]
	if !ok {
		return 0, Fm.Configf("rate key", "unknown qualitative rate class %q", class)
	}
	return v, nil
}

// Classes lists the known classes, sorted.
func (r Rates) Classes() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Package models is the registry of reference models the CLI and tests run.
package models

import (
	"fmt"
	"sort"

	Fm "github.com/maroda/fmdrisk/model"
	"github.com/maroda/fmdrisk/models/chain"
	"github.com/maroda/fmdrisk/models/pump"
)

// Factory builds a fresh graph and its mission.
type Factory func() (*Fm.Graph, Fm.Mission, error)

// Models is a global map of model factories by name.
var Models = map[string]Factory{
	"chain": chain.Build,
	"pump":  pump.Build,
}

func Lookup(name string) (Factory, error) {
	factory, ok := Models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return factory, nil
}

// Names lists the registered models, sorted.
func Names() []string {
	out := make([]string, 0, len(Models))
	for name := range Models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

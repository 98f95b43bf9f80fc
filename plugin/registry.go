package plugin

import (
	"fmt"
	"sort"

	Fr "github.com/maroda/fmdrisk/risk"
)

// Classifiers is a global map of Classifier plugins, built over a mission life.
var Classifiers = map[string]func(life float64) Fr.Classifier{
	"cost_model": func(life float64) Fr.Classifier {
		return Fr.NewCostModel(life)
	},
	"flow_loss": func(life float64) Fr.Classifier {
		return NewFlowLoss(life, DefaultLossPrice)
	},
}

func ClassifierLookup(name string, life float64) (Fr.Classifier, error) {
	factory, ok := Classifiers[name]
	if !ok {
		return nil, fmt.Errorf("unknown classifier: %s", name)
	}
	return factory(life), nil
}

// Outputs is a global map of OutputAdapter plugins.
// target is a directory for file outputs and a DSN for databases.
var Outputs = map[string]func(target, table string, batchSize int) (OutputAdapter, error){
	"badger": func(target, _ string, batchSize int) (OutputAdapter, error) {
		return NewBadgerOutput(target, batchSize)
	},
	"json": func(target, _ string, _ int) (OutputAdapter, error) {
		return NewJSONOutput(target)
	},
	"postgres": func(target, table string, batchSize int) (OutputAdapter, error) {
		return NewSQLOutput(target, table, batchSize)
	},
}

func OutputLookup(name, target, table string, batchSize int) (OutputAdapter, error) {
	factory, ok := Outputs[name]
	if !ok {
		return nil, fmt.Errorf("unknown output: %s", name)
	}
	return factory(target, table, batchSize)
}

// Names lists the keys of a plugin map, sorted.
func Names[T any](plugins map[string]T) []string {
	out := make([]string, 0, len(plugins))
	for name := range plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package plugin

/*

	The Adapter sits aside /risk/
	Contains core interfaces for Plugin

*/

import (
	"errors"
	"fmt"

	Ft "github.com/maroda/fmdrisk/types"
)

var ErrNotFound = errors.New("not found")

// Record is one classified scenario of one batch, the unit outputs store.
type Record struct {
	Batch  string       `json:"batch"`
	ID     string       `json:"id"`
	Time   float64      `json:"time"`
	Result Ft.EndResult `json:"result"`
}

// NewRecords flattens a batch's end results, ordered by scenario.
func NewRecords(batch string, scenarios []Ft.Scenario, endclasses map[string]Ft.EndResult) []*Record {
	out := make([]*Record, 0, len(scenarios))
	for _, sc := range scenarios {
		er, ok := endclasses[sc.ID]
		if !ok {
			continue
		}
		out = append(out, &Record{Batch: batch, ID: sc.ID, Time: sc.Time, Result: er})
	}
	return out
}

// OutputAdapter can be used to define a place for the results to go,
// record-by-record or in batches if supported by the output type.
type OutputAdapter interface {
	WriteRecord(r *Record) error                // Write singleton record
	WriteBatch(records []*Record) error         // Write batches of records
	QueryBatch(batch string) ([]*Record, error) // All records of one batch
	Flush() error                               // Flush any buffered data
	Close() error                               // Close the adapter and release resources
	Type() string                               // ID for output
}

// Persist writes a finished batch to out and flushes it.
func Persist(out OutputAdapter, batch string, scenarios []Ft.Scenario, endclasses map[string]Ft.EndResult) (int, error) {
	records := NewRecords(batch, scenarios, endclasses)
	if err := out.WriteBatch(records); err != nil {
		return 0, fmt.Errorf("write batch %s to %s: %w", batch, out.Type(), err)
	}
	if err := out.Flush(); err != nil {
		return 0, fmt.Errorf("flush %s: %w", out.Type(), err)
	}
	return len(records), nil
}

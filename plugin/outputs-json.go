package plugin

/*
	JSONOutput

	Writes each batch as an endclasses document, one file per batch:

		{"<scenario id>": {"properties": {...}, "classification": {...}}}

	Records are buffered and merged into the batch file on Flush.
*/

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	Ft "github.com/maroda/fmdrisk/types"
)

type JSONOutput struct {
	MU     sync.Mutex
	Dir    string
	Buffer []*Record
}

func NewJSONOutput(dir string) (*JSONOutput, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("json output dir: %w", err)
	}
	return &JSONOutput{Dir: dir}, nil
}

// Path is the file holding batch.
func (jo *JSONOutput) Path(batch string) string {
	return filepath.Join(jo.Dir, batch+".json")
}

func (jo *JSONOutput) WriteRecord(r *Record) error {
	jo.MU.Lock()
	defer jo.MU.Unlock()
	jo.Buffer = append(jo.Buffer, r)
	return nil
}

// WriteBatch merges records into their batch files.
func (jo *JSONOutput) WriteBatch(records []*Record) error {
	byBatch := make(map[string][]*Record)
	var order []string
	for _, r := range records {
		if _, ok := byBatch[r.Batch]; !ok {
			order = append(order, r.Batch)
		}
		byBatch[r.Batch] = append(byBatch[r.Batch], r)
	}

	for _, batch := range order {
		doc, err := jo.read(batch)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if doc == nil {
			doc = make(map[string]Ft.EndResult)
		}
		for _, r := range byBatch[batch] {
			doc[r.ID] = r.Result
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal endclasses: %w", err)
		}
		if err := os.WriteFile(jo.Path(batch), data, 0o644); err != nil {
			slog.Error("JSONOutput failed to write batch", slog.String("batch", batch), slog.Any("error", err))
			return fmt.Errorf("write batch error: %w", err)
		}
	}
	return nil
}

func (jo *JSONOutput) read(batch string) (map[string]Ft.EndResult, error) {
	data, err := os.ReadFile(jo.Path(batch))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("batch %q: %w", batch, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]Ft.EndResult
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Error("Error unmarshalling json",
			slog.String("batch", batch),
			slog.Any("error", err))
		return nil, fmt.Errorf("error unmarshalling endclasses: %w", err)
	}
	return doc, nil
}

// QueryBatch reads a batch file back, ordered by time then scenario ID.
func (jo *JSONOutput) QueryBatch(batch string) ([]*Record, error) {
	doc, err := jo.read(batch)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(doc))
	for id, er := range doc {
		records = append(records, &Record{Batch: batch, ID: id, Time: er.Properties.Time, Result: er})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Time != records[j].Time {
			return records[i].Time < records[j].Time
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (jo *JSONOutput) Flush() error {
	jo.MU.Lock()
	defer jo.MU.Unlock()

	if len(jo.Buffer) == 0 {
		return nil
	}
	err := jo.WriteBatch(jo.Buffer)
	jo.Buffer = jo.Buffer[:0]
	return err
}

func (jo *JSONOutput) Close() error { return jo.Flush() }

func (jo *JSONOutput) Type() string { return "json" }

package plugin

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lib/pq"
)

// SQLOutput writes records to a Postgres (or TimescaleDB) table:
//
//	CREATE TABLE endclasses (
//	    batch       TEXT NOT NULL,
//	    scenario_id TEXT NOT NULL,
//	    time        DOUBLE PRECISION NOT NULL,
//	    result      JSONB NOT NULL,
//	    PRIMARY KEY (batch, scenario_id)
//	);
type SQLOutput struct {
	MU        sync.Mutex
	DB        *sql.DB
	Table     string
	BatchSize int
	Buffer    []*Record
}

// NewSQLOutput opens dsn with the postgres driver.
func NewSQLOutput(dsn, table string, batchSize int) (*SQLOutput, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("SQLOutput failed to open database", slog.Any("error", err))
		return nil, fmt.Errorf("database error: %w", err)
	}
	return NewSQLOutputDB(db, table, batchSize), nil
}

// NewSQLOutputDB wraps an open database.
func NewSQLOutputDB(db *sql.DB, table string, batchSize int) *SQLOutput {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &SQLOutput{
		DB:        db,
		Table:     table,
		BatchSize: batchSize,
		Buffer:    make([]*Record, 0, batchSize),
	}
}

func (so *SQLOutput) WriteRecord(r *Record) error {
	so.MU.Lock()
	defer so.MU.Unlock()

	so.Buffer = append(so.Buffer, r)
	if len(so.Buffer) >= so.BatchSize {
		return so.flushLocked()
	}
	return nil
}

// WriteBatch inserts every record in one statement.
// Rewriting a batch is a no-op (ON CONFLICT DO NOTHING).
func (so *SQLOutput) WriteBatch(records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(QuoteTable(so.Table))
	b.WriteString(" (batch, scenario_id, time, result) VALUES ")

	args := make([]any, 0, len(records)*4)
	for i, r := range records {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4))
		result, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		args = append(args, r.Batch, r.ID, r.Time, result)
	}
	b.WriteString(" ON CONFLICT (batch, scenario_id) DO NOTHING")

	if _, err := so.DB.Exec(b.String(), args...); err != nil {
		slog.Error("SQLOutput failed to write batch",
			slog.Int("records", len(records)),
			slog.Any("error", err))
		return fmt.Errorf("write batch error: %w", err)
	}
	return nil
}

func (so *SQLOutput) QueryBatch(batch string) ([]*Record, error) {
	query := "SELECT scenario_id, time, result FROM " + QuoteTable(so.Table) + " WHERE batch = $1 ORDER BY time, scenario_id"
	rows, err := so.DB.Query(query, batch)
	if err != nil {
		return nil, fmt.Errorf("query batch error: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{Batch: batch}
		var result []byte
		if err := rows.Scan(&r.ID, &r.Time, &result); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		if err := json.Unmarshal(result, &r.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("batch %q: %w", batch, ErrNotFound)
	}
	return records, nil
}

func (so *SQLOutput) Flush() error {
	so.MU.Lock()
	defer so.MU.Unlock()

	if len(so.Buffer) == 0 {
		return nil
	}
	return so.flushLocked()
}

func (so *SQLOutput) flushLocked() error {
	err := so.WriteBatch(so.Buffer)
	so.Buffer = so.Buffer[:0]
	return err
}

func (so *SQLOutput) Close() error {
	flushErr := so.Flush()
	closeErr := so.DB.Close()
	if flushErr != nil {
		return fmt.Errorf("flush failed, close may have failed: %w", flushErr)
	}
	return closeErr
}

func (so *SQLOutput) Type() string { return "postgres" }

// QuoteTable quotes each part of a possibly schema-qualified table name,
// so the configured name can never be read as SQL.
func QuoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

package plugin

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

type BadgerOutput struct {
	MU        sync.Mutex
	DB        *badger.DB
	BatchSize int
	Buffer    []*Record
}

func NewBadgerOutput(path string, batchSize int) (*BadgerOutput, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	opts := badger.DefaultOptions(path).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		slog.Error("BadgerOutput failed to open database", slog.Any("error", err))
		return nil, fmt.Errorf("database error: %w", err)
	}

	slog.Info("BadgerOutput opened",
		slog.String("path", path),
		slog.Int("batchSize", batchSize))

	return &BadgerOutput{
		DB:        db,
		BatchSize: batchSize,
		Buffer:    make([]*Record, 0, batchSize),
	}, nil
}

// WriteRecord queues up a batch of records,
// when batchsize is reached, it calls flushLocked()
// which calls WriteBatch() with the new batch
func (bo *BadgerOutput) WriteRecord(r *Record) error {
	bo.MU.Lock()
	defer bo.MU.Unlock()

	bo.Buffer = append(bo.Buffer, r)
	if len(bo.Buffer) >= bo.BatchSize {
		return bo.flushLocked()
	}
	return nil
}

// WriteBatch performs the key/value creation to be stored
// and actually calls BadgerDB to write the data
func (bo *BadgerOutput) WriteBatch(records []*Record) error {
	wb := bo.DB.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range records {
		v, err := RecordEncode(r)
		if err != nil {
			return fmt.Errorf("record encode error: %w", err)
		}
		if err := wb.Set(RecordKey(r), v); err != nil {
			slog.Error("BadgerOutput failed to set key in batch",
				slog.Any("error", err),
				slog.String("batch", r.Batch),
				slog.String("scenario", r.ID))
			return fmt.Errorf("write batch error: %w", err)
		}
	}

	if err := wb.Flush(); err != nil {
		slog.Error("BadgerOutput failed to flush batch", slog.Any("error", err))
		return fmt.Errorf("batch flush error: %w", err)
	}

	return nil
}

// Flush is the public method that blocks,
// it sends data to WriteBatch and then clears the buffer
func (bo *BadgerOutput) Flush() error {
	bo.MU.Lock()
	defer bo.MU.Unlock()

	if len(bo.Buffer) == 0 {
		return nil
	}
	return bo.flushLocked()
}

// flushLocked mimics Flush without locking
func (bo *BadgerOutput) flushLocked() error {
	err := bo.WriteBatch(bo.Buffer)
	bo.Buffer = bo.Buffer[:0] // Clear but keep capacity
	return err
}

// Close returns a Flush error but still attempts to close
func (bo *BadgerOutput) Close() error {
	slog.Info("BadgerOutput closing, flushing buffer",
		slog.Int("bufferSize", len(bo.Buffer)))
	flushErr := bo.Flush()
	closeErr := bo.DB.Close()

	if flushErr != nil {
		slog.Error("BadgerOutput failed to flush on close", slog.Any("error", flushErr))
		return fmt.Errorf("flush failed, close may have failed: %w", flushErr)
	}

	if closeErr != nil {
		slog.Error("BadgerOutput failed to close database", slog.Any("error", closeErr))
		return fmt.Errorf("close failed: %w", closeErr)
	}

	slog.Info("BadgerOutput closed successfully")
	return nil
}

func (bo *BadgerOutput) Type() string { return "BadgerDB" }

// BatchPrefix is the key prefix shared by every record of a batch.
func BatchPrefix(batch string) []byte {
	return append([]byte(batch), 0)
}

// RecordKey creates a composite key
// batch + 0x00 + injection time + scenario ID
// so a batch iterates in injection time order.
func RecordKey(r *Record) []byte {
	prefix := BatchPrefix(r.Batch)
	key := make([]byte, len(prefix)+8+len(r.ID))
	copy(key, prefix)

	// Flip the sign bit (and the rest for negatives)
	// so big-endian bytes sort like the floats
	bits := math.Float64bits(r.Time)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	binary.BigEndian.PutUint64(key[len(prefix):], bits)
	copy(key[len(prefix)+8:], r.ID)

	return key
}

// RecordEncode serializes the record for data storage
func RecordEncode(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RecordDecode deserializes the record data
func RecordDecode(data []byte) (*Record, error) {
	var r Record
	dec := gob.NewDecoder(bytes.NewBuffer(data))
	err := dec.Decode(&r)
	return &r, err
}

// QueryBatch retrieves every record of a batch in injection time order
func (bo *BadgerOutput) QueryBatch(batch string) ([]*Record, error) {
	var records []*Record
	prefix := BatchPrefix(batch)

	// db.View() callback
	// BadgerDB provides a transaction in which to get item.Value()
	err := bo.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			// item.Value() callback
			// BadgerDB passes bytes to the anon func
			err := it.Item().Value(func(val []byte) error {
				r, err := RecordDecode(val)
				if err != nil {
					slog.Error("BadgerOutput failed to decode record", slog.Any("error", err))
					return fmt.Errorf("record decode error: %w", err)
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				slog.Error("BadgerOutput callback failure", slog.Any("error", err))
				return fmt.Errorf("item data error: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("batch %q: %w", batch, ErrNotFound)
	}

	slog.Info("BadgerOutput QueryBatch successful",
		slog.String("batch", batch),
		slog.Int("count", len(records)))
	return records, nil
}

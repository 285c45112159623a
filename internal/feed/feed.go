// Package feed ingests raw order records into the ledger, either from a
// JSON export on disk or from a NATS Streaming subject. The feed only
// stores; selection and dispatch stay with the engine.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/swatchline/dispatch/internal/ledger"
)

// Sink stores raw records. *ledger.SQLite satisfies it.
type Sink interface {
	UpsertRecords(ctx context.Context, records []ledger.Record) (stored, dropped int, err error)
}

// SourceFeed produces raw records for ingestion. What asOf means is up to
// the implementation: the file feed ignores it, a scraping feed would
// fetch that day's sheet.
type SourceFeed interface {
	Fetch(ctx context.Context, asOf time.Time) ([]ledger.Record, error)
}

// File is a SourceFeed reading a JSON export from disk.
type File struct {
	Path string
}

// Fetch implements SourceFeed. The export carries no date axis, so asOf
// is ignored.
func (f File) Fetch(ctx context.Context, _ time.Time) ([]ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(f.Path)
}

// LoadFile reads a JSON array of record objects from disk. Scalar values
// are flattened to strings; the ledger keeps records as loose string maps
// and the item store does the real validation.
func LoadFile(path string) ([]ledger.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}
	return parseRecords(data)
}

func parseRecords(data []byte) ([]ledger.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode feed: expected a JSON array of objects: %w", err)
	}

	records := make([]ledger.Record, 0, len(raw))
	for i, obj := range raw {
		rec, err := flatten(obj)
		if err != nil {
			return nil, fmt.Errorf("decode feed: record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseMessage accepts either a single record object or an array of them,
// the two payload shapes publishers use.
func parseMessage(data []byte) ([]ledger.Record, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return parseRecords(data)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode feed message: %w", err)
	}
	rec, err := flatten(obj)
	if err != nil {
		return nil, fmt.Errorf("decode feed message: %w", err)
	}
	return []ledger.Record{rec}, nil
}

// flatten converts one decoded object into a Record. Nested structures
// are rejected: the source is tabular and anything deeper is a feed bug
// worth surfacing, not coercing.
func flatten(obj map[string]any) (ledger.Record, error) {
	rec := make(ledger.Record, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			rec[k] = val
		case json.Number:
			rec[k] = val.String()
		case bool:
			rec[k] = fmt.Sprintf("%t", val)
		case nil:
			rec[k] = ""
		default:
			return nil, fmt.Errorf("field %q has non-scalar value", k)
		}
	}
	return rec, nil
}

// Import stores records through the sink and logs the outcome.
func Import(ctx context.Context, sink Sink, records []ledger.Record) (stored, dropped int, err error) {
	stored, dropped, err = sink.UpsertRecords(ctx, records)
	if err != nil {
		return 0, 0, fmt.Errorf("import records: %w", err)
	}
	slog.Info("feed import finished", "received", len(records), "stored", stored, "dropped", dropped)
	return stored, dropped, nil
}

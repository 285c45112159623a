package feed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swatchline/dispatch/internal/ledger"
)

type fakeSink struct {
	got  []ledger.Record
	fail bool
}

func (f *fakeSink) UpsertRecords(_ context.Context, records []ledger.Record) (int, int, error) {
	if f.fail {
		return 0, 0, errors.New("sink offline")
	}
	f.got = append(f.got, records...)
	return len(records), 0, nil
}

func TestParseRecords_FlattensScalars(t *testing.T) {
	records, err := parseRecords([]byte(`[
		{"id": "a1", "seller": "alpha textile", "quantity": 5, "express": true, "memo": null}
	]`))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, ledger.Record{
		"id":       "a1",
		"seller":   "alpha textile",
		"quantity": "5",
		"express":  "true",
		"memo":     "",
	}, records[0])
}

func TestParseRecords_KeepsNumberPrecision(t *testing.T) {
	records, err := parseRecords([]byte(`[{"id": "a1", "price": 10.50, "big": 9007199254740993}]`))
	require.NoError(t, err)
	assert.Equal(t, "10.50", records[0]["price"])
	assert.Equal(t, "9007199254740993", records[0]["big"])
}

func TestParseRecords_RejectsNested(t *testing.T) {
	_, err := parseRecords([]byte(`[{"id": "a1", "extras": {"color": "red"}}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-scalar")
}

func TestParseRecords_RejectsNonArray(t *testing.T) {
	_, err := parseRecords([]byte(`{"id": "a1"}`))
	require.Error(t, err)
}

func TestParseMessage_ObjectAndArray(t *testing.T) {
	single, err := parseMessage([]byte(`  {"id": "a1"}`))
	require.NoError(t, err)
	require.Len(t, single, 1)

	bulk, err := parseMessage([]byte(`[{"id": "a1"}, {"id": "a2"}]`))
	require.NoError(t, err)
	require.Len(t, bulk, 2)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "a1", "seller": "alpha textile"}]`), 0o644))

	records, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alpha textile", records[0]["seller"])

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestFileFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "a1"}]`), 0o644))

	var source SourceFeed = File{Path: path}
	records, err := source.Fetch(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, records, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = source.Fetch(ctx, time.Now())
	require.ErrorIs(t, err, context.Canceled)
}

func TestImport(t *testing.T) {
	sink := &fakeSink{}
	stored, _, err := Import(context.Background(), sink, []ledger.Record{{"id": "a1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	assert.Len(t, sink.got, 1)

	sink.fail = true
	_, _, err = Import(context.Background(), sink, []ledger.Record{{"id": "a2"}})
	require.Error(t, err)
}

func TestIngestor_RequiresSink(t *testing.T) {
	in := &Ingestor{Subject: "orders"}
	require.Error(t, in.Run(context.Background()))
}

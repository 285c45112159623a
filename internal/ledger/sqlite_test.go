package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *SQLite {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestUpsertAndReadRecords(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	stored, dropped, err := l.UpsertRecords(ctx, []Record{
		{"id": "r1", "seller": "한길섬유", "order_number": "PO-1", "product_name": "cotton 20s", "quantity": "5"},
		{"id": "r2", "seller": "모던패브릭", "order_number": "PO-2", "product_name": "linen 11s", "quantity": "2"},
		{"seller": "no-id", "order_number": "PO-3"}, // dropped
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, 1, dropped)

	records, err := l.ReadRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "r1", records[0]["id"])
	assert.Equal(t, "pending", records[0]["status"])
	assert.Equal(t, "1", records[0]["revision"])
	assert.Equal(t, "한길섬유", records[0]["seller"])
}

func TestUpsertRecords_UnchangedRowKeepsStatus(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	rec := Record{"id": "r1", "seller": "A", "order_number": "PO-1"}
	_, _, err := l.UpsertRecords(ctx, []Record{rec})
	require.NoError(t, err)

	require.NoError(t, l.WriteStatusBatch(ctx, StatusBatch{
		"r1": {Status: "sent"},
	}))

	// Re-upserting identical content must not reset the delivery status.
	_, _, err = l.UpsertRecords(ctx, []Record{rec})
	require.NoError(t, err)

	records, err := l.ReadRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sent", records[0]["status"])
	assert.Equal(t, "1", records[0]["revision"])
}

func TestUpsertRecords_ChangedRowResetsStatus(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, _, err := l.UpsertRecords(ctx, []Record{{"id": "r1", "seller": "A", "quantity": "5"}})
	require.NoError(t, err)
	require.NoError(t, l.WriteStatusBatch(ctx, StatusBatch{"r1": {Status: "sent"}}))

	_, _, err = l.UpsertRecords(ctx, []Record{{"id": "r1", "seller": "A", "quantity": "7"}})
	require.NoError(t, err)

	records, err := l.ReadRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pending", records[0]["status"])
	assert.Equal(t, "2", records[0]["revision"])
}

func TestWriteStatusBatch_Idempotent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, _, err := l.UpsertRecords(ctx, []Record{
		{"id": "r1", "seller": "A"},
		{"id": "r2", "seller": "B"},
	})
	require.NoError(t, err)

	batch := StatusBatch{
		"r1": {Status: "sent"},
		"r2": {Status: "failed", Error: "send-error: channel timed out"},
	}
	require.NoError(t, l.WriteStatusBatch(ctx, batch))
	require.NoError(t, l.WriteStatusBatch(ctx, batch)) // replay

	records, err := l.ReadRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sent", records[0]["status"])
	assert.Equal(t, "failed", records[1]["status"])
	assert.Equal(t, "send-error: channel timed out", records[1]["last_error"])
}

func TestWriteStatusBatch_Empty(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.WriteStatusBatch(context.Background(), nil))
}

func TestFingerprints_PersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	ctx := context.Background()

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.AddFingerprints(ctx, []string{"fp-b", "fp-a"}))
	require.NoError(t, l.AddFingerprints(ctx, []string{"fp-a"})) // duplicate add is harmless
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	fps, err := reopened.SentFingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-a", "fp-b"}, fps)
}

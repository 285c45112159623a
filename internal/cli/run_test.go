package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swatchline/dispatch/internal/ledger"
)

// seedLedger creates a temp ledger with two sellers' worth of records and
// returns a config file pointing at it.
func seedLedger(t *testing.T) (configPath, ledgerPath string) {
	t.Helper()
	dir := t.TempDir()
	ledgerPath = filepath.Join(dir, "dispatch.db")

	led, err := ledger.Open(ledgerPath)
	require.NoError(t, err)
	defer led.Close()

	_, _, err = led.UpsertRecords(context.Background(), []ledger.Record{
		{"id": "a1", "seller": "한길섬유", "order_number": "PO-1", "product_name": "cotton 20s",
			"quality_name": "cotton 20s", "color_number": "C-102", "quantity": "5",
			"ordered_at": "2026-08-28 10:30", "pickup_at": "2026-09-01",
			"delivery_method": "택배", "logistics_company": "대한통운"},
		{"id": "a2", "seller": "한길섬유", "order_number": "PO-1", "product_name": "linen 11s",
			"quality_name": "linen 11s", "color_number": "C-309", "quantity": "3",
			"ordered_at": "2026-08-28 10:30", "pickup_at": "2026-09-01",
			"delivery_method": "택배", "logistics_company": "대한통운"},
		{"id": "b1", "seller": "무명상회", "order_number": "PO-2", "product_name": "rayon span",
			"quality_name": "rayon span", "color_number": "C-771", "quantity": "1",
			"ordered_at": "2026-08-29 14:02", "pickup_at": "2026-09-02",
			"delivery_method": "퀵", "logistics_company": "직접수령"},
	})
	require.NoError(t, err)

	configPath = filepath.Join(dir, "dispatch.yaml")
	body := fmt.Sprintf(`
ledger_path: %s
address_book:
  한길섬유: 한길섬유 채팅방
  무명상회: 무명상회 채팅방
`, ledgerPath)
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))
	return configPath, ledgerPath
}

func ledgerStatuses(t *testing.T, path string) map[string]string {
	t.Helper()
	led, err := ledger.Open(path)
	require.NoError(t, err)
	defer led.Close()

	records, err := led.ReadRecords(context.Background())
	require.NoError(t, err)
	out := make(map[string]string, len(records))
	for _, rec := range records {
		out[rec["id"]] = rec["status"]
	}
	return out
}

func TestRun_DeliversAndWritesBack(t *testing.T) {
	configPath, ledgerPath := seedLedger(t)

	out, err := execute(t, "run", "-c", configPath, "--order", "fbo", "--op", "shipment_request", "--all")
	require.NoError(t, err)

	assert.Contains(t, out, "한길섬유 채팅방")
	assert.Contains(t, out, "무명상회 채팅방")
	assert.Contains(t, out, "delivered 2")

	statuses := ledgerStatuses(t, ledgerPath)
	assert.Equal(t, "sent", statuses["a1"])
	assert.Equal(t, "sent", statuses["a2"])
	assert.Equal(t, "sent", statuses["b1"])
}

func TestRun_SecondRunSendsNothing(t *testing.T) {
	configPath, _ := seedLedger(t)

	_, err := execute(t, "run", "-c", configPath, "--order", "fbo", "--op", "shipment_request", "--all")
	require.NoError(t, err)

	out, err := execute(t, "run", "-c", configPath, "--order", "fbo", "--op", "shipment_request", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "delivered 0")
	assert.NotContains(t, out, "한길섬유 채팅방")
}

func TestRun_ExplicitIDs(t *testing.T) {
	configPath, ledgerPath := seedLedger(t)

	out, err := execute(t, "run", "-c", configPath, "--order", "fbo", "--op", "shipment_request", "--ids", "b1")
	require.NoError(t, err)
	assert.Contains(t, out, "delivered 1")

	statuses := ledgerStatuses(t, ledgerPath)
	assert.Equal(t, "pending", statuses["a1"])
	assert.Equal(t, "sent", statuses["b1"])
}

func TestRun_ConfirmDeclined(t *testing.T) {
	configPath, ledgerPath := seedLedger(t)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader("n\n"))
	cmd.SetArgs([]string{"run", "-c", configPath, "--order", "fbo", "--op", "shipment_request", "--all", "--confirm"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Proceed?")
	assert.Contains(t, out.String(), "delivered 0")
	statuses := ledgerStatuses(t, ledgerPath)
	assert.Equal(t, "pending", statuses["a1"])
}

func TestRun_ConfirmAccepted(t *testing.T) {
	configPath, ledgerPath := seedLedger(t)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader("y\n"))
	cmd.SetArgs([]string{"run", "-c", configPath, "--order", "fbo", "--op", "shipment_request", "--all", "--confirm"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "delivered 2")
	assert.Equal(t, "sent", ledgerStatuses(t, ledgerPath)["a1"])
}

func TestRun_UnresolvedSellerFails(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "dispatch.db")
	led, err := ledger.Open(ledgerPath)
	require.NoError(t, err)
	_, _, err = led.UpsertRecords(context.Background(), []ledger.Record{
		{"id": "x1", "seller": "어디상사", "order_number": "PO-9", "product_name": "wool"},
	})
	require.NoError(t, err)
	require.NoError(t, led.Close())

	configPath := filepath.Join(dir, "dispatch.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("ledger_path: "+ledgerPath+"\n"), 0o644))

	out, err := execute(t, "run", "-c", configPath, "--order", "fbo", "--op", "shipment_request", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "delivered 0")
	assert.Equal(t, "failed", ledgerStatuses(t, ledgerPath)["x1"])
}

func TestRun_RequiresOrderAndOp(t *testing.T) {
	configPath, ledgerPath := seedLedger(t)

	_, err := execute(t, "run", "-c", configPath, "--all")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--order")

	_, err = execute(t, "run", "-c", configPath, "--order", "fbo", "--all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--op")

	for id, status := range ledgerStatuses(t, ledgerPath) {
		assert.Equal(t, "pending", status, id)
	}
}

// seedPickupLedger stores two orders for one seller, the shape a swatch
// pickup covers with a single message.
func seedPickupLedger(t *testing.T) (configPath, ledgerPath string) {
	t.Helper()
	dir := t.TempDir()
	ledgerPath = filepath.Join(dir, "dispatch.db")

	led, err := ledger.Open(ledgerPath)
	require.NoError(t, err)
	defer led.Close()

	_, _, err = led.UpsertRecords(context.Background(), []ledger.Record{
		{"id": "s1", "seller": "한길섬유", "order_number": "PO-1", "product_name": "cotton swatch", "quantity": "2"},
		{"id": "s2", "seller": "한길섬유", "order_number": "PO-2", "product_name": "linen swatch", "quantity": "1"},
	})
	require.NoError(t, err)

	configPath = filepath.Join(dir, "dispatch.yaml")
	body := "ledger_path: " + ledgerPath + "\naddress_book:\n  한길섬유: 한길섬유 채팅방\n"
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))
	return configPath, ledgerPath
}

func TestRun_PickupRequestGroupsPerSeller(t *testing.T) {
	configPath, ledgerPath := seedPickupLedger(t)

	// The preview already shows a single seller-wide message with no
	// per-order split in the header.
	pout, err := execute(t, "preview", "-c", configPath, "--order", "sbo", "--op", "pickup_request", "--all")
	require.NoError(t, err)
	assert.Contains(t, pout, "== 한길섬유 → 한길섬유 채팅방 ==")
	assert.NotContains(t, pout, "한길섬유 / PO-1")
	assert.Contains(t, pout, "cotton swatch")
	assert.Contains(t, pout, "linen swatch")

	out, err := execute(t, "run", "-c", configPath, "--order", "sbo", "--op", "pickup_request", "--all")
	require.NoError(t, err)

	// Two orders, one seller, one message covering both.
	assert.Contains(t, out, "delivered 1")
	assert.Contains(t, out, "cotton swatch")
	assert.Contains(t, out, "linen swatch")

	statuses := ledgerStatuses(t, ledgerPath)
	assert.Equal(t, "sent", statuses["s1"])
	assert.Equal(t, "sent", statuses["s2"])
}

package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swatchline/dispatch/internal/httpapi"
	"github.com/swatchline/dispatch/internal/ledger"
)

func TestRefreshSnapshot(t *testing.T) {
	_, ledgerPath := seedLedger(t)
	led, err := ledger.Open(ledgerPath)
	require.NoError(t, err)
	defer led.Close()

	server := httpapi.NewServer()
	require.NoError(t, refreshSnapshot(context.Background(), led, server))

	req := httptest.NewRequest(http.MethodGet, "/api/items/a1", nil)
	rr := httptest.NewRecorder()
	server.Router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "한길섬유")
}

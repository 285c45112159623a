package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swatchline/dispatch/internal/item"
	"github.com/swatchline/dispatch/internal/ledger"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	store := item.NewStore()
	report := store.Load([]ledger.Record{
		{"id": "a1", "seller": "alpha textile", "order_number": "PO-1", "product_name": "cotton 20s", "quantity": "5"},
		{"id": "b1", "seller": "beta fabrics", "order_number": "PO-2", "product_name": "rayon span", "status": "failed",
			"last_error": "send-error: transmit failed"},
	})
	require.Equal(t, 2, report.Loaded)

	s := NewServer()
	s.Update(store.All())
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}

func TestList(t *testing.T) {
	rr := get(t, testServer(t), "/api/items")
	require.Equal(t, http.StatusOK, rr.Code)

	var items []ItemView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "a1", items[0].ID)
	assert.Equal(t, "pending", items[0].Status)
	assert.Equal(t, "send-error: transmit failed", items[1].LastError)
}

func TestList_Filters(t *testing.T) {
	s := testServer(t)

	rr := get(t, s, "/api/items?status=failed")
	var items []ItemView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "b1", items[0].ID)

	rr = get(t, s, "/api/items?q=cotton")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0].ID)
}

func TestGet(t *testing.T) {
	s := testServer(t)

	rr := get(t, s, "/api/items/a1")
	require.Equal(t, http.StatusOK, rr.Code)
	var view ItemView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "alpha textile", view.Seller)
	assert.Equal(t, 5, view.Quantity)

	rr = get(t, s, "/api/items/ghost")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealth(t *testing.T) {
	rr := get(t, testServer(t), "/api/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok"`)
}

func TestUpdate_ReplacesSnapshot(t *testing.T) {
	s := testServer(t)
	s.Update(nil)

	rr := get(t, s, "/api/items")
	var items []ItemView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
	assert.Empty(t, items)
}

// Package httpapi serves a read-only status view of the working set. The
// engine owns the item store on its single worker; the API reads from a
// snapshot the serve loop refreshes after each cycle, so no request ever
// races a dispatch.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/swatchline/dispatch/internal/item"
)

// ItemView is the wire form of one item.
type ItemView struct {
	ID          string `json:"id"`
	Seller      string `json:"seller"`
	OrderNumber string `json:"order_number"`
	Product     string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Status      string `json:"status"`
	LastError   string `json:"last_error,omitempty"`
	Revision    string `json:"revision,omitempty"`
}

// Server is the read-only status API.
type Server struct {
	Router *mux.Router

	mu    sync.RWMutex
	items map[string]ItemView
}

// NewServer creates a server with an empty snapshot.
func NewServer() *Server {
	s := &Server{
		Router: mux.NewRouter(),
		items:  make(map[string]ItemView),
	}
	s.Router.HandleFunc("/api/items", s.handleList).Methods(http.MethodGet)
	s.Router.HandleFunc("/api/items/{id}", s.handleGet).Methods(http.MethodGet)
	s.Router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	return s
}

// Update replaces the snapshot. Called by the serve loop after each load
// and each cycle.
func (s *Server) Update(items []*item.Item) {
	next := make(map[string]ItemView, len(items))
	for _, it := range items {
		view := ItemView{
			ID:          it.ID,
			Seller:      it.Seller,
			OrderNumber: it.OrderNumber,
			Product:     it.Product,
			Quantity:    it.Quantity,
			Status:      string(it.Status),
			Revision:    it.Revision,
		}
		if it.LastError != nil {
			view.LastError = it.LastError.Class + ": " + it.LastError.Message
		}
		next[it.ID] = view
	}

	s.mu.Lock()
	s.items = next
	s.mu.Unlock()
	slog.Debug("status snapshot refreshed", "items", len(next))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	q := strings.ToLower(r.URL.Query().Get("q"))

	s.mu.RLock()
	out := make([]ItemView, 0, len(s.items))
	for _, view := range s.items {
		if status != "" && view.Status != status {
			continue
		}
		if q != "" && !matches(view, q) {
			continue
		}
		out = append(out, view)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	view, ok := s.items[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	n := len(s.items)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "items": n})
}

func matches(view ItemView, q string) bool {
	return strings.Contains(strings.ToLower(view.Seller), q) ||
		strings.Contains(strings.ToLower(view.OrderNumber), q) ||
		strings.Contains(strings.ToLower(view.Product), q)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("status response encode failed", "err", err)
	}
}

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Monitor serves the scalar store over HTTP. It only reads the store and
// never touches training state.
type Monitor struct {
	store  *Store
	router *mux.Router
	server *http.Server
	logger *slog.Logger
}

// NewMonitor builds the router for store.
func NewMonitor(store *Store, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{store: store, router: mux.NewRouter(), logger: logger}
	m.setupRoutes()
	return m
}

func (m *Monitor) setupRoutes() {
	m.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	api := m.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/status", m.getStatus).Methods("GET")
	api.HandleFunc("/scalars", m.listScalars).Methods("GET")
	api.HandleFunc("/scalars/{tag:.+}", m.getScalar).Methods("GET")
}

// Handler returns the HTTP handler.
func (m *Monitor) Handler() http.Handler { return m.router }

func (m *Monitor) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.store.Status())
}

func (m *Monitor) listScalars(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": m.store.Tags()})
}

// getScalar returns one series. The optional since query parameter drops
// points with a smaller step.
func (m *Monitor) getScalar(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	points, ok := m.store.Series(tag)
	if !ok {
		http.Error(w, "Unknown tag: "+tag, http.StatusNotFound)
		return
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
		filtered := points[:0]
		for _, p := range points {
			if p.Step >= since {
				filtered = append(filtered, p)
			}
		}
		points = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tag": tag, "points": points})
}

// Start listens on addr in a background goroutine.
func (m *Monitor) Start(addr string) {
	m.server = &http.Server{
		Addr:              addr,
		Handler:           m.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		m.logger.Info("metrics monitor listening", "addr", addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics monitor stopped", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down metrics monitor: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Package server exposes the item store over HTTP and pushes every change
// to websocket subscribers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"stash/internal/feed"
	"stash/internal/realtime"
	"stash/internal/remote"
	"stash/internal/storage"
)

const maxPageSize = 200

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stash_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stash_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

type Server struct {
	store    *storage.Store
	hub      *Hub
	log      *slog.Logger
	pageSize int
	reject   func() bool
	now      func() time.Time
	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 && n <= maxPageSize {
			s.pageSize = n
		}
	}
}

// WithRejectRate makes the fraction rate of item writes fail with 503, so
// clients can be exercised against a flaky server.
func WithRejectRate(rate float64, seed int64) Option {
	return func(s *Server) {
		if rate <= 0 {
			s.reject = nil
			return
		}
		var mu sync.Mutex
		r := rand.New(rand.NewSource(seed))
		s.reject = func() bool {
			mu.Lock()
			defer mu.Unlock()
			return r.Float64() < rate
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(store *storage.Store, opts ...Option) *Server {
	s := &Server{
		store:    store,
		log:      slog.Default(),
		pageSize: 50,
		now:      time.Now,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.log)
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	r.Methods(http.MethodGet).Path("/items").HandlerFunc(s.listItems)
	r.Methods(http.MethodPost).Path("/items").HandlerFunc(s.createItem)
	r.Methods(http.MethodPatch).Path("/items/{id}").HandlerFunc(s.patchItem)
	r.Methods(http.MethodDelete).Path("/items/{id}").HandlerFunc(s.deleteItem)
	r.Methods(http.MethodGet).Path("/realtime").HandlerFunc(s.subscribe)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(m.Code)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(m.Duration.Seconds())
		s.log.Info("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := feed.ParseFilter(q.Get("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		http.Error(w, "bad offset", http.StatusBadRequest)
		return
	}
	limit, err := intParam(q.Get("limit"), s.pageSize)
	if err != nil || limit <= 0 {
		http.Error(w, "bad limit", http.StatusBadRequest)
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	items, err := s.store.Query(r.Context(), f, offset, limit)
	if err != nil {
		s.fail(w, "query", err)
		return
	}
	writeJSON(w, http.StatusOK, remote.Page{Items: items, Next: offset + len(items)})
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var p feed.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	it := realtime.NewItem(p.ID, p)
	if it.CreatedAt.IsZero() {
		it.CreatedAt = s.now().UTC()
	}
	if s.rejected(w) {
		return
	}
	inserted, err := s.store.Insert(r.Context(), it)
	if err != nil {
		s.fail(w, "insert", err)
		return
	}
	if !inserted {
		// Retried capture: answer with what is stored.
		existing, err := s.store.Get(r.Context(), it.ID)
		if err != nil {
			s.fail(w, "insert", err)
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}
	s.hub.Broadcast(realtime.ItemNotification(realtime.KindInsert, it))
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) patchItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p feed.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.ID != "" && p.ID != id {
		http.Error(w, "id mismatch", http.StatusBadRequest)
		return
	}
	if s.rejected(w) {
		return
	}
	it, err := s.store.Patch(r.Context(), id, p)
	if errors.Is(err, feed.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, "patch", err)
		return
	}
	s.hub.Broadcast(realtime.ItemNotification(realtime.KindUpdate, it))
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.rejected(w) {
		return
	}
	err := s.store.Delete(r.Context(), id)
	if errors.Is(err, feed.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, "delete", err)
		return
	}
	s.hub.Broadcast(realtime.Notification{Kind: realtime.KindDelete, Table: realtime.DefaultTable, ID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade", "err", err)
		return
	}
	s.hub.serve(r.Context(), conn)
}

func (s *Server) rejected(w http.ResponseWriter) bool {
	if s.reject == nil || !s.reject() {
		return false
	}
	http.Error(w, "injected failure", http.StatusServiceUnavailable)
	return true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", "op", op, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

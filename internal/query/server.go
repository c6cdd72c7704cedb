package query

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"ramprails/internal/config"
	"ramprails/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Server is the read-only projection of indexed entities. All mutation goes
// through the chain; nothing here writes.
type Server struct {
	cfg         *config.AppConfig
	store       store.Store
	metrics     *Metrics
	httpServer  *http.Server
	log         *logrus.Entry
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, st store.Store, metrics *Metrics, log *logrus.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		metrics: metrics,
		log:     log.WithField("component", "query"),
	}

	if checker, ok := st.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/offramps", s.handleOffRamps)
	mux.HandleFunc("/api/v1/onramps", s.handleOnRamps)
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/operators", s.handleOperators)
	mux.HandleFunc("/api/v1/mints", s.ledgerHandler("mints", store.LedgerMint))
	mux.HandleFunc("/api/v1/withdraws", s.ledgerHandler("withdraws", store.LedgerWithdraw))
	mux.HandleFunc("/api/v1/transfers", s.ledgerHandler("transfers", store.LedgerTransfer))
	mux.HandleFunc("/api/v1/stakes", s.ledgerHandler("stakes", store.LedgerStake))
	mux.Handle("/api/v1/metrics", metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// SetRPCHealth wires the chain client's probe into the health handler.
func (s *Server) SetRPCHealth(fn func(context.Context) error) {
	s.rpcHealthFn = fn
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("query API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOffRamps(w http.ResponseWriter, r *http.Request) {
	if !readOnly(w, r) {
		return
	}
	out, err := s.store.ListOffRamps(r.Context(), filterFrom(r))
	if err != nil {
		http.Error(w, "query failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.incQuery("offramps")
	writeJSON(w, out)
}

// onRampView adds the field-derived status; the stored legacy annotation is
// deliberately not what readers see.
type onRampView struct {
	store.OnRampRequest
	Status store.OnRampStatus `json:"status"`
}

func (s *Server) handleOnRamps(w http.ResponseWriter, r *http.Request) {
	if !readOnly(w, r) {
		return
	}
	entities, err := s.store.ListOnRamps(r.Context(), filterFrom(r))
	if err != nil {
		http.Error(w, "query failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]onRampView, 0, len(entities))
	for _, e := range entities {
		views = append(views, onRampView{OnRampRequest: *e, Status: store.DeriveOnRampStatus(e)})
	}
	s.metrics.incQuery("onramps")
	writeJSON(w, views)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !readOnly(w, r) {
		return
	}
	out, err := s.store.ListTasks(r.Context(), filterFrom(r))
	if err != nil {
		http.Error(w, "query failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.incQuery("tasks")
	writeJSON(w, out)
}

func (s *Server) handleOperators(w http.ResponseWriter, r *http.Request) {
	if !readOnly(w, r) {
		return
	}
	out, err := s.store.ListOperators(r.Context())
	if err != nil {
		http.Error(w, "query failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.incQuery("operators")
	writeJSON(w, out)
}

func (s *Server) ledgerHandler(name string, kind store.LedgerKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readOnly(w, r) {
			return
		}
		out, err := s.store.ListLedger(r.Context(), kind, filterFrom(r))
		if err != nil {
			http.Error(w, "query failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.metrics.incQuery(name)
		writeJSON(w, out)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func readOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func filterFrom(r *http.Request) store.Filter {
	return store.Filter{User: r.URL.Query().Get("user")}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		next.ServeHTTP(w, r)
	})
}

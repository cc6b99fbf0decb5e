package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/enricher/internal/store"
	"github.com/nexus-trading/enricher/internal/token"
)

// StoreReader is the read side of the token store served over HTTP.
type StoreReader interface {
	Get(ctx context.Context, address string) (*token.Token, error)
	Snapshots(ctx context.Context, address string) ([]store.Snapshot, error)
	RecentScans(ctx context.Context, pipeline string, limit int) ([]store.ScanRecord, error)
	StatusCounts(ctx context.Context) (map[token.Status]int64, error)
}

// ServerDeps wires the status server. Metrics, Store and Stop are optional.
type ServerDeps struct {
	Health  *HealthMonitor
	Metrics *Metrics
	Store   StoreReader

	// Stop is invoked by POST /control/stop.
	Stop func()
}

// Server is the status HTTP server: health, metrics, pipelines, scans and
// token lookups.
type Server struct {
	deps   ServerDeps
	server *http.Server
}

// NewServer builds the server listening on addr.
func NewServer(addr string, deps ServerDeps) *Server {
	s := &Server{deps: deps}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/pipelines", s.handlePipelines).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.deps.Store != nil {
		r.HandleFunc("/scans", s.handleScans).Methods(http.MethodGet)
		r.HandleFunc("/statuses", s.handleStatuses).Methods(http.MethodGet)
		r.HandleFunc("/tokens/{address}", s.handleToken).Methods(http.MethodGet)
		r.HandleFunc("/tokens/{address}/snapshots", s.handleSnapshots).Methods(http.MethodGet)
	}
	if s.deps.Stop != nil {
		r.HandleFunc("/control/stop", s.handleStop).Methods(http.MethodPost)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("observability: server shutdown")
		}
	}()

	log.Info().Str("addr", s.server.Addr).Msg("observability: status server started")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if h.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handlePipelines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.Pipelines())
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	pipeline := q.Get("pipeline")
	if pipeline != "" {
		src, err := token.ParseSource(pipeline)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		pipeline = string(src)
	}
	scans, err := s.deps.Store.RecentScans(r.Context(), pipeline, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Store.StatusCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	address, ok := addressVar(w, r)
	if !ok {
		return
	}
	t, err := s.deps.Store.Get(r.Context(), address)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	address, ok := addressVar(w, r)
	if !ok {
		return
	}
	snaps, err := s.deps.Store.Snapshots(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	log.Warn().Msg("observability: stop requested over HTTP")
	s.deps.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func addressVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := mux.Vars(r)["address"]
	if err := token.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return address, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("observability: write response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

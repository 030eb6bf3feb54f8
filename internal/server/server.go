package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"loyaltymint/internal/config"
	"loyaltymint/internal/hmacauth"
	"loyaltymint/internal/journal"
	"loyaltymint/internal/mint"
	"loyaltymint/internal/node"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxMintBody = 64 << 10

	idempotencyHeader = "X-Idempotency-Key"
	replayHeader      = "X-Idempotent-Replay"
)

// Deps are the collaborators a Server wires into its orchestrator.
type Deps struct {
	Config   *config.AppConfig
	Signer   mint.Signer
	Executor mint.Executor
	Journal  journal.Store
	Logger   zerolog.Logger
}

// Server exposes the mint pipeline over HTTP and presents its outcomes
// to the journal and metrics.
type Server struct {
	cfg         *config.AppConfig
	orch        *mint.Orchestrator
	journal     journal.Store
	hmac        *hmacauth.Verifier
	limiter     *clientLimiter
	httpServer  *http.Server
	metrics     *metricsRegistry
	logger      zerolog.Logger
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error

	keysMu     sync.Mutex
	activeKeys map[string]struct{}
}

var (
	_ mint.Presenter        = (*Server)(nil)
	_ mint.ProgressObserver = (*Server)(nil)
)

func NewServer(d Deps) (*Server, error) {
	if d.Config == nil {
		return nil, errors.New("config is required")
	}
	if d.Journal == nil {
		return nil, errors.New("journal is required")
	}
	cfg := d.Config

	s := &Server{
		cfg:     cfg,
		journal: d.Journal,
		hmac: &hmacauth.Verifier{
			Secret:       cfg.Service.HMACSecret,
			MaxSkew:      cfg.Service.HMACClockSkew,
			MaxBodyBytes: maxMintBody,
		},
		limiter:    newClientLimiter(cfg.Service.MintRate, cfg.Service.MintBurst),
		metrics:    newMetricsRegistry(),
		logger:     d.Logger.With().Str("component", "http").Logger(),
		activeKeys: make(map[string]struct{}),
	}

	orch, err := mint.NewOrchestrator(mint.Config{
		Target:    cfg.Target,
		Network:   cfg.Network,
		Signer:    d.Signer,
		Executor:  d.Executor,
		Presenter: s,
		Logger:    d.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.orch = orch

	if checker, ok := d.Journal.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := d.Executor.(node.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/mints", s.hmac.Middleware(http.HandlerFunc(s.handleMint)))
	mux.HandleFunc("GET /api/v1/mints", s.handleListMints)
	mux.HandleFunc("GET /api/v1/mints/current", s.handleCurrentMint)
	mux.HandleFunc("GET /api/v1/mints/{attemptID}", s.handleGetMint)
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Str("target", s.cfg.Target.String()).
		Str("network", s.cfg.Network).
		Msg("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// OnOutcome records a finished attempt.
func (s *Server) OnOutcome(o mint.Outcome) {
	s.metrics.observeOutcome(o)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.journal.Save(ctx, o); err != nil {
		s.metrics.incJournalError()
		s.logger.Error().Err(err).Str("attempt", o.AttemptID).Msg("journal save failed")
	}
}

// OnStateChange tracks whether an attempt is running.
func (s *Server) OnStateChange(_ string, state mint.State) {
	s.metrics.setInFlight(state != mint.StateDone && state != mint.StateIdle)
}

type mintResponse struct {
	mint.Outcome
	Target  string `json:"target,omitempty"`
	Network string `json:"network,omitempty"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientKey(r), time.Now()) {
		s.metrics.incRejected("throttled")
		http.Error(w, "too many mint requests", http.StatusTooManyRequests)
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		s.metrics.incRejected("missing_key")
		http.Error(w, "missing "+idempotencyHeader+" header", http.StatusBadRequest)
		return
	}
	if !s.claimKey(key) {
		s.metrics.incRejected("key_in_flight")
		http.Error(w, "a mint with this idempotency key is in progress", http.StatusConflict)
		return
	}
	defer s.releaseKey(key)

	ctx := r.Context()
	prior, err := s.journal.ByKey(ctx, key)
	if err != nil {
		http.Error(w, "journal lookup failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if prior != nil && s.replayable(*prior, time.Now()) {
		s.metrics.incReplayed()
		w.Header().Set(replayHeader, "true")
		s.writeOutcome(w, *prior)
		return
	}

	var payload mint.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMintBody)).Decode(&payload); err != nil {
		s.metrics.incRejected("bad_json")
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	payload.IdempotencyKey = key

	outcome, err := s.orch.Mint(ctx, payload)
	if mint.ReasonOf(err) == mint.ReasonAlreadyInFlight {
		s.metrics.incRejected("in_flight")
	}
	s.writeOutcome(w, outcome)
}

func (s *Server) writeOutcome(w http.ResponseWriter, o mint.Outcome) {
	writeJSON(w, statusFor(o), mintResponse{
		Outcome: o,
		Target:  s.cfg.Target.String(),
		Network: s.cfg.Network,
	})
}

// replayable reports whether a journaled outcome answers a repeated key.
// Attempts that never reached the node are not replayed, so a caller can
// fix the request or approve in the wallet and try again with the same key.
func (s *Server) replayable(o mint.Outcome, now time.Time) bool {
	if window := s.cfg.Service.IdempotencyWindow; window > 0 && now.Sub(o.FinishedAt) > window {
		return false
	}
	switch o.Reason {
	case mint.ReasonInvalidRequest, mint.ReasonSigningRejected:
		return false
	}
	return true
}

func (s *Server) claimKey(key string) bool {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if _, busy := s.activeKeys[key]; busy {
		return false
	}
	s.activeKeys[key] = struct{}{}
	return true
}

func (s *Server) releaseKey(key string) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	delete(s.activeKeys, key)
}

func statusFor(o mint.Outcome) int {
	if o.Status == mint.StatusSucceeded {
		return http.StatusCreated
	}
	switch o.Reason {
	case mint.ReasonInvalidRequest:
		return http.StatusBadRequest
	case mint.ReasonAlreadyInFlight:
		return http.StatusConflict
	case mint.ReasonSigningRejected:
		return http.StatusForbidden
	case mint.ReasonNetworkError:
		return http.StatusBadGateway
	case mint.ReasonExecutionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetMint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("attemptID")
	rec, err := s.journal.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "journal lookup failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "attempt not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListMints(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	list, err := s.journal.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "journal list failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []mint.Outcome{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCurrentMint(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		State   mint.State    `json:"state"`
		Current *mint.Outcome `json:"current,omitempty"`
		Last    *mint.Outcome `json:"last,omitempty"`
	}{
		State: s.orch.State(),
	}
	if cur, ok := s.orch.Current(); ok {
		resp.Current = &cur
	}
	if last, ok := s.orch.Last(); ok {
		resp.Last = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.LatencyMs = elapsedSince(start)
		}
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
	code := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status    string     `json:"status"`
		RPC       any        `json:"rpc"`
		Journal   any        `json:"journal"`
		MintState mint.State `json:"mint_state"`
	}{
		Status:    status,
		RPC:       rpcInfo,
		Journal:   dbInfo,
		MintState: s.orch.State(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

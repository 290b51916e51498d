// Package api exposes the service's HTTP surface: health, metrics, scheduler
// status, manual scans and single-token eligibility/evolution.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"evonft-service/internal/domain"
	"evonft-service/internal/observability"
	"evonft-service/internal/scheduler"
	"evonft-service/internal/storage"
)

const (
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 64 << 10
	// maxBatchTokens bounds /evolve/batch.
	maxBatchTokens = 25
)

// Scanner is the scheduler surface used by the API.
type Scanner interface {
	RunScan(ctx context.Context, trigger string) (*scheduler.ScanReport, error)
	Status() scheduler.Status
}

// Evolver is the orchestrator surface used by the API.
type Evolver interface {
	CheckEligibility(ctx context.Context, tokenID uint64, signals domain.Signals) domain.EligibilityVerdict
	EvolveToken(ctx context.Context, tokenID uint64, signals domain.Signals) domain.EvolveResult
	Authorize(ctx context.Context, tokenID uint64, signals domain.Signals) (*domain.EvolutionAuthorization, domain.EvolveResult)
}

// Batcher evolves a list of tokens with scan pacing.
type Batcher interface {
	BatchEvolve(ctx context.Context, tokenIDs []uint64, signals map[uint64]domain.Signals) []domain.EvolveResult
}

// Options for creating Server.
type Options struct {
	Scanner  Scanner
	Evolver  Evolver
	Batcher  Batcher              // optional, enables /evolve/batch
	Attempts storage.AttemptStore // optional, enables /attempts
	Metrics  http.Handler         // defaults to observability.Handler()
	Logger   *log.Logger
	// Background is the context manual async scans run under; it outlives
	// the triggering request.
	Background context.Context
}

// Server serves the HTTP API.
type Server struct {
	scanner  Scanner
	evolver  Evolver
	batcher  Batcher
	attempts storage.AttemptStore
	metrics  http.Handler
	logger   *log.Logger
	bg       context.Context
	started  time.Time

	wg sync.WaitGroup
}

// New creates a new Server.
func New(opts Options) *Server {
	s := &Server{
		scanner:  opts.Scanner,
		evolver:  opts.Evolver,
		batcher:  opts.Batcher,
		attempts: opts.Attempts,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		bg:       opts.Background,
		started:  time.Now(),
	}
	if s.metrics == nil {
		s.metrics = observability.Handler()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.bg == nil {
		s.bg = context.Background()
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", s.metrics)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /scan", s.handleScan)
	mux.HandleFunc("GET /eligibility", s.handleEligibility)
	mux.HandleFunc("POST /evolve", s.handleEvolve)
	mux.HandleFunc("POST /evolve/batch", s.handleBatchEvolve)
	mux.HandleFunc("POST /authorize", s.handleAuthorize)
	mux.HandleFunc("GET /attempts", s.handleAttempts)

	return mux
}

// Wait blocks until background scans started through the API return.
func (s *Server) Wait() {
	s.wg.Wait()
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status    string           `json:"status"`
	Uptime    string           `json:"uptime"`
	StartedAt time.Time        `json:"started_at"`
	Scheduler scheduler.Status `json:"scheduler"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    "running",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		StartedAt: s.started,
		Scheduler: s.scanner.Status(),
	})
}

// handleScan triggers a manual scan. By default the scan runs in the
// background and 202 is returned; ?wait=true runs it inline and returns the
// report. A scan already in flight yields 409.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner.Status().Scanning {
		writeError(w, http.StatusConflict, scheduler.ErrScanInProgress)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		report, err := s.scanner.RunScan(r.Context(), scheduler.TriggerManual)
		if err != nil {
			writeError(w, scanErrorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report, err := s.scanner.RunScan(s.bg, scheduler.TriggerManual)
		if err != nil {
			s.logger.Printf("[api] manual scan: %v", err)
			return
		}
		s.logger.Printf("[api] manual scan %s: processed=%d succeeded=%d failed=%d",
			report.RunID, report.Processed, report.Succeeded, report.Failed)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
}

func scanErrorStatus(err error) int {
	if errors.Is(err, scheduler.ErrScanInProgress) || errors.Is(err, scheduler.ErrLeaseHeld) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// handleEligibility evaluates ?tokenId= with signals from the query string.
// Missing or malformed signal values count as zero.
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenID, err := parseTokenID(q.Get("tokenId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	values := make(map[string]string, len(q))
	for k := range q {
		values[k] = q.Get(k)
	}
	signals := domain.ParseSignals(values)

	verdict := s.evolver.CheckEligibility(r.Context(), tokenID, signals)
	writeJSON(w, http.StatusOK, verdict)
}

// EvolveRequest is the body of /evolve and /authorize.
type EvolveRequest struct {
	TokenID *uint64         `json:"tokenId"`
	Signals json.RawMessage `json:"signals"`
}

func (s *Server) decodeEvolveRequest(w http.ResponseWriter, r *http.Request) (uint64, domain.Signals, bool) {
	var req EvolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return 0, domain.Signals{}, false
	}
	if req.TokenID == nil {
		writeError(w, http.StatusBadRequest, errors.New("tokenId is required"))
		return 0, domain.Signals{}, false
	}
	signals, err := domain.DecodeSignals(req.Signals)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, domain.Signals{}, false
	}
	return *req.TokenID, signals, true
}

// handleEvolve runs one on-demand evolution. The result is returned with
// 200 whether or not the evolution succeeded.
func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	tokenID, signals, ok := s.decodeEvolveRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.evolver.EvolveToken(r.Context(), tokenID, signals))
}

// BatchEvolveRequest is the body of /evolve/batch. Signals are keyed by
// decimal token id; tokens without an entry use the scan signals.
type BatchEvolveRequest struct {
	TokenIDs []uint64                   `json:"tokenIds"`
	Signals  map[string]json.RawMessage `json:"signals"`
}

// BatchEvolveResponse lists one result per requested token, in order.
type BatchEvolveResponse struct {
	Results   []domain.EvolveResult `json:"results"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
}

func (s *Server) handleBatchEvolve(w http.ResponseWriter, r *http.Request) {
	if s.batcher == nil {
		writeError(w, http.StatusNotFound, errors.New("batch evolution disabled"))
		return
	}
	var req BatchEvolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.TokenIDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("tokenIds is required"))
		return
	}
	if len(req.TokenIDs) > maxBatchTokens {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at most %d tokenIds per batch", maxBatchTokens))
		return
	}

	signals := make(map[uint64]domain.Signals, len(req.Signals))
	for key, raw := range req.Signals {
		id, err := parseTokenID(key)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("signals: %w", err))
			return
		}
		sig, err := domain.DecodeSignals(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("signals for token %d: %w", id, err))
			return
		}
		signals[id] = sig
	}

	resp := BatchEvolveResponse{Results: s.batcher.BatchEvolve(r.Context(), req.TokenIDs, signals)}
	for _, res := range resp.Results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AuthorizationResponse carries a signed authorization for the caller to relay.
type AuthorizationResponse struct {
	Result        domain.EvolveResult `json:"result"`
	Authorization *AuthorizationJSON  `json:"authorization,omitempty"`
}

// AuthorizationJSON is the wire form of domain.EvolutionAuthorization.
type AuthorizationJSON struct {
	TokenID   uint64 `json:"tokenId"`
	NewURI    string `json:"newUri"`
	Nonce     string `json:"nonce"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	tokenID, signals, ok := s.decodeEvolveRequest(w, r)
	if !ok {
		return
	}
	auth, res := s.evolver.Authorize(r.Context(), tokenID, signals)
	resp := AuthorizationResponse{Result: res}
	if auth != nil {
		resp.Authorization = &AuthorizationJSON{
			TokenID:   auth.TokenID,
			NewURI:    auth.NewURI,
			Nonce:     auth.Nonce.String(),
			Deadline:  auth.Deadline,
			Signature: hexutil.Encode(auth.Signature),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.attempts == nil {
		writeError(w, http.StatusNotFound, errors.New("attempt history disabled"))
		return
	}
	q := r.URL.Query()
	tokenID, err := parseTokenID(q.Get("tokenId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := 20
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
	}

	attempts, err := s.attempts.GetByToken(r.Context(), tokenID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if attempts == nil {
		attempts = []*domain.EvolutionAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func parseTokenID(raw string) (uint64, error) {
	if raw == "" {
		return 0, errors.New("tokenId is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tokenId %q", raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

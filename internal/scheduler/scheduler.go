// Package scheduler periodically scans the collection and evolves eligible
// tokens in small, paced batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"evonft-service/internal/domain"
	"evonft-service/internal/events"
	"evonft-service/internal/observability"
	"evonft-service/internal/storage"
)

// Scan triggers.
const (
	TriggerWarmup    = "warmup"
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Defaults.
const (
	DefaultBatchSize = 10
	DefaultInterval  = time.Hour
)

var (
	// ErrScanInProgress is returned when a scan is already running in this process.
	ErrScanInProgress = errors.New("scan already in progress")

	// ErrLeaseHeld is returned when another replica holds the scan lease.
	ErrLeaseHeld = errors.New("scan lease held by another replica")
)

// Ledger is the read surface the scan needs.
type Ledger interface {
	TotalMinted(ctx context.Context) (uint64, error)
	CooldownPassed(ctx context.Context, tokenID uint64) (bool, error)
}

// Evolver runs evolution attempts.
type Evolver interface {
	EvolveToken(ctx context.Context, tokenID uint64, signals domain.Signals) domain.EvolveResult
	EvolveInScan(ctx context.Context, runID string, tokenID uint64, signals domain.Signals) domain.EvolveResult
}

// Options for creating Scheduler.
type Options struct {
	Ledger  Ledger
	Evolver Evolver

	Runs   storage.ScanRunStore // optional
	Events events.Publisher     // optional
	Lease  Lease                // optional, cross-replica guard
	Pacer  Pacer                // defaults to NewPacer(ItemDelay, nil)

	BatchSize int
	Interval  time.Duration
	// ItemDelay is the quiet period after each token; zero disables pacing.
	ItemDelay time.Duration
	// WarmupDelay is the wait before the warm-up scan; zero scans at once.
	WarmupDelay time.Duration
	Signals     *domain.Signals // defaults to domain.DefaultScanSignals

	Metrics *observability.Metrics
	Now     func() time.Time
	Logger  *log.Logger
	Verbose bool
}

// ScanReport is the outcome of one scan.
type ScanReport struct {
	domain.ScanRun
	Results []domain.EvolveResult `json:"results"`
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Scanning   bool            `json:"scanning"`
	LastScan   *domain.ScanRun `json:"lastScan,omitempty"`
	NextScanAt int64           `json:"nextScanAt,omitempty"` // ms
	BatchSize  int             `json:"batchSize"`
	Interval   string          `json:"interval"`
}

// Scheduler drives periodic scans. At most one scan runs at a time per
// process regardless of trigger.
type Scheduler struct {
	ledger  Ledger
	evolver Evolver
	runs    storage.ScanRunStore
	events  events.Publisher
	lease   Lease
	pacer   Pacer

	batchSize   int
	interval    time.Duration
	warmupDelay time.Duration
	signals     domain.Signals

	metrics *observability.Metrics
	now     func() time.Time
	logger  *log.Logger
	verbose bool

	mu         sync.Mutex
	scanning   bool
	last       *domain.ScanRun
	nextScanAt time.Time
}

// New creates a new Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if opts.Evolver == nil {
		return nil, errors.New("evolver is required")
	}

	s := &Scheduler{
		ledger:      opts.Ledger,
		evolver:     opts.Evolver,
		runs:        opts.Runs,
		events:      opts.Events,
		lease:       opts.Lease,
		pacer:       opts.Pacer,
		batchSize:   opts.BatchSize,
		interval:    opts.Interval,
		warmupDelay: opts.WarmupDelay,
		signals:     domain.DefaultScanSignals,
		metrics:     opts.Metrics,
		now:         opts.Now,
		logger:      opts.Logger,
		verbose:     opts.Verbose,
	}
	if opts.Signals != nil {
		s.signals = opts.Signals.Normalize()
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.warmupDelay < 0 {
		s.warmupDelay = 0
	}
	if s.pacer == nil {
		s.pacer = NewPacer(opts.ItemDelay, nil)
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.metrics == nil {
		s.metrics = observability.DefaultMetrics
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s, nil
}

// Run performs a warm-up scan shortly after start, then one scan per
// interval, until ctx is done. Scan errors are logged, never returned.
func (s *Scheduler) Run(ctx context.Context) error {
	warmup := time.NewTimer(s.warmupDelay)
	defer warmup.Stop()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextScan(s.now().Add(s.warmupDelay))
	s.logger.Printf("[scheduler] started: warm-up in %s, then every %s (batch %d)", s.warmupDelay, s.interval, s.batchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[scheduler] stopped")
			return nil
		case <-warmup.C:
			s.setNextScan(s.now().Add(s.interval))
			s.trigger(ctx, TriggerWarmup)
		case <-ticker.C:
			s.setNextScan(s.now().Add(s.interval))
			s.trigger(ctx, TriggerScheduled)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, trigger string) {
	report, err := s.RunScan(ctx, trigger)
	if err != nil {
		s.logger.Printf("[scheduler] %s scan: %v", trigger, err)
		return
	}
	s.logger.Printf("[scheduler] %s scan %s: total=%d eligible=%d processed=%d succeeded=%d failed=%d",
		trigger, report.RunID, report.TotalTokens, report.Eligible, report.Processed, report.Succeeded, report.Failed)
}

// RunScan scans the collection once. It returns ErrScanInProgress without
// doing anything when a scan is already running.
func (s *Scheduler) RunScan(ctx context.Context, trigger string) (*ScanReport, error) {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		s.log("%s scan skipped: %v", trigger, ErrScanInProgress)
		s.metrics.RecordScan(trigger, "skipped", 0, 0)
		return nil, ErrScanInProgress
	}
	s.scanning = true
	s.mu.Unlock()

	s.metrics.SetScanInProgress(true)
	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
		s.metrics.SetScanInProgress(false)
	}()

	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx)
		if err != nil {
			s.metrics.RecordScan(trigger, "skipped", 0, 0)
			return nil, err
		}
		if !ok {
			s.metrics.RecordScan(trigger, "skipped", 0, 0)
			return nil, ErrLeaseHeld
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Printf("[scheduler] %v", err)
			}
		}()
	}

	return s.scan(ctx, trigger), nil
}

func (s *Scheduler) scan(ctx context.Context, trigger string) *ScanReport {
	start := time.Now()
	report := &ScanReport{ScanRun: domain.ScanRun{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.now().UnixMilli(),
	}}
	run := &report.ScanRun

	if s.runs != nil {
		if err := s.runs.Insert(ctx, run); err != nil {
			s.logger.Printf("[scheduler] store scan run %s: %v", run.RunID, err)
		}
	}

	eligible, err := s.discover(ctx, run)
	if err != nil {
		run.Error = err.Error()
	}
	run.Eligible = len(eligible)
	if len(eligible) > s.batchSize {
		eligible = eligible[:s.batchSize]
	}
	s.log("scan %s: %d eligible of %d, processing %d", run.RunID, run.Eligible, run.TotalTokens, len(eligible))

	for _, tokenID := range eligible {
		if err := s.pacer.Wait(ctx); err != nil {
			run.Error = fmt.Sprintf("interrupted: %v", err)
			break
		}
		res := s.evolveOne(ctx, run.RunID, tokenID, s.signals)
		s.pacer.Done()
		report.Results = append(report.Results, res)
		run.Processed++
		if res.Success {
			run.Succeeded++
		} else {
			run.Failed++
		}
	}

	run.FinishedAt = s.now().UnixMilli()
	s.finish(context.WithoutCancel(ctx), report, time.Since(start))
	return report
}

// discover returns the ids whose cooldown has passed. Tokens whose check
// fails are skipped.
func (s *Scheduler) discover(ctx context.Context, run *domain.ScanRun) ([]uint64, error) {
	total, err := s.ledger.TotalMinted(ctx)
	if err != nil {
		return nil, fmt.Errorf("total minted: %w", err)
	}
	run.TotalTokens = int(total)

	var eligible []uint64
	for id := uint64(0); id < total; id++ {
		if err := ctx.Err(); err != nil {
			return eligible, err
		}
		ok, err := s.ledger.CooldownPassed(ctx, id)
		if err != nil {
			run.Skipped++
			s.log("token %d: skipped: %v", id, err)
			continue
		}
		if ok {
			eligible = append(eligible, id)
		}
	}
	return eligible, nil
}

// evolveOne isolates a single token so that nothing it does can abort the
// batch. An empty runID leaves the attempt unattributed.
func (s *Scheduler) evolveOne(ctx context.Context, runID string, tokenID uint64, signals domain.Signals) (res domain.EvolveResult) {
	defer func() {
		if r := recover(); r != nil {
			res = domain.EvolveResult{TokenID: tokenID, Error: fmt.Sprintf("evolution panicked: %v", r)}
		}
	}()
	if runID == "" {
		res = s.evolver.EvolveToken(ctx, tokenID, signals)
	} else {
		res = s.evolver.EvolveInScan(ctx, runID, tokenID, signals)
	}
	if !res.Success {
		s.log("token %d: %s%s", tokenID, res.Reason, res.Error)
	}
	return res
}

func (s *Scheduler) finish(ctx context.Context, report *ScanReport, elapsed time.Duration) {
	run := report.ScanRun
	status := "success"
	if run.Error != "" {
		status = "failed"
	}
	s.metrics.RecordScan(run.Trigger, status, elapsed.Seconds(), run.FinishedAt/1000)

	if s.runs != nil {
		if err := s.runs.Finish(ctx, &run); err != nil {
			s.logger.Printf("[scheduler] finish scan run %s: %v", run.RunID, err)
		}
	}
	if err := s.events.Publish(ctx, events.Event{
		Kind:       events.KindScan,
		ID:         run.RunID,
		OccurredAt: run.FinishedAt,
		ScanRunID:  run.RunID,
		Scan:       &run,
	}); err != nil {
		s.logger.Printf("[scheduler] publish scan event: %v", err)
	}

	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()
}

// BatchEvolve evolves the given tokens sequentially with the scan pacing.
// Tokens absent from signals use the default scan signals. It does not take
// the scan guard.
func (s *Scheduler) BatchEvolve(ctx context.Context, tokenIDs []uint64, signals map[uint64]domain.Signals) []domain.EvolveResult {
	results := make([]domain.EvolveResult, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if err := s.pacer.Wait(ctx); err != nil {
			results = append(results, domain.EvolveResult{TokenID: tokenID, Error: err.Error()})
			continue
		}
		sig, ok := signals[tokenID]
		if !ok {
			sig = s.signals
		}
		results = append(results, s.evolveOne(ctx, "", tokenID, sig))
		s.pacer.Done()
	}
	return results
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Scanning:  s.scanning,
		BatchSize: s.batchSize,
		Interval:  s.interval.String(),
	}
	if s.last != nil {
		last := *s.last
		st.LastScan = &last
	}
	if !s.nextScanAt.IsZero() {
		st.NextScanAt = s.nextScanAt.UnixMilli()
	}
	return st
}

func (s *Scheduler) setNextScan(t time.Time) {
	s.mu.Lock()
	s.nextScanAt = t
	s.mu.Unlock()
}

func (s *Scheduler) log(format string, args ...interface{}) {
	if s.verbose {
		s.logger.Printf("[scheduler] "+format, args...)
	}
}

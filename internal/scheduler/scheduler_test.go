package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evonft-service/internal/domain"
	"evonft-service/internal/events"
	"evonft-service/internal/observability"
	"evonft-service/internal/storage/memory"
)

type fakeLedger struct {
	total    uint64
	totalErr error
	blocked  map[uint64]bool  // cooldown not passed
	failing  map[uint64]error // read errors
}

func (l *fakeLedger) TotalMinted(context.Context) (uint64, error) {
	return l.total, l.totalErr
}

func (l *fakeLedger) CooldownPassed(_ context.Context, tokenID uint64) (bool, error) {
	if err, ok := l.failing[tokenID]; ok {
		return false, err
	}
	return !l.blocked[tokenID], nil
}

type call struct {
	runID   string
	tokenID uint64
	signals domain.Signals
}

type fakeEvolver struct {
	mu      sync.Mutex
	calls   []call
	fail    map[uint64]bool
	panics  map[uint64]bool
	entered chan uint64   // optional, signalled on entry
	release chan struct{} // optional, blocks until closed
}

func (e *fakeEvolver) EvolveToken(ctx context.Context, tokenID uint64, signals domain.Signals) domain.EvolveResult {
	return e.EvolveInScan(ctx, "", tokenID, signals)
}

func (e *fakeEvolver) EvolveInScan(_ context.Context, runID string, tokenID uint64, signals domain.Signals) domain.EvolveResult {
	e.mu.Lock()
	e.calls = append(e.calls, call{runID: runID, tokenID: tokenID, signals: signals})
	e.mu.Unlock()

	if e.entered != nil {
		e.entered <- tokenID
	}
	if e.release != nil {
		<-e.release
	}
	if e.panics[tokenID] {
		panic("boom")
	}
	if e.fail[tokenID] {
		return domain.EvolveResult{TokenID: tokenID, Error: "ledger failure: reverted"}
	}
	return domain.EvolveResult{TokenID: tokenID, Success: true, Tx: &domain.TxReceipt{Status: 1}}
}

func (e *fakeEvolver) Calls() []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]call(nil), e.calls...)
}

type countingPacer struct {
	mu    sync.Mutex
	waits int
	dones int
	err   error
}

func (p *countingPacer) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dones++
}

func (p *countingPacer) Wait(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return p.err
}

func newTestScheduler(t *testing.T, l *fakeLedger, e *fakeEvolver, mutate ...func(*Options)) *Scheduler {
	t.Helper()
	opts := Options{
		Ledger:  l,
		Evolver: e,
		Pacer:   &countingPacer{},
		Metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func TestRunScan_ProcessesEligibleBatch(t *testing.T) {
	l := &fakeLedger{
		total:   15,
		blocked: map[uint64]bool{0: true, 3: true},
		failing: map[uint64]error{5: errors.New("nonexistent token")},
	}
	e := &fakeEvolver{fail: map[uint64]bool{2: true}}
	pacer := &countingPacer{}
	s := newTestScheduler(t, l, e, func(o *Options) { o.Pacer = pacer })

	report, err := s.RunScan(context.Background(), TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 15, report.TotalTokens)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 12, report.Eligible)
	assert.Equal(t, DefaultBatchSize, report.Processed)
	assert.Equal(t, 9, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, report.Error)
	assert.Len(t, report.Results, DefaultBatchSize)
	assert.Equal(t, DefaultBatchSize, pacer.waits)
	assert.Equal(t, DefaultBatchSize, pacer.dones)

	calls := e.Calls()
	require.Len(t, calls, DefaultBatchSize)
	assert.Equal(t, []uint64{1, 2, 4, 6, 7, 8, 9, 10, 11, 12}, tokenIDs(calls))
	for _, c := range calls {
		assert.Equal(t, report.RunID, c.runID)
		assert.Equal(t, domain.DefaultScanSignals, c.signals)
	}
}

func tokenIDs(calls []call) []uint64 {
	ids := make([]uint64, len(calls))
	for i, c := range calls {
		ids[i] = c.tokenID
	}
	return ids
}

func TestRunScan_ConcurrentScanIsNoop(t *testing.T) {
	l := &fakeLedger{total: 1}
	e := &fakeEvolver{entered: make(chan uint64, 1), release: make(chan struct{})}
	s := newTestScheduler(t, l, e)

	done := make(chan *ScanReport)
	go func() {
		report, _ := s.RunScan(context.Background(), TriggerScheduled)
		done <- report
	}()

	<-e.entered
	assert.True(t, s.Status().Scanning)

	report, err := s.RunScan(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.Nil(t, report)

	close(e.release)
	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Succeeded)

	st := s.Status()
	assert.False(t, st.Scanning)
	require.NotNil(t, st.LastScan)
	assert.Equal(t, TriggerScheduled, st.LastScan.Trigger)
	assert.Len(t, e.Calls(), 1, "the rejected scan evolved nothing")
}

func TestRunScan_GuardClearedAfterFailure(t *testing.T) {
	l := &fakeLedger{totalErr: errors.New("rpc down")}
	e := &fakeEvolver{}
	s := newTestScheduler(t, l, e)

	report, err := s.RunScan(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Contains(t, report.Error, "rpc down")
	assert.Zero(t, report.Processed)

	l.totalErr = nil
	l.total = 2
	report, err = s.RunScan(context.Background(), TriggerManual)
	require.NoError(t, err, "guard must be released after a failed scan")
	assert.Equal(t, 2, report.Succeeded)
}

func TestRunScan_PanicIsIsolated(t *testing.T) {
	l := &fakeLedger{total: 3}
	e := &fakeEvolver{panics: map[uint64]bool{1: true}}
	s := newTestScheduler(t, l, e)

	report, err := s.RunScan(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[1].Error, "panicked")
	assert.False(t, s.Status().Scanning)
}

func TestRunScan_PacerInterruptStopsBatch(t *testing.T) {
	l := &fakeLedger{total: 3}
	e := &fakeEvolver{}
	pacer := &countingPacer{err: context.Canceled}
	s := newTestScheduler(t, l, e, func(o *Options) { o.Pacer = pacer })

	report, err := s.RunScan(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.Contains(t, report.Error, "interrupted")
	assert.Empty(t, e.Calls())
}

func TestRunScan_RecordsRunAndEvent(t *testing.T) {
	runs := memory.NewScanRunStore()
	rec := events.NewRecorder()
	l := &fakeLedger{total: 2, blocked: map[uint64]bool{1: true}}
	s := newTestScheduler(t, l, &fakeEvolver{}, func(o *Options) {
		o.Runs = runs
		o.Events = rec
	})

	report, err := s.RunScan(context.Background(), TriggerWarmup)
	require.NoError(t, err)

	stored, err := runs.GetByID(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, TriggerWarmup, stored.Trigger)
	assert.Equal(t, 1, stored.Succeeded)
	assert.NotZero(t, stored.FinishedAt)

	evs := rec.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindScan, evs[0].Kind)
	assert.Equal(t, report.RunID, evs[0].Scan.RunID)
}

type fakeLease struct {
	held     bool
	err      error
	released int
}

func (l *fakeLease) Acquire(context.Context) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, true, nil
}

func TestRunScan_Lease(t *testing.T) {
	lease := &fakeLease{}
	e := &fakeEvolver{}
	s := newTestScheduler(t, &fakeLedger{total: 1}, e, func(o *Options) { o.Lease = lease })

	_, err := s.RunScan(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, lease.released)

	lease.held = true
	_, err = s.RunScan(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	lease.held = false
	lease.err = errors.New("redis timeout")
	_, err = s.RunScan(context.Background(), TriggerManual)
	assert.ErrorContains(t, err, "redis timeout")

	assert.Len(t, e.Calls(), 1)
	assert.False(t, s.Status().Scanning)
}

func TestBatchEvolve(t *testing.T) {
	e := &fakeEvolver{fail: map[uint64]bool{9: true}}
	pacer := &countingPacer{}
	s := newTestScheduler(t, &fakeLedger{}, e, func(o *Options) { o.Pacer = pacer })

	custom := domain.Signals{TransactionCount: 60}
	results := s.BatchEvolve(context.Background(), []uint64{4, 9}, map[uint64]domain.Signals{4: custom})

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, 2, pacer.waits)
	assert.Equal(t, 2, pacer.dones)

	calls := e.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, custom, calls[0].signals)
	assert.Equal(t, domain.DefaultScanSignals, calls[1].signals)
	assert.Empty(t, calls[0].runID)
}

func TestRun_WarmupScanThenStop(t *testing.T) {
	e := &fakeEvolver{entered: make(chan uint64, 4)}
	s := newTestScheduler(t, &fakeLedger{total: 1}, e, func(o *Options) {
		o.WarmupDelay = time.Millisecond
		o.Interval = time.Hour
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-e.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("warm-up scan did not run")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	require.Eventually(t, func() bool {
		st := s.Status()
		return st.LastScan != nil && st.LastScan.Trigger == TriggerWarmup
	}, time.Second, 10*time.Millisecond)
	assert.NotZero(t, s.Status().NextScanAt)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Evolver: &fakeEvolver{}})
	assert.Error(t, err)
	_, err = New(Options{Ledger: &fakeLedger{}})
	assert.Error(t, err)

	s, err := New(Options{Ledger: &fakeLedger{}, Evolver: &fakeEvolver{}, Metrics: observability.NewMetrics("x", prometheus.NewRegistry())})
	require.NoError(t, err)
	st := s.Status()
	assert.Equal(t, DefaultBatchSize, st.BatchSize)
	assert.Equal(t, fmt.Sprint(DefaultInterval), st.Interval)
}

func TestNew_ZeroDelaysDisablePacing(t *testing.T) {
	e := &fakeEvolver{}
	s, err := New(Options{
		Ledger:      &fakeLedger{total: 3},
		Evolver:     e,
		ItemDelay:   0,
		WarmupDelay: 0,
		Metrics:     observability.NewMetrics("x", prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	assert.Zero(t, s.warmupDelay)

	start := time.Now()
	results := s.BatchEvolve(context.Background(), []uint64{0, 1, 2}, nil)
	require.Len(t, results, 3)
	assert.Less(t, time.Since(start), time.Second, "zero item delay must not pace")
}

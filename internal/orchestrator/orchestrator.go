// Package orchestrator drives a single token through the evolution flow:
// eligibility → metadata fetch → evolution → publish → sign → submit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"evonft-service/internal/domain"
	"evonft-service/internal/eligibility"
	"evonft-service/internal/events"
	"evonft-service/internal/evolution"
	"evonft-service/internal/ledger"
	"evonft-service/internal/observability"
	"evonft-service/internal/publish"
	"evonft-service/internal/scoring"
	"evonft-service/internal/storage"
)

// MetadataLoader resolves a token URI into its current metadata.
type MetadataLoader interface {
	Load(ctx context.Context, tokenID uint64, uri string) (*domain.AssetMetadata, error)
}

// Signer issues evolution authorizations.
type Signer interface {
	Authorize(ctx context.Context, tokenID uint64, newURI string, nonce *big.Int, deadline int64) ([]byte, error)
}

// Options for creating Orchestrator.
type Options struct {
	// Required collaborators
	Ledger    ledger.Ledger
	Loader    MetadataLoader
	Pipeline  *evolution.Pipeline
	Publisher publish.Publisher
	Signer    Signer

	// Optional audit sinks
	Attempts     storage.AttemptStore
	Observations storage.ScoreObservationStore
	Events       events.Publisher

	Metrics *observability.Metrics
	Now     func() time.Time
	Logger  *log.Logger
	Verbose bool
}

// Orchestrator runs evolution attempts. It is safe for concurrent use; two
// concurrent attempts for the same token race on the ledger nonce and the
// loser fails with a stale-nonce ledger error.
type Orchestrator struct {
	ledger    ledger.Ledger
	gate      *eligibility.Gate
	loader    MetadataLoader
	pipeline  *evolution.Pipeline
	publisher publish.Publisher
	signer    Signer

	attempts     storage.AttemptStore
	observations storage.ScoreObservationStore
	events       events.Publisher

	metrics *observability.Metrics
	now     func() time.Time
	logger  *log.Logger
	verbose bool
}

// New creates a new Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Ledger == nil:
		return nil, errors.New("ledger is required")
	case opts.Loader == nil:
		return nil, errors.New("metadata loader is required")
	case opts.Pipeline == nil:
		return nil, errors.New("pipeline is required")
	case opts.Publisher == nil:
		return nil, errors.New("publisher is required")
	case opts.Signer == nil:
		return nil, errors.New("signer is required")
	}

	o := &Orchestrator{
		ledger:       opts.Ledger,
		gate:         eligibility.NewGate(opts.Ledger),
		loader:       opts.Loader,
		pipeline:     opts.Pipeline,
		publisher:    opts.Publisher,
		signer:       opts.Signer,
		attempts:     opts.Attempts,
		observations: opts.Observations,
		events:       opts.Events,
		metrics:      opts.Metrics,
		now:          opts.Now,
		logger:       opts.Logger,
		verbose:      opts.Verbose,
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.metrics == nil {
		o.metrics = observability.DefaultMetrics
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	return o, nil
}

// CheckEligibility evaluates a token without side effects other than the
// score observation.
func (o *Orchestrator) CheckEligibility(ctx context.Context, tokenID uint64, signals domain.Signals) domain.EligibilityVerdict {
	signals = signals.Normalize()
	verdict := o.gate.CheckEligibility(ctx, tokenID, signals)
	o.observe(ctx, tokenID, signals, verdict)
	return verdict
}

// EvolveToken runs the full flow for one token and submits the signed
// authorization to the ledger. It never panics; every failure is reported
// in the result.
func (o *Orchestrator) EvolveToken(ctx context.Context, tokenID uint64, signals domain.Signals) domain.EvolveResult {
	res, _ := o.attempt(ctx, nil, tokenID, signals, true)
	return res
}

// EvolveInScan is EvolveToken with the attempt attributed to a scan run.
func (o *Orchestrator) EvolveInScan(ctx context.Context, runID string, tokenID uint64, signals domain.Signals) domain.EvolveResult {
	res, _ := o.attempt(ctx, &runID, tokenID, signals, true)
	return res
}

// Authorize runs the flow up to signing and returns the authorization
// instead of submitting it, for callers that relay it to the chain
// themselves. The authorization is nil unless the result is successful.
func (o *Orchestrator) Authorize(ctx context.Context, tokenID uint64, signals domain.Signals) (*domain.EvolutionAuthorization, domain.EvolveResult) {
	res, auth := o.attempt(ctx, nil, tokenID, signals, false)
	return auth, res
}

func (o *Orchestrator) attempt(ctx context.Context, runID *string, tokenID uint64, signals domain.Signals, submit bool) (domain.EvolveResult, *domain.EvolutionAuthorization) {
	start := time.Now()
	res, auth := o.run(ctx, tokenID, signals, submit)
	o.metrics.RecordEvolution(res.Status(), time.Since(start).Seconds())
	o.record(ctx, runID, res)
	return res, auth
}

func (o *Orchestrator) run(ctx context.Context, tokenID uint64, signals domain.Signals, submit bool) (res domain.EvolveResult, auth *domain.EvolutionAuthorization) {
	res.TokenID = tokenID
	fail := func(err error) {
		res.Success = false
		res.Error = err.Error()
		auth = nil
		o.log("token %d: %v", tokenID, err)
	}
	defer func() {
		if r := recover(); r != nil {
			res = domain.EvolveResult{TokenID: tokenID}
			fail(fmt.Errorf("evolution panicked: %v", r))
		}
	}()

	signals = signals.Normalize()
	verdict := o.gate.CheckEligibility(ctx, tokenID, signals)
	o.observe(ctx, tokenID, signals, verdict)
	if !verdict.Eligible {
		res.Reason = verdict.Reason
		res.Score = verdict.Score
		o.log("token %d: ineligible: %s", tokenID, verdict.Reason)
		return res, nil
	}

	uri, err := o.ledger.TokenURI(ctx, tokenID)
	if err != nil {
		fail(ledgerError("read token uri", err))
		return res, nil
	}
	current, err := o.loader.Load(ctx, tokenID, uri)
	if err != nil {
		fail(fmt.Errorf("load metadata: %w", err))
		return res, nil
	}

	evolved := o.pipeline.Evolve(ctx, tokenID, current, signals)
	score := evolved.Score
	res.EvolutionType = evolved.Tier
	res.Score = &score
	res.Version = evolved.Metadata.Version

	newURI, err := publish.PublishMetadata(ctx, o.publisher, evolved.Metadata)
	if err != nil {
		fail(err)
		return res, nil
	}
	res.NewURI = newURI

	info, err := o.ledger.EvolutionInfo(ctx, tokenID)
	if err != nil {
		fail(ledgerError("read evolution info", err))
		return res, nil
	}
	nonce := info.Nonce
	if nonce == nil {
		nonce = new(big.Int)
	}
	deadline := domain.DeadlineFrom(o.now())

	sig, err := o.signer.Authorize(ctx, tokenID, newURI, nonce, deadline)
	if err != nil {
		fail(fmt.Errorf("sign authorization: %w", err))
		return res, nil
	}
	res.Nonce = nonce.String()
	res.Deadline = deadline

	auth = &domain.EvolutionAuthorization{
		TokenID:   tokenID,
		NewURI:    newURI,
		Nonce:     new(big.Int).Set(nonce),
		Deadline:  deadline,
		Signature: sig,
	}
	if !submit {
		res.Success = true
		return res, auth
	}

	receipt, err := o.ledger.SubmitEvolution(ctx, tokenID, newURI, deadline, sig)
	if err != nil {
		fail(ledgerError("submit evolution", err))
		return res, nil
	}

	res.Success = true
	res.Tx = receipt
	o.log("token %d: evolved to v%d (%s) tx=%s", tokenID, res.Version, res.EvolutionType, receipt.TxHash)
	return res, auth
}

// ledgerError tags err as a ledger failure unless it already is one.
func ledgerError(op string, err error) error {
	if errors.Is(err, domain.ErrLedger) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrLedger, err)
}

// observe stores the verdict. Verdicts that short-circuited before scoring
// are recorded with the score the signals would have produced.
func (o *Orchestrator) observe(ctx context.Context, tokenID uint64, signals domain.Signals, verdict domain.EligibilityVerdict) {
	defer o.recoverAudit(tokenID, "score observation")
	score, tier := scoring.Evaluate(signals)
	if verdict.Score != nil {
		score = *verdict.Score
		tier = scoring.TierFor(score)
	}
	o.metrics.RecordVerdict(verdict.Eligible, verdict.Score)

	if o.observations == nil {
		return
	}
	obs := &domain.ScoreObservation{
		TokenID:    tokenID,
		Score:      score,
		Tier:       tier,
		Eligible:   verdict.Eligible,
		Reason:     verdict.Reason,
		Signals:    signals,
		ObservedAt: o.now().UnixMilli(),
	}
	if err := o.observations.InsertBulk(ctx, []*domain.ScoreObservation{obs}); err != nil {
		o.logger.Printf("[orchestrator] token %d: store score observation: %v", tokenID, err)
	}
}

// record writes the audit row and announces the outcome. Failures here,
// panics included, are logged and never change the result.
func (o *Orchestrator) record(ctx context.Context, runID *string, res domain.EvolveResult) {
	defer o.recoverAudit(res.TokenID, "audit")
	id := uuid.NewString()
	at := o.now().UnixMilli()

	if o.attempts != nil {
		if err := o.attempts.Insert(ctx, domain.NewEvolutionAttempt(id, runID, res, at)); err != nil {
			o.logger.Printf("[orchestrator] token %d: store attempt: %v", res.TokenID, err)
		}
	}

	event := events.Event{
		Kind:       events.KindEvolution,
		ID:         id,
		OccurredAt: at,
		Evolution:  &res,
	}
	if runID != nil {
		event.ScanRunID = *runID
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Printf("[orchestrator] token %d: publish event: %v", res.TokenID, err)
	}
}

func (o *Orchestrator) recoverAudit(tokenID uint64, what string) {
	if r := recover(); r != nil {
		o.logger.Printf("[orchestrator] token %d: %s panicked: %v", tokenID, what, r)
	}
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		o.logger.Printf("[orchestrator] "+format, args...)
	}
}

// Package evolution derives the next metadata generation of a token.
package evolution

import (
	"context"
	"fmt"
	"log"
	"time"

	"evonft-service/internal/domain"
	"evonft-service/internal/observability"
	"evonft-service/internal/scoring"
)

// Attribute trait names owned by the pipeline.
const (
	TraitLevel         = "Level"
	TraitStrength      = "Strength"
	TraitIntelligence  = "Intelligence"
	TraitSpeed         = "Speed"
	TraitEndurance     = "Endurance"
	TraitLuck          = "Luck"
	TraitEvolutions    = "Evolutions"
	TraitEvolutionType = "Evolution Type"
	TraitTag           = "Tag"
)

// Conditional tags.
const (
	TagActiveTrader    = "Active Trader"
	TagLongTermHolder  = "Long-term Holder"
	activeTraderTxMin  = 50
	longTermHolderDays = 30
)

// Attribute defaults and caps.
const (
	DefaultLevel = 1
	DefaultStat  = 5
	MaxStat      = 100
)

// StatTraits are boosted on every evolution.
var StatTraits = []string{TraitStrength, TraitIntelligence, TraitSpeed, TraitEndurance, TraitLuck}

// Describer produces a narrative description for the evolved token.
type Describer interface {
	Describe(ctx context.Context, current *domain.AssetMetadata, tier domain.Tier, signals domain.Signals) (string, error)
}

// Imager produces an image URI for the evolved token.
type Imager interface {
	Render(ctx context.Context, tokenID uint64, tier domain.Tier, version int, current *domain.AssetMetadata) (string, error)
}

// Options configures a Pipeline.
type Options struct {
	Describer Describer // optional, fallback text when nil
	Imager    Imager    // optional, placeholder when nil
	Now       func() time.Time
	Logger    *log.Logger
	Metrics   *observability.Metrics // defaults to observability.DefaultMetrics
	Verbose   bool
}

// Pipeline evolves metadata. Attribute evolution is deterministic; only the
// description and image are delegated.
type Pipeline struct {
	describer Describer
	imager    Imager
	now       func() time.Time
	logger    *log.Logger
	metrics   *observability.Metrics
	verbose   bool
}

// Result is the output of one evolution.
type Result struct {
	Metadata *domain.AssetMetadata
	Tier     domain.Tier
	Score    int
	// Warnings holds generator failures that were replaced by fallbacks.
	// Each wraps domain.ErrGenerator.
	Warnings []error
}

// New creates a new Pipeline.
func New(opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	return &Pipeline{
		metrics:   metrics,
		describer: opts.Describer,
		imager:    opts.Imager,
		now:       now,
		logger:    logger,
		verbose:   opts.Verbose,
	}
}

// Evolve returns the next generation of current. current is never mutated;
// a nil current is treated as genesis metadata.
func (p *Pipeline) Evolve(ctx context.Context, tokenID uint64, current *domain.AssetMetadata, signals domain.Signals) Result {
	if current == nil {
		current = domain.GenesisMetadata(DefaultName(tokenID))
	}
	signals = signals.Normalize()
	score, tier := scoring.Evaluate(signals)

	next := current.Clone()
	newVersion := current.EffectiveVersion() + 1
	var warnings []error

	desc, err := p.describe(ctx, current, tier, signals)
	if err != nil {
		warnings = append(warnings, fmt.Errorf("%w: description: %v", domain.ErrGenerator, err))
		p.metrics.RecordGeneratorFallback("description")
		p.log("token %d: description fallback: %v", tokenID, err)
		desc = FallbackDescription(tier)
	}

	image, err := p.render(ctx, tokenID, tier, newVersion, current)
	if err != nil {
		warnings = append(warnings, fmt.Errorf("%w: image: %v", domain.ErrGenerator, err))
		p.metrics.RecordGeneratorFallback("image")
		p.log("token %d: image fallback: %v", tokenID, err)
		image = PlaceholderImage(tier, tokenID, newVersion)
	}

	now := p.now().Unix()
	if next.Name == "" {
		next.Name = DefaultName(tokenID)
	}
	next.Description = desc
	next.Image = image
	next.Version = newVersion
	next.EvolutionType = tier
	next.LastUpdated = now
	next.Attributes = EvolveAttributes(current.Attributes, tier, signals)

	history := make([]domain.HistoryEntry, 0, len(current.EvolutionHistory)+1)
	history = append(history, current.EvolutionHistory...)
	next.EvolutionHistory = append(history, domain.HistoryEntry{
		Version:   newVersion,
		Type:      tier,
		Timestamp: now,
		Signals:   signals,
	})

	return Result{Metadata: next, Tier: tier, Score: score, Warnings: warnings}
}

func (p *Pipeline) describe(ctx context.Context, current *domain.AssetMetadata, tier domain.Tier, signals domain.Signals) (desc string, err error) {
	if p.describer == nil {
		return FallbackDescription(tier), nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("describer panicked: %v", r)
		}
	}()
	desc, err = p.describer.Describe(ctx, current, tier, signals)
	if err == nil && desc == "" {
		err = fmt.Errorf("empty description")
	}
	return desc, err
}

func (p *Pipeline) render(ctx context.Context, tokenID uint64, tier domain.Tier, version int, current *domain.AssetMetadata) (uri string, err error) {
	if p.imager == nil {
		return PlaceholderImage(tier, tokenID, version), nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("imager panicked: %v", r)
		}
	}()
	uri, err = p.imager.Render(ctx, tokenID, tier, version, current)
	if err == nil && uri == "" {
		err = fmt.Errorf("empty image uri")
	}
	return uri, err
}

func (p *Pipeline) log(format string, args ...interface{}) {
	if p.verbose {
		p.logger.Printf(format, args...)
	}
}

// DefaultName names a token that has no metadata yet.
func DefaultName(tokenID uint64) string {
	return fmt.Sprintf("EvoNFT #%d", tokenID)
}

// FallbackDescription is used when the describer fails.
func FallbackDescription(tier domain.Tier) string {
	return fmt.Sprintf("This NFT has evolved to %s form through its owner's on-chain and community activity.", tier)
}

// PlaceholderImage is used when the imager fails.
func PlaceholderImage(tier domain.Tier, tokenID uint64, version int) string {
	return fmt.Sprintf("https://placeholder.evonft.local/%s/%d/v%d.png", tier, tokenID, version)
}

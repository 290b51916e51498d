package generator

import (
	"context"
	"fmt"
	"html"
	"strings"

	"evonft-service/internal/domain"
	"evonft-service/internal/publish"
)

type palette struct {
	name       string
	background string
	accent     string
}

var palettes = map[domain.Tier]palette{
	domain.TierCommon:    {name: "slate grey", background: "#2f3640", accent: "#a4b0be"},
	domain.TierRare:      {name: "ocean blue", background: "#0c2461", accent: "#4a69bd"},
	domain.TierEpic:      {name: "royal purple", background: "#3c1053", accent: "#9b59b6"},
	domain.TierLegendary: {name: "molten gold", background: "#5c3d00", accent: "#f6b93b"},
}

// SVGImager renders a deterministic card for the evolved token and publishes it.
// The same inputs always produce the same bytes, and so the same URI.
type SVGImager struct {
	publisher publish.Publisher
}

// NewSVGImager creates a new SVGImager.
func NewSVGImager(publisher publish.Publisher) *SVGImager {
	return &SVGImager{publisher: publisher}
}

// Render implements evolution.Imager.
func (s *SVGImager) Render(ctx context.Context, tokenID uint64, tier domain.Tier, version int, current *domain.AssetMetadata) (string, error) {
	uri, err := s.publisher.Publish(ctx, RenderSVG(tokenID, tier, version, current), publish.ContentTypeSVG)
	if err != nil {
		return "", fmt.Errorf("publish svg: %w", err)
	}
	return uri, nil
}

// RenderSVG draws the card.
func RenderSVG(tokenID uint64, tier domain.Tier, version int, current *domain.AssetMetadata) []byte {
	p, ok := palettes[tier]
	if !ok {
		p = palettes[domain.TierCommon]
	}
	name := fmt.Sprintf("EvoNFT #%d", tokenID)
	if current != nil && current.Name != "" {
		name = current.Name
	}

	// Rings grow with the version, capped to keep the card readable.
	rings := version
	if rings > 8 {
		rings = 8
	}

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="512" height="512" viewBox="0 0 512 512">`)
	fmt.Fprintf(&b, `<rect width="512" height="512" fill="%s"/>`, p.background)
	for i := rings; i >= 1; i-- {
		fmt.Fprintf(&b, `<circle cx="256" cy="230" r="%d" fill="none" stroke="%s" stroke-opacity="%.2f" stroke-width="4"/>`,
			40+i*18, p.accent, 0.2+0.8/float64(i))
	}
	fmt.Fprintf(&b, `<circle cx="256" cy="230" r="36" fill="%s"/>`, p.accent)
	fmt.Fprintf(&b, `<text x="256" y="430" font-family="monospace" font-size="28" fill="#ffffff" text-anchor="middle">%s</text>`, html.EscapeString(name))
	fmt.Fprintf(&b, `<text x="256" y="470" font-family="monospace" font-size="20" fill="%s" text-anchor="middle">%s · v%d</text>`,
		p.accent, strings.ToUpper(tier.String()), version)
	b.WriteString(`</svg>`)
	return []byte(b.String())
}

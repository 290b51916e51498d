// Package generator implements the description and image generators used
// by the evolution pipeline.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"
	genai "google.golang.org/genai"

	"evonft-service/internal/domain"
	"evonft-service/internal/publish"
)

// Default models.
const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "imagen-4.0-generate-001"
)

// MaxDescriptionLength bounds generated descriptions, in runes.
const MaxDescriptionLength = 600

// ErrEmptyResponse is returned when the model produced no usable output.
var ErrEmptyResponse = errors.New("empty model response")

// contentModel is the part of *genai.Models used for text.
type contentModel interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// imageModel is the part of *genai.Models used for images.
type imageModel interface {
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// GeminiConfig configures the Gemini generators.
type GeminiConfig struct {
	APIKey     string
	TextModel  string
	ImageModel string
	// RPS limits model calls per second across both generators. Zero disables limiting.
	RPS   float64
	Burst int
}

// NewGeminiClient creates a genai client for the Gemini API backend. An empty
// API key falls back to the GEMINI_API_KEY / GOOGLE_API_KEY environment.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return cli, nil
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// GeminiDescriber writes evolution descriptions with a text model.
type GeminiDescriber struct {
	models  contentModel
	model   string
	limiter *rate.Limiter
}

// NewGeminiDescriber creates a describer backed by cli.
func NewGeminiDescriber(cli *genai.Client, cfg GeminiConfig) *GeminiDescriber {
	return newGeminiDescriber(cli.Models, cfg)
}

func newGeminiDescriber(models contentModel, cfg GeminiConfig) *GeminiDescriber {
	model := cfg.TextModel
	if model == "" {
		model = DefaultTextModel
	}
	return &GeminiDescriber{models: models, model: model, limiter: newLimiter(cfg.RPS, cfg.Burst)}
}

// Describe implements evolution.Describer.
func (g *GeminiDescriber) Describe(ctx context.Context, current *domain.AssetMetadata, tier domain.Tier, signals domain.Signals) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: describePrompt(current, tier, signals)}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "text/plain"},
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return truncateRunes(text, MaxDescriptionLength), nil
}

func describePrompt(current *domain.AssetMetadata, tier domain.Tier, signals domain.Signals) string {
	var b strings.Builder
	b.WriteString("You write short lore for evolving digital companions.\n")
	b.WriteString("Write two or three sentences, plain text, no markdown, describing the companion's new form.\n\n")
	if current != nil {
		fmt.Fprintf(&b, "Name: %s\n", current.Name)
		fmt.Fprintf(&b, "Previous version: %d\n", current.EffectiveVersion())
		if current.Description != "" {
			fmt.Fprintf(&b, "Previous description: %s\n", current.Description)
		}
	}
	fmt.Fprintf(&b, "New tier: %s\n", tier)
	fmt.Fprintf(&b, "Owner activity: %.0f transactions, %.0f staking days, %.0f trading volume, %.0f community posts, %.0f social mentions\n",
		signals.TransactionCount, signals.StakingDays, signals.TradingVolume, signals.DiscordActivity, signals.TwitterMentions)
	return b.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

// GeminiImager renders companion art with an image model and publishes it.
type GeminiImager struct {
	models    imageModel
	model     string
	publisher publish.Publisher
	limiter   *rate.Limiter
}

// NewGeminiImager creates an imager backed by cli.
func NewGeminiImager(cli *genai.Client, publisher publish.Publisher, cfg GeminiConfig) *GeminiImager {
	return newGeminiImager(cli.Models, publisher, cfg)
}

func newGeminiImager(models imageModel, publisher publish.Publisher, cfg GeminiConfig) *GeminiImager {
	model := cfg.ImageModel
	if model == "" {
		model = DefaultImageModel
	}
	return &GeminiImager{models: models, model: model, publisher: publisher, limiter: newLimiter(cfg.RPS, cfg.Burst)}
}

// Render implements evolution.Imager.
func (g *GeminiImager) Render(ctx context.Context, tokenID uint64, tier domain.Tier, version int, current *domain.AssetMetadata) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := g.models.GenerateImages(ctx, g.model, imagePrompt(tokenID, tier, version, current), &genai.GenerateImagesConfig{})
	if err != nil {
		return "", fmt.Errorf("generate images: %w", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil ||
		len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
		return "", ErrEmptyResponse
	}

	img := resp.GeneratedImages[0].Image
	contentType := img.MIMEType
	if contentType == "" {
		contentType = publish.ContentTypePNG
	}
	uri, err := g.publisher.Publish(ctx, img.ImageBytes, contentType)
	if err != nil {
		return "", fmt.Errorf("publish image: %w", err)
	}
	return uri, nil
}

func imagePrompt(tokenID uint64, tier domain.Tier, version int, current *domain.AssetMetadata) string {
	name := fmt.Sprintf("companion #%d", tokenID)
	if current != nil && current.Name != "" {
		name = current.Name
	}
	return fmt.Sprintf("Collectible creature portrait of %s, evolution stage %d, %s rarity, %s palette, centered, clean background, no text.",
		name, version, tier, palettes[tier].name)
}

// Package publish stores evolved metadata and images under content-derived
// keys and returns the URI the ledger will point at.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"evonft-service/internal/domain"
)

// Content types used by the service.
const (
	ContentTypeJSON = "application/json"
	ContentTypeSVG  = "image/svg+xml"
	ContentTypePNG  = "image/png"
)

// ErrNotFound is returned when fetching an unknown object.
var ErrNotFound = errors.New("object not found")

// Publisher persists bytes and returns a stable URI. Publishing the same
// bytes twice returns the same URI.
type Publisher interface {
	Publish(ctx context.Context, content []byte, contentType string) (string, error)
}

// PublishMetadata canonicalizes m and publishes it. Errors wrap domain.ErrPublish.
func PublishMetadata(ctx context.Context, p Publisher, m *domain.AssetMetadata) (string, error) {
	if m == nil {
		return "", fmt.Errorf("%w: nil metadata", domain.ErrPublish)
	}
	data, err := Canonicalize(m)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPublish, err)
	}
	uri, err := p.Publish(ctx, data, ContentTypeJSON)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}
	return uri, nil
}

// objectName maps a content key and type to an object name.
func objectName(key, contentType string) string {
	switch {
	case contentType == ContentTypeJSON:
		return key + ".json"
	case contentType == ContentTypeSVG:
		return key + ".svg"
	case contentType == ContentTypePNG:
		return key + ".png"
	case strings.HasPrefix(contentType, "image/jpeg"):
		return key + ".jpg"
	default:
		return key
	}
}

package metadata

import (
	"context"
	"fmt"
	"strings"

	"evonft-service/internal/domain"
)

// Loader turns a token URI into metadata.
type Loader struct {
	fetcher Fetcher
	name    func(tokenID uint64) string
}

// NewLoader creates a Loader. name builds the genesis name for tokens
// without a URI.
func NewLoader(fetcher Fetcher, name func(tokenID uint64) string) *Loader {
	if name == nil {
		name = func(tokenID uint64) string { return fmt.Sprintf("#%d", tokenID) }
	}
	return &Loader{fetcher: fetcher, name: name}
}

// Load returns genesis metadata for an empty URI, otherwise the decoded document.
func (l *Loader) Load(ctx context.Context, tokenID uint64, uri string) (*domain.AssetMetadata, error) {
	if strings.TrimSpace(uri) == "" {
		return domain.GenesisMetadata(l.name(tokenID)), nil
	}
	data, err := l.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	m, err := domain.DecodeMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", uri, err)
	}
	return m, nil
}

// Package metadata resolves token URIs to metadata documents.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultIPFSGateway serves ipfs:// URIs over HTTP.
const DefaultIPFSGateway = "https://ipfs.io/ipfs/"

// MaxDocumentSize bounds fetched documents.
const MaxDocumentSize = 4 << 20

// ErrUnsupportedScheme is returned when no fetcher handles a URI.
var ErrUnsupportedScheme = errors.New("unsupported uri scheme")

// Fetcher retrieves the raw bytes behind a URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// HTTPFetcher fetches http(s) URIs and ipfs:// URIs through a gateway.
type HTTPFetcher struct {
	client  *http.Client
	gateway string
}

// NewHTTPFetcher creates a new HTTPFetcher. An empty gateway uses DefaultIPFSGateway.
func NewHTTPFetcher(gateway string, timeout time.Duration) *HTTPFetcher {
	if gateway == "" {
		gateway = DefaultIPFSGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, gateway: gateway}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	url := uri
	if path, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		url = f.gateway + strings.TrimPrefix(path, "ipfs/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, uri)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("document %s exceeds %d bytes", uri, MaxDocumentSize)
	}
	return data, nil
}

// Router dispatches on URI scheme ("ipfs", "https", "s3", "mem", ...).
type Router struct {
	routes map[string]Fetcher
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Fetcher)}
}

// Handle registers f for the given schemes.
func (r *Router) Handle(f Fetcher, schemes ...string) *Router {
	for _, s := range schemes {
		r.routes[strings.ToLower(s)] = f
	}
	return r
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, uri string) ([]byte, error) {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	}
	f, ok := r.routes[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return f.Fetch(ctx, uri)
}

package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout bounds a single remote entry fetch.
	DefaultFetchTimeout = 10 * time.Second

	// MaxArtifactSize is the largest entry artifact accepted.
	MaxArtifactSize = 1 << 20 // 1MB
)

// HTTPProvider fetches a remote module's entry artifact over HTTP and
// evaluates it as a template fragment.
type HTTPProvider struct {
	entries      map[string]string
	httpClient   *http.Client
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// HTTPProviderOption configures an HTTPProvider.
type HTTPProviderOption func(*HTTPProvider)

// WithHTTPClient sets the client used for fetches.
func WithHTTPClient(client *http.Client) HTTPProviderOption {
	return func(p *HTTPProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithFetchTimeout sets the per-fetch deadline.
func WithFetchTimeout(d time.Duration) HTTPProviderOption {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

// WithProviderLogger sets the logger.
func WithProviderLogger(logger *slog.Logger) HTTPProviderOption {
	return func(p *HTTPProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewHTTPProvider creates a provider resolving logical names through entries
// (name to entry artifact URL).
func NewHTTPProvider(entries map[string]string, opts ...HTTPProviderOption) *HTTPProvider {
	p := &HTTPProvider{
		entries:      make(map[string]string, len(entries)),
		httpClient:   &http.Client{},
		fetchTimeout: DefaultFetchTimeout,
		logger:       slog.Default(),
	}
	for name, url := range entries {
		p.entries[name] = url
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Resolve implements Provider.
func (p *HTTPProvider) Resolve(ctx context.Context, name string) (Component, error) {
	url, ok := p.entries[name]
	if !ok {
		return nil, &LoadError{Module: name, Phase: PhaseFetch, Err: ErrModuleNotConfigured}
	}

	source, err := p.fetch(ctx, url)
	if err != nil {
		return nil, &LoadError{Module: name, Phase: PhaseFetch, Err: err}
	}

	p.logger.DebugContext(ctx, "remote entry fetched",
		slog.String("module", name),
		slog.String("url", url),
		slog.Int("bytes", len(source)),
	)

	return NewTemplateComponent(name, source)
}

func (p *HTTPProvider) fetch(ctx context.Context, url string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote entry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxArtifactSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read remote entry: %w", err)
	}
	if len(body) > MaxArtifactSize {
		return "", fmt.Errorf("%w: more than %d bytes", ErrArtifactTooLarge, MaxArtifactSize)
	}

	return string(body), nil
}

// Package loader fetches a web page, extracts its readable text and splits it
// into normalized, overlapping chunks ready for fingerprinting.
package loader

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/WessleyAI/ami-rag/engine/domain"
	"github.com/WessleyAI/ami-rag/engine/fingerprint"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 10 << 20
	userAgent    = "ami-rag/1.0 (+https://github.com/WessleyAI/ami-rag)"
)

// ErrNoContent is returned when a page yields no text.
var ErrNoContent = errors.New("no readable content")

// Options configures a Loader.
type Options struct {
	ChunkSize int
	Overlap   int
	// Length measures chunk size; nil counts characters.
	Length  LengthFunc
	Timeout time.Duration
	// RequestsPerSecond bounds outgoing fetches; <= 0 disables the limit.
	RequestsPerSecond float64
	Burst             int
	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool
}

// Loader fetches and splits web pages.
type Loader struct {
	client   *http.Client
	splitter *Splitter
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a Loader.
func New(opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	sp := NewSplitter(opts.ChunkSize, opts.Overlap)
	if opts.Length != nil {
		sp.Length = opts.Length
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}

	l := &Loader{
		client:   &http.Client{Timeout: opts.Timeout, Transport: otelhttp.NewTransport(transport)},
		splitter: sp,
		logger:   logger,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return l
}

// FetchAndSplit downloads rawURL and returns its chunks in document order.
// Every chunk's text is whitespace-normalized.
func (l *Loader) FetchAndSplit(ctx context.Context, rawURL string) ([]domain.Chunk, error) {
	page, err := l.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return l.SplitPage(rawURL, page), nil
}

// SplitPage splits an already fetched page.
func (l *Loader) SplitPage(source string, page Page) []domain.Chunk {
	pieces := l.splitter.Split(page.Text)
	chunks := make([]domain.Chunk, 0, len(pieces))
	for _, p := range pieces {
		text := fingerprint.Normalize(p)
		if text == "" {
			continue
		}
		meta := map[string]any{
			"source":      source,
			"chunk_index": len(chunks),
		}
		if page.Title != "" {
			meta["title"] = page.Title
		}
		if page.Description != "" {
			meta["description"] = page.Description
		}
		if page.Language != "" {
			meta["language"] = page.Language
		}
		chunks = append(chunks, domain.Chunk{Text: text, SourceURL: source, Metadata: meta})
	}
	return chunks
}

// Fetch downloads rawURL and extracts its readable text.
func (l *Loader) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("loader: invalid url %q", rawURL)
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return Page{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("loader: get %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("loader: get %s: status %d", u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("loader: read body: %w", err)
	}

	var page Page
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/plain", "text/markdown":
		page = Page{Text: tidy(string(body))}
	default:
		page = ParseHTML(string(body))
	}
	if page.Text == "" {
		return Page{}, fmt.Errorf("loader: %s: %w", rawURL, ErrNoContent)
	}

	l.logger.Info("loader: fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)
	return page, nil
}

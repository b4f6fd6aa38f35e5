// Package httpfetch implements crawler.Transport over net/http with a
// redirect limit, transparent gzip/deflate/brotli decoding and a hard cap on
// the decoded body size.
package httpfetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawl/internal/crawler"
)

var (
	errTooManyRedirects = errors.New("stopped after too many redirects")
	errBodyTooLarge     = errors.New("response body exceeds limit")
)

// Config controls the transport.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxRedirects int
	UserAgent    string
	// Robots, when set, vets every redirect hop; a disallowed hop ends the
	// request with a *crawler.PolicyError.
	Robots crawler.Politeness
}

// Fetcher issues GET requests for the dispatcher.
type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Fetcher with its own connection pool.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Decoding happens in readBody so brotli is handled and the size cap
	// applies to decoded bytes.
	transport.DisableCompression = true
	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if cfg.Robots == nil {
				return nil
			}
			agent := req.Header.Get("User-Agent")
			if agent == "" {
				agent = cfg.UserAgent
			}
			if !cfg.Robots.IsAllowed(req.Context(), req.URL.String(), agent) {
				return &crawler.PolicyError{Kind: crawler.PolicyDisallowedByRobots, URL: req.URL.String(), Reason: "redirect target"}
			}
			return nil
		},
	}
	return &Fetcher{client: client, cfg: cfg, logger: logger}
}

// Do implements crawler.Transport.
func (f *Fetcher) Do(ctx context.Context, req crawler.Request) (*crawler.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &crawler.FetchError{Kind: crawler.FetchNetwork, URL: req.URL, Err: fmt.Errorf("new request: %w", err)}
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" && f.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		var perr *crawler.PolicyError
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, classify(req.URL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("failed to close response body", zap.String("url", req.URL), zap.Error(cerr))
		}
	}()

	body, err := f.readBody(resp)
	if err != nil {
		return nil, classify(req.URL, err)
	}
	header := resp.Header.Clone()
	if header.Get("Content-Encoding") != "" {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}
	return &crawler.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	var closers []io.Closer

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, f.cfg.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w of %d bytes", errBodyTooLarge, f.cfg.MaxBodyBytes)
	}
	return body, nil
}

func classify(rawURL string, err error) *crawler.FetchError {
	kind := crawler.FetchNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, errTooManyRedirects):
		kind = crawler.FetchTooManyRedirects
	case errors.Is(err, errBodyTooLarge):
		kind = crawler.FetchBodyTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		kind = crawler.FetchTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = crawler.FetchTimeout
	}
	return &crawler.FetchError{Kind: kind, URL: rawURL, Err: err}
}

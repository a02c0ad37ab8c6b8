package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUA       = "verdictd/1.0"
	maxResponseSize = 4 << 20
)

// HTTPOptions are shared by every HTTP-backed source.
type HTTPOptions struct {
	Timeout           time.Duration
	UserAgent         string
	CacheTTL          time.Duration
	RequestsPerSecond float64
}

// Transport bundles the HTTP client, per-host pacing and the response cache so
// sources built from the same options share them.
type Transport struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	limiter   *hostLimiter
	cache     *gocache.Cache
	cacheTTL  time.Duration
}

// NewTransport constructs a Transport from options.
func NewTransport(opts HTTPOptions) *Transport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUA
	}

	t := &Transport{
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		userAgent: ua,
		limiter:   newHostLimiter(opts.RequestsPerSecond, 2),
		cacheTTL:  opts.CacheTTL,
	}
	if opts.CacheTTL > 0 {
		t.cache = gocache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return t
}

// HTTPClient exposes the bounded-timeout client for JSON-RPC dialing.
func (t *Transport) HTTPClient() *http.Client { return t.client }

// getJSON fetches endpoint and decodes a 2xx body into out. Transport failures
// return *SourceError, undecodable payloads *DecodeError. Successfully decoded
// bodies are cached by URL.
func (t *Transport) getJSON(ctx context.Context, source, endpoint string, headers map[string]string, out any, logger zerolog.Logger) error {
	if t.cache != nil {
		if cached, ok := t.cache.Get(endpoint); ok {
			if err := json.Unmarshal(cached.([]byte), out); err == nil {
				logger.Debug().Str("source", source).Msg("oracle cache hit")
				return nil
			}
			t.cache.Delete(endpoint)
		}
	}

	if err := t.limiter.Wait(ctx, endpoint); err != nil {
		return &SourceError{Source: source, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &SourceError{Source: source, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &SourceError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &SourceError{Source: source, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SourceError{Source: source, StatusCode: resp.StatusCode, Err: parseHTTPError(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{Source: source, Err: err}
	}

	if t.cache != nil {
		t.cache.Set(endpoint, body, t.cacheTTL)
	}
	return nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  *struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Message != "":
			return fmt.Errorf("%s", apiErr.Message)
		case apiErr.Error != "":
			return fmt.Errorf("%s", apiErr.Error)
		case apiErr.Status != nil && apiErr.Status.ErrorMessage != "":
			return fmt.Errorf("%s", apiErr.Status.ErrorMessage)
		}
	}
	if trimmed := strings.TrimSpace(string(payload)); trimmed != "" {
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		return fmt.Errorf("%s", trimmed)
	}
	return fmt.Errorf("empty response body")
}

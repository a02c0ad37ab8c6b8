package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"verdictd/internal/model"
)

const (
	postsPath        = "/posts"
	defaultPostLimit = 25
	maxConcurrent    = 4
	maxBodySize      = 4 << 20
)

// ErrAllSubmoltsFailed is returned when no submolt could be read.
var ErrAllSubmoltsFailed = errors.New("feed: every submolt fetch failed")

// Options parameterise the feed client.
type Options struct {
	BaseURL         string
	APIKey          string
	Submolts        []string
	PostsPerSubmolt int
	Timeout         time.Duration
	UserAgent       string
}

// Client lists recent posts per submolt from a Moltbook-compatible API.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a feed client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.PostsPerSubmolt <= 0 {
		opts.PostsPerSubmolt = defaultPostLimit
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "verdictd/1.0"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "feed_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Name implements Source.
func (c *Client) Name() string { return "moltbook" }

// Fetch reads every configured submolt concurrently. A failing submolt is
// logged and skipped; results keep submolt order, then feed order, with
// duplicate post ids dropped.
func (c *Client) Fetch(ctx context.Context) ([]model.CandidateClaim, error) {
	submolts := c.opts.Submolts
	if len(submolts) == 0 {
		submolts = []string{""}
	}

	results := make([][]model.CandidateClaim, len(submolts))
	failures := make([]error, len(submolts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, submolt := range submolts {
		g.Go(func() error {
			posts, err := c.fetchSubmolt(gctx, submolt)
			if err != nil {
				failures[i] = err
				c.logger.Warn().Err(err).Str("submolt", submolt).Msg("submolt fetch failed")
				return nil
			}
			results[i] = posts
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if failed == len(submolts) {
		return nil, fmt.Errorf("%w: %w", ErrAllSubmoltsFailed, errors.Join(failures...))
	}

	seen := make(map[string]struct{})
	out := make([]model.CandidateClaim, 0)
	for _, posts := range results {
		for _, p := range posts {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}

	c.logger.Debug().Int("submolts", len(submolts)).Int("failed", failed).Int("posts", len(out)).Msg("feed fetched")
	return out, nil
}

func (c *Client) fetchSubmolt(ctx context.Context, submolt string) ([]model.CandidateClaim, error) {
	params := url.Values{}
	params.Set("sort", "new")
	params.Set("limit", strconv.Itoa(c.opts.PostsPerSubmolt))
	if submolt != "" {
		params.Set("submolt", submolt)
	}
	endpoint := c.baseURL + postsPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var listing postsResponse
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}

	posts := listing.Posts
	if len(posts) == 0 {
		posts = listing.Data
	}

	out := make([]model.CandidateClaim, 0, len(posts))
	for _, p := range posts {
		if p.ID == "" {
			continue
		}
		content := strings.TrimSpace(p.Content)
		if content == "" {
			content = strings.TrimSpace(p.Title)
		}
		if content == "" {
			continue
		}
		out = append(out, model.CandidateClaim{
			ID:      p.ID,
			Author:  p.Author.Name,
			Content: content,
			Source:  submolt,
		})
	}
	return out, nil
}

type postsResponse struct {
	Success bool   `json:"success"`
	Posts   []post `json:"posts"`
	Data    []post `json:"data"`
}

type post struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  struct {
		Name string `json:"name"`
	} `json:"author"`
	CreatedAt string `json:"created_at"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("feed api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("feed api error (%d)", status)
}

var _ Source = (*Client)(nil)

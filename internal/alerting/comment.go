package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CommentNotifier replies to the originating post on the feed.
type CommentNotifier struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewCommentNotifier constructs the feed comment channel.
func NewCommentNotifier(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *CommentNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommentNotifier{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_comment").Logger(),
	}
}

// Name implements Notifier.
func (n *CommentNotifier) Name() string { return "feed" }

// Notify posts the rendered verdict as a comment keyed by the claim id.
func (n *CommentNotifier) Notify(ctx context.Context, note Notification) (string, error) {
	if n.baseURL == "" || n.apiKey == "" {
		return "", fmt.Errorf("feed comment channel not configured")
	}

	body, err := json.Marshal(map[string]string{"content": RenderComment(note)})
	if err != nil {
		return "", fmt.Errorf("marshal comment payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/posts/%s/comments", n.baseURL, url.PathEscape(note.ClaimID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create comment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send comment request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read comment response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("comment unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result struct {
		ID      string `json:"id"`
		Comment struct {
			ID string `json:"id"`
		} `json:"comment"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("decode comment response: %w", err)
	}
	id := result.Comment.ID
	if id == "" {
		id = result.ID
	}
	if id == "" {
		return "", fmt.Errorf("comment response carried no id")
	}

	n.logger.Info().Str("claim_id", note.ClaimID).
		Str("verdict", string(note.Verdict)).
		Str("comment_id", id).
		Msg("notification sent (feed comment)")
	return id, nil
}

var _ Notifier = (*CommentNotifier)(nil)

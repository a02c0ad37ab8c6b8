package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"verdictd/internal/model"
	"verdictd/internal/proof"
)

// ErrRateLimited is returned when the notification window is full.
var ErrRateLimited = errors.New("alerting: notification rate limit reached")

// Notification carries a verdict to the notification channels.
type Notification struct {
	ClaimID       string
	AgentLabel    string
	ClaimType     model.ClaimType
	Unit          string
	Verdict       model.Verdict
	Confidence    int
	ClaimedValue  decimal.NullDecimal
	ObservedValue decimal.NullDecimal
	SourceName    string
	Explanation   string
	ProofTxID     *string
	ProofError    string
	ExplorerURL   string
}

// Notifier delivers a notification and returns the channel's id for it.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, note Notification) (string, error)
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram mirror channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Name implements Notifier.
func (n *TelegramNotifier) Name() string { return "telegram" }

// Notify calls sendMessage and returns the Telegram message id.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) (string, error) {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderTelegram(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("telegram returned ok=false")
	}

	id := strconv.FormatInt(result.Result.MessageID, 10)
	n.logger.Info().Str("claim_id", note.ClaimID).
		Str("verdict", string(note.Verdict)).
		Str("message_id", id).
		Msg("notification sent (telegram)")
	return id, nil
}

// RenderComment formats the verdict reply posted under the originating claim.
func RenderComment(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Verdict: %s (%d%% confidence)\n", note.Verdict, note.Confidence))
	builder.WriteString(fmt.Sprintf("Claimed: %s | Observed: %s\n",
		formatValue(note.ClaimedValue, note.Unit), formatValue(note.ObservedValue, note.Unit)))
	if note.SourceName != "" {
		builder.WriteString(fmt.Sprintf("Source: %s\n", note.SourceName))
	}
	if note.Explanation != "" {
		builder.WriteString(note.Explanation)
		builder.WriteString("\n")
	}
	builder.WriteString(proofLine(note))
	return builder.String()
}

func renderTelegram(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[verdictd]\n")
	builder.WriteString(fmt.Sprintf("Claim: %s", note.ClaimID))
	if note.AgentLabel != "" {
		builder.WriteString(fmt.Sprintf(" by %s", note.AgentLabel))
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Type: %s\n", note.ClaimType))
	builder.WriteString(RenderComment(note))
	return builder.String()
}

func proofLine(note Notification) string {
	if note.ProofTxID == nil || *note.ProofTxID == "" {
		if note.ProofError != "" {
			return fmt.Sprintf("Proof: submission failed (%s)", note.ProofError)
		}
		return "Proof: submission failed"
	}
	tx := *note.ProofTxID
	line := "Proof: " + proof.ShortHash(tx)
	if note.ExplorerURL != "" {
		line += " " + strings.TrimRight(note.ExplorerURL, "/") + "/tx/" + tx
	}
	return line
}

func formatValue(v decimal.NullDecimal, unit string) string {
	if !v.Valid {
		return "n/a"
	}
	switch unit {
	case "usd":
		return "$" + v.Decimal.StringFixed(2)
	case "percent":
		return v.Decimal.Round(1).String() + "%"
	case "gwei":
		return v.Decimal.Round(2).String() + " gwei"
	case "":
		return v.Decimal.String()
	default:
		return v.Decimal.String() + " " + unit
	}
}

var _ Notifier = (*TelegramNotifier)(nil)

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pool-risk-alerts/internal/storage"
)

// Notifier delivers an emitted alert to an external channel.
type Notifier interface {
	Notify(ctx context.Context, alert storage.AlertRecord) error
}

// TelegramNotifier pushes alert messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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

// Notify sends the rendered alert text via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, alert storage.AlertRecord) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(alert),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected telegram status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram responded ok=false")
		}
	}

	n.logger.Info().
		Str("pool_id", alert.PoolID).
		Str("alert_type", alert.AlertType).
		Msg("alert delivered (Telegram)")
	return nil
}

func renderMessage(alert storage.AlertRecord) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Pool Risk Alert] %s\n", alert.AlertType))
	builder.WriteString(fmt.Sprintf("Pool: %s\n", alert.PoolID))
	builder.WriteString(fmt.Sprintf("Risk: %s (score %.2f)\n", alert.RiskLevel, alert.RiskScore))
	if alert.PreviousRiskLevel != nil && alert.PreviousRiskScore != nil {
		builder.WriteString(fmt.Sprintf("Previous: %s (score %.2f)\n", *alert.PreviousRiskLevel, *alert.PreviousRiskScore))
	}
	if !alert.CreatedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", alert.CreatedAt.UTC().Format(time.RFC3339)))
	}
	builder.WriteString(alert.Message)
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

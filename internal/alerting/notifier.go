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
)

// Kind identifies what happened to a test.
type Kind string

const (
	KindWinner     Kind = "winner"
	KindAutomation Kind = "automation"
	KindCompleted  Kind = "completed"
)

// Notification carries the context of one test event worth telling a human.
type Notification struct {
	Kind       Kind
	TestID     string
	TestName   string
	At         time.Time
	Winner     string
	Lift       float64
	Confidence float64
	Actions    []string
	Channels   []string
	Details    string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify calls sendMessage with the rendered notification.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().Str("test_id", note.TestID).
		Str("kind", string(note.Kind)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("notification sent")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	name := note.TestName
	if name == "" {
		name = note.TestID
	}

	switch note.Kind {
	case KindWinner:
		builder.WriteString(fmt.Sprintf("[Price Test] Winner found: %s\n", name))
		builder.WriteString(fmt.Sprintf("Variation %s: %+.1f%% lift at %.1f%% confidence\n", note.Winner, note.Lift, note.Confidence))
	case KindAutomation:
		builder.WriteString(fmt.Sprintf("[Price Test] Automation ran on %s\n", name))
		for _, action := range note.Actions {
			builder.WriteString(fmt.Sprintf("- %s\n", action))
		}
	case KindCompleted:
		builder.WriteString(fmt.Sprintf("[Price Test] Completed: %s\n", name))
		if note.Winner != "" {
			builder.WriteString(fmt.Sprintf("Leading variation: %s\n", note.Winner))
		}
	default:
		builder.WriteString(fmt.Sprintf("[Price Test] %s\n", name))
	}

	builder.WriteString(fmt.Sprintf("Test: %s\n", note.TestID))
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	if note.Details != "" {
		builder.WriteString(note.Details)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

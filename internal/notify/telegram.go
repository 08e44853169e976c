package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts through the Bot API sendMessage method.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for a bot token and chat id.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("*%s*\n%s", a.Title, a.Text),
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	return postJSON(ctx, t.client, "telegram", url, payload, nil)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }

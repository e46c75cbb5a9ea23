package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/shaiso/taskpipe/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// defaultClient — общий клиент для WebhookNotifier без своего Client.
// Таймаут задаётся через контекст запроса.
var defaultClient = &http.Client{}

// WebhookNotifier — канал уведомлений через HTTP.
//
// Отправляет POST с TaskCreatedEvent в JSON на URL. Ответ с кодом >= 400
// считается ошибкой доставки.
type WebhookNotifier struct {
	// URL — адрес webhook (обязательно).
	URL string

	// Timeout — таймаут запроса. Default: 10s
	Timeout time.Duration

	// Client (опционально; если nil — общий http.Client пакета).
	Client *http.Client
}

// NewWebhookNotifier создаёт WebhookNotifier со своим http.Client.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{},
	}
}

// Notify отправляет событие на webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, evt domain.TaskCreatedEvent) error {
	if n.URL == "" {
		return fmt.Errorf("%w: url is required", ErrWebhook)
	}

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("%w: marshal body: %v", ErrWebhook, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrWebhook, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = defaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhook, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: HTTP %d: %s", ErrWebhook, resp.StatusCode, truncate(string(respBody), 200))
	}

	// Дочитываем тело, чтобы соединение вернулось в пул
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// truncate обрезает строку до maxLen байт, не разрезая UTF-8 символ.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

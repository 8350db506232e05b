package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Wechat доставляет уведомления через вебхук ServerChan
type Wechat struct {
	apiURL string
	client *http.Client
}

// NewWechat создает WeChat-канал уведомлений
func NewWechat(apiURL string) *Wechat {
	return &Wechat{
		apiURL: apiURL,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send отправляет уведомление на вебхук
func (w *Wechat) Send(ctx context.Context, title, message string, severity Severity) error {
	payload := url.Values{}
	payload.Set("title", Prefix(severity)+" "+title)
	payload.Set("desp", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL,
		strings.NewReader(payload.Encode()))
	if err != nil {
		return fmt.Errorf("wechat: создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("wechat: отправка: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wechat: неожиданный статус %d", resp.StatusCode)
	}
	return nil
}

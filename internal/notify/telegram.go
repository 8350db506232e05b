package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/skalibog/bfsa/pkg/logger"
	"go.uber.org/zap"
)

const telegramAPI = "https://api.telegram.org/bot"

// Telegram доставляет уведомления через Telegram Bot API
type Telegram struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegram создает Telegram-канал уведомлений
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send отправляет сообщение в настроенный чат
func (t *Telegram) Send(ctx context.Context, title, message string, severity Severity) error {
	return t.sendMessage(ctx, message)
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]interface{}{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram: сериализация запроса: %w", err)
	}

	endpoint := telegramAPI + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: отправка: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: неожиданный статус %d", resp.StatusCode)
	}
	return nil
}

// CommandHandler обрабатывает команды оператора
type CommandHandler interface {
	// StatusText текстовый отчет о текущем состоянии
	StatusText() string
	// ManualClose ручное закрытие позиции; clearHistory дополнительно
	// стирает историю сигналов
	ManualClose(clearHistory bool) (string, error)
}

// Poller слушает команды оператора через long-polling getUpdates.
// Работает в собственной горутине и не влияет на циклы ядра.
type Poller struct {
	telegram *Telegram
	handler  CommandHandler
	chatID   int64

	client *http.Client
	offset int64
}

// NewPoller создает слушатель команд
func NewPoller(telegram *Telegram, handler CommandHandler) (*Poller, error) {
	chatID, err := strconv.ParseInt(telegram.chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: некорректный chat_id %q: %w", telegram.chatID, err)
	}
	return &Poller{
		telegram: telegram,
		handler:  handler,
		chatID:   chatID,
		client:   &http.Client{Timeout: 40 * time.Second},
	}, nil
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// Run выполняет цикл опроса до отмены контекста
func (p *Poller) Run(ctx context.Context) {
	logger.Info("Слушатель команд Telegram запущен (/help, /status, /close, /clear)")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := p.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Ошибка опроса Telegram, пауза 5с", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			p.offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Chat.ID != p.chatID {
				continue
			}
			p.handleCommand(ctx, u.Message.Text)
		}
	}
}

func (p *Poller) poll(ctx context.Context) ([]update, error) {
	params := url.Values{}
	params.Set("timeout", "20")
	if p.offset > 0 {
		params.Set("offset", strconv.FormatInt(p.offset, 10))
	}

	endpoint := telegramAPI + p.telegram.token + "/getUpdates?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: создание запроса: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var parsed updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("telegram: разбор getUpdates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram: getUpdates вернул ok=false")
	}
	return parsed.Result, nil
}

func (p *Poller) handleCommand(ctx context.Context, text string) {
	var reply string

	switch text {
	case "/start", "/help":
		reply = "Доступные команды:\n" +
			"/status - текущее состояние позиции\n" +
			"/close - ручное закрытие (история сигналов сохраняется)\n" +
			"/clear - закрытие с полной очисткой истории сигналов\n\n" +
			"После /close повторный сигнал того же направления использует\n" +
			"гибридную стратегию: новый стоп-лосс и исходные тейк-профиты."
	case "/status":
		reply = p.handler.StatusText()
	case "/close", "/clear":
		result, err := p.handler.ManualClose(text == "/clear")
		if err != nil {
			reply = fmt.Sprintf("Ошибка закрытия: %v", err)
		} else {
			reply = result
		}
	default:
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.telegram.sendMessage(sendCtx, reply); err != nil {
		logger.Warn("Ошибка ответа на команду", zap.String("command", text), zap.Error(err))
	}
}

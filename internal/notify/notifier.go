package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/skalibog/bfsa/pkg/logger"
	"go.uber.org/zap"
)

// Severity тип уведомления, определяет префикс сообщения
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
	SeverityBuy     Severity = "buy"
	SeveritySell    Severity = "sell"
	SeverityClose   Severity = "close"
)

var severityPrefix = map[Severity]string{
	SeverityInfo:    "[INFO]",
	SeveritySuccess: "[OK]",
	SeverityWarning: "[WARN]",
	SeverityDanger:  "[ALERT]",
	SeverityBuy:     "[BUY]",
	SeveritySell:    "[SELL]",
	SeverityClose:   "[CLOSE]",
}

// Prefix возвращает текстовый префикс для типа уведомления
func Prefix(s Severity) string {
	if p, ok := severityPrefix[s]; ok {
		return p
	}
	return "[INFO]"
}

// Notifier канал доставки уведомлений
type Notifier interface {
	Send(ctx context.Context, title, message string, severity Severity) error
}

// Multi рассылает уведомление по всем каналам в режиме fire-and-forget:
// отправка идет в отдельных горутинах с таймаутом и никогда не блокирует
// циклы ядра. Сбой доставки только логируется.
type Multi struct {
	notifiers []Notifier
	timeout   time.Duration
}

// NewMulti создает рассылку по нескольким каналам
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{
		notifiers: notifiers,
		timeout:   10 * time.Second,
	}
}

// Notify отправляет уведомление всем каналам, не дожидаясь результата
func (m *Multi) Notify(title, message string, severity Severity) {
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05")
	full := fmt.Sprintf("%s %s\n%s\n%s", Prefix(severity), timestamp, title, message)
	logger.Info("Уведомление", zap.String("title", title), zap.String("severity", string(severity)))

	for _, n := range m.notifiers {
		n := n
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			if err := n.Send(ctx, title, full, severity); err != nil {
				logger.Warn("Ошибка доставки уведомления",
					zap.String("title", title), zap.Error(err))
			}
		}()
	}
}

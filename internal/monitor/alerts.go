package monitor

import (
	"fmt"
	"strings"

	"github.com/skalibog/bfsa/internal/analysis/signalgen"
	"github.com/skalibog/bfsa/internal/notify"
	"github.com/skalibog/bfsa/pkg/logger"
	"github.com/skalibog/bfsa/pkg/models"
	"go.uber.org/zap"
)

// Alerter превращает события жизненного цикла позиции в уведомления
type Alerter struct {
	multi    *notify.Multi
	symbol   string
	leverage int
}

// NewAlerter создает рассыльщик событий позиции
func NewAlerter(multi *notify.Multi, symbol string, leverage int) *Alerter {
	return &Alerter{multi: multi, symbol: symbol, leverage: leverage}
}

// OnSignalDetected сигнал только логируется, уведомление уходит при открытии
func (a *Alerter) OnSignalDetected(result *models.SignalResult) {
	logger.Info("Сигнал принят к исполнению",
		zap.Int("signal", result.Signal),
		zap.Int("score", result.Score),
		zap.Float64("position_size", result.PositionSize))
}

// OnPositionOpened уведомление об открытии позиции
func (a *Alerter) OnPositionOpened(pos models.Position, continuation bool, result *models.SignalResult) {
	direction := "ЛОНГ"
	severity := notify.SeverityBuy
	if pos.Status == models.StatusShort {
		direction = "ШОРТ"
		severity = notify.SeveritySell
	}

	mode := "новый тренд"
	if continuation {
		mode = fmt.Sprintf("продолжение тренда #%d (гибрид: новый SL, исходные TP)",
			pos.TrendContinuationCount)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s)\n", direction, a.symbol, mode)
	fmt.Fprintf(&b, "Вход: %.4f\n", pos.EntryPrice)
	fmt.Fprintf(&b, "Стоп-лосс: %.4f\n", pos.StopLoss)
	fmt.Fprintf(&b, "TP1: %.4f | TP2: %.4f\n", pos.TakeProfit1, pos.TakeProfit2)
	fmt.Fprintf(&b, "Размер: %.0f%% депозита, плечо %dx\n", pos.PositionSize*100, a.leverage)

	if result != nil {
		fmt.Fprintf(&b, "Оценка сигнала: %d/100 (%s)\n", result.Score, signalgen.Grade(result.Score))
		if d := result.Details; d != nil {
			fmt.Fprintf(&b, "  COO %d | полоса %d | OI %d | пробой %d\n",
				d.CooScore, d.BwScore, d.OiScore, d.BreakScore)
		}
		fmt.Fprintf(&b, "Причина: %s", result.Reason)
	}

	a.multi.Notify("Открыта позиция", b.String(), severity)
}

// OnTp1Reached уведомление о первом тейк-профите и активации защиты
func (a *Alerter) OnTp1Reached(pos models.Position) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: достигнут TP1\n", a.symbol)
	fmt.Fprintf(&b, "Стоп переведен в безубыток: %.4f\n", pos.StopLoss)
	if pos.TrailStop > 0 {
		fmt.Fprintf(&b, "Трейлинг-стоп: %.4f\n", pos.TrailStop)
	}
	b.WriteString("Позиция продолжает работать до TP2")

	a.multi.Notify("Тейк-профит 1", b.String(), notify.SeveritySuccess)
}

// OnTimeStopArmed уведомление о взведенном временном стопе
func (a *Alerter) OnTimeStopArmed(pos models.Position) {
	msg := fmt.Sprintf("%s: позиция держится %.0f часов\n"+
		"Временной стоп взведен: закрытие при двух подряд\n"+
		"отрицательных замерах открытого интереса",
		a.symbol, pos.HoldHours)

	a.multi.Notify("Временной стоп взведен", msg, notify.SeverityWarning)
}

// OnPositionClosed уведомление о закрытии позиции
func (a *Alerter) OnPositionClosed(pos models.Position, exitReason string, exitPrice, pnlPct float64) {
	direction := "ЛОНГ"
	if pos.Status == models.StatusShort {
		direction = "ШОРТ"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s закрыт: %s\n", direction, a.symbol, exitReasonText(exitReason))
	fmt.Fprintf(&b, "Вход: %.4f -> Выход: %.4f\n", pos.EntryPrice, exitPrice)
	fmt.Fprintf(&b, "Результат: %+.2f%% (с плечом %dx)\n", pnlPct, a.leverage)
	fmt.Fprintf(&b, "Время в позиции: %.1f ч", pos.HoldHours)

	a.multi.Notify("Закрыта позиция", b.String(), notify.SeverityClose)
}

func exitReasonText(reason string) string {
	switch reason {
	case "SL":
		return "стоп-лосс"
	case "TP2":
		return "тейк-профит 2"
	case "TRAIL":
		return "трейлинг-стоп"
	case "BREAK_EVEN":
		return "безубыток"
	case "TIME_OI_STOP":
		return "временной стоп по OI"
	case "MANUAL":
		return "ручное закрытие"
	default:
		return reason
	}
}

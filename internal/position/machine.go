package position

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/skalibog/bfsa/internal/config"
	"github.com/skalibog/bfsa/internal/journal"
	"github.com/skalibog/bfsa/internal/oifeed"
	"github.com/skalibog/bfsa/internal/state"
	"github.com/skalibog/bfsa/pkg/logger"
	"github.com/skalibog/bfsa/pkg/models"
	"go.uber.org/zap"
)

// Причины закрытия позиции
const (
	ExitTimeOiStop  = "TIME_OI_STOP"
	ExitStopLoss    = "SL"
	ExitTakeProfit2 = "TP2"
	ExitTrailing    = "TRAIL"
	ExitBreakeven   = "BREAK_EVEN"
	ExitManual      = "MANUAL"
)

// oiExitStreak сколько последних изменений OI должны быть отрицательными
// для подтверждения составного выхода
const oiExitStreak = 2

// slippage поправка цены выхода не в пользу трейдера
const slippage = 0.001

// Machine владеет единственной позицией системы и проводит ее через весь
// жизненный цикл: открытие, ступенчатые тейк-профиты, перенос стопа в
// безубыток, скользящий стоп, составной выход время+OI, закрытие.
// Состояние сохраняется на диск после каждой мутации.
type Machine struct {
	mu sync.Mutex

	cfg      config.StrategyConfig
	symbol   string
	leverage int

	pos       models.Position
	lastPrice float64

	store   *state.Store
	journal *journal.Journal
	feed    *oifeed.Feed
	events  Events
}

// NewMachine создает машину состояний позиции
func NewMachine(cfg config.StrategyConfig, symbol string, leverage int, store *state.Store, jrnl *journal.Journal, feed *oifeed.Feed, events Events) *Machine {
	if events == nil {
		events = NopEvents{}
	}
	return &Machine{
		cfg:      cfg,
		symbol:   symbol,
		leverage: leverage,
		pos: models.Position{
			Status:       models.StatusNone,
			PositionSize: cfg.PositionSize,
			Leverage:     leverage,
		},
		store:   store,
		journal: jrnl,
		feed:    feed,
		events:  events,
	}
}

// Restore загружает сохраненное состояние. Поврежденные или отсутствующие
// файлы не ошибка: система стартует с пустой позиции.
// Возвращает true, если восстановлена открытая позиция.
func (m *Machine) Restore() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved, err := m.store.LoadPosition()
	if err != nil {
		logger.Warn("Не удалось загрузить состояние позиции, старт с пустой", zap.Error(err))
	} else if saved != nil {
		m.pos = *saved
		if m.pos.IsOpen() {
			logger.Info("Восстановлена открытая позиция",
				zap.String("status", string(m.pos.Status)),
				zap.Float64("entry_price", m.pos.EntryPrice),
				zap.Time("entry_time", m.pos.EntryTime))
			return true
		}
	}

	// История сигналов независима от позиции: восстанавливает память о
	// тренде после ручного закрытия или перезапуска
	if m.pos.OriginalSignal == 0 {
		h, err := m.store.LoadSignalHistory()
		if err != nil {
			logger.Warn("Не удалось загрузить историю сигналов", zap.Error(err))
		} else if h != nil && h.SignalType != 0 {
			m.pos.OriginalSignal = h.SignalType
			m.pos.OriginalSignalTime = h.SignalTime
			m.pos.OriginalTp1 = h.Tp1Price
			m.pos.OriginalTp2 = h.Tp2Price
			m.pos.TrendContinuationCount = h.ContinuationCount
			logger.Info("Загружена история сигналов",
				zap.Int("signal", h.SignalType),
				zap.Time("signal_time", h.SignalTime))
		}
	}
	return false
}

// Snapshot возвращает копию текущей позиции
func (m *Machine) Snapshot() models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// Open открывает позицию по подтвержденному сигналу. Контракт вызова:
// только при пустой позиции; повторное открытие отклоняется.
// Продолжение того же тренда использует гибридную стратегию: новый
// стоп-лосс от текущей цены и исходные цели тейк-профита.
func (m *Machine) Open(sig int, entryPrice float64, reason string, result *models.SignalResult, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.IsOpen() {
		return fmt.Errorf("позиция уже открыта (%s)", m.pos.Status)
	}
	if sig == 0 {
		return fmt.Errorf("нулевой сигнал")
	}
	if entryPrice <= 0 {
		return fmt.Errorf("некорректная цена входа: %f", entryPrice)
	}

	continuation := m.pos.OriginalSignal != 0 && m.pos.OriginalSignal == sig
	if m.pos.OriginalSignal != 0 && m.pos.OriginalSignal != sig {
		logger.Info("Сигнал развернулся, начат новый тренд",
			zap.Int("old", m.pos.OriginalSignal), zap.Int("new", sig))
	}

	slRate := m.cfg.SlPct / 100
	tp1Rate := m.cfg.Tp1Pct / 100
	tp2Rate := m.cfg.Tp2Pct / 100

	var stopLoss, tp1, tp2 float64
	if sig > 0 {
		stopLoss = entryPrice * (1 - slRate)
		if continuation {
			tp1 = m.pos.OriginalTp1
			tp2 = m.pos.OriginalTp2
		} else {
			tp1 = entryPrice * (1 + tp1Rate)
			tp2 = entryPrice * (1 + tp2Rate)
		}
	} else {
		stopLoss = entryPrice * (1 + slRate)
		if continuation {
			tp1 = m.pos.OriginalTp1
			tp2 = m.pos.OriginalTp2
		} else {
			tp1 = entryPrice * (1 - tp1Rate)
			tp2 = entryPrice * (1 - tp2Rate)
		}
	}

	fraction := m.cfg.PositionSize
	if result != nil && result.PositionSize > 0 {
		fraction = result.PositionSize
	}

	status := models.StatusLong
	if sig < 0 {
		status = models.StatusShort
	}

	prev := m.pos
	m.pos = models.Position{
		Status:       status,
		EntryPrice:   entryPrice,
		EntryTime:    now,
		StopLoss:     stopLoss,
		TakeProfit1:  tp1,
		TakeProfit2:  tp2,
		PositionSize: fraction,
		Leverage:     m.leverage,
	}

	if continuation {
		m.pos.OriginalSignal = prev.OriginalSignal
		m.pos.OriginalSignalTime = prev.OriginalSignalTime
		m.pos.OriginalTp1 = prev.OriginalTp1
		m.pos.OriginalTp2 = prev.OriginalTp2
		m.pos.TrendContinuationCount = prev.TrendContinuationCount + 1
		logger.Info("Гибридная стратегия: новый стоп-лосс + исходные тейк-профиты",
			zap.Int("continuation", m.pos.TrendContinuationCount))
	} else {
		m.pos.OriginalSignal = sig
		m.pos.OriginalSignalTime = now
		m.pos.OriginalTp1 = tp1
		m.pos.OriginalTp2 = tp2
		m.pos.TrendContinuationCount = 0

		if err := m.store.SaveSignalHistory(state.SignalHistory{
			SignalType:        sig,
			SignalTime:        now,
			EntryPrice:        entryPrice,
			Tp1Price:          tp1,
			Tp2Price:          tp2,
			ContinuationCount: 0,
		}); err != nil {
			logger.Warn("Не удалось сохранить историю сигналов", zap.Error(err))
		}
	}

	m.persist()
	m.events.OnPositionOpened(m.pos, continuation, result)
	return nil
}

// Tick переоценивает условия выхода по свежей цене. Порядок проверок
// строгий: составной выход время+OI, стоп-лосс, первый тейк-профит
// (только взводит защиту и завершает тик), второй тейк-профит, скользящий
// стоп, стоп безубытка. За тик возможна ровно одна причина выхода.
// Возвращает true, если позиция была закрыта.
func (m *Machine) Tick(price float64, candles []*models.Candle, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pos.IsOpen() {
		return false
	}

	long := m.pos.Status == models.StatusLong
	holdHours := now.Sub(m.pos.EntryTime).Hours()
	m.pos.HoldHours = holdHours

	var profitPct float64
	if long {
		profitPct = (price - m.pos.EntryPrice) / m.pos.EntryPrice
	} else {
		profitPct = (m.pos.EntryPrice - price) / m.pos.EntryPrice
	}
	m.pos.CurrentPnlPct = profitPct * 100
	m.lastPrice = price

	exitReason := ""
	exitPrice := 0.0

	// Составной выход время+OI. Первый этап только взводит стоп, второй
	// требует подтверждения: два последних изменения OI отрицательны.
	costZone := m.cfg.CostZonePct / 100
	if holdHours >= m.cfg.TimeStopHours && math.Abs(profitPct) <= costZone && !m.pos.TimeStopActivated {
		m.pos.TimeStopActivated = true
		m.persist()
		logger.Info("Временной стоп взведен, ожидается разворот OI",
			zap.Float64("hold_hours", holdHours),
			zap.Float64("pnl_pct", m.pos.CurrentPnlPct))
		m.events.OnTimeStopArmed(m.pos)
	}

	if m.pos.TimeStopActivated && m.feed != nil && m.feed.RecentNegativeStreak(oiExitStreak) {
		exitReason = ExitTimeOiStop
		if long {
			exitPrice = price * (1 - slippage)
		} else {
			exitPrice = price * (1 + slippage)
		}
	}

	if exitReason == "" {
		tp1Rate := m.cfg.Tp1Pct / 100
		tp2Rate := m.cfg.Tp2Pct / 100

		switch {
		case !m.pos.BreakevenActivated && crossedStop(long, price, m.pos.StopLoss):
			exitReason = ExitStopLoss
			exitPrice = stopFill(long, m.pos.StopLoss)

		case !m.pos.Tp1Achieved && profitPct >= tp1Rate:
			m.armTp1Protection(long, price, candles)
			return false

		case m.pos.Tp1Achieved && profitPct >= tp2Rate:
			exitReason = ExitTakeProfit2
			exitPrice = stopFill(long, price)

		case m.cfg.TrailAfterTp1 && m.pos.Tp1Achieved && m.pos.TrailStop > 0 &&
			crossedStop(long, price, m.pos.TrailStop):
			exitReason = ExitTrailing
			exitPrice = stopFill(long, m.pos.TrailStop)

		case m.pos.BreakevenActivated && crossedStop(long, price, m.pos.StopLoss):
			exitReason = ExitBreakeven
			exitPrice = stopFill(long, m.pos.StopLoss)
		}
	}

	if exitReason == "" {
		return false
	}

	m.close(exitReason, exitPrice, m.pos.CurrentPnlPct, now)
	return true
}

// armTp1Protection фиксирует достижение TP1 и включает защиту: перенос
// стопа в безубыток и скользящий стоп от экстремума цены после входа
func (m *Machine) armTp1Protection(long bool, price float64, candles []*models.Candle) {
	m.pos.Tp1Achieved = true
	logger.Info("Достигнут первый тейк-профит",
		zap.Float64("pnl_pct", m.pos.CurrentPnlPct))

	if m.cfg.FlipStopToBreakeven {
		if long {
			m.pos.StopLoss = m.pos.EntryPrice * (1 + slippage)
		} else {
			m.pos.StopLoss = m.pos.EntryPrice * (1 - slippage)
		}
		m.pos.BreakevenActivated = true
		logger.Info("Стоп перенесен в безубыток", zap.Float64("stop_loss", m.pos.StopLoss))
	}

	if m.cfg.TrailAfterTp1 {
		extreme := extremeSinceEntry(long, price, candles, m.pos.EntryTime)
		offset := m.cfg.TrailOffsetPct / 100
		if long {
			m.pos.TrailStop = extreme * (1 - offset)
		} else {
			m.pos.TrailStop = extreme * (1 + offset)
		}
		logger.Info("Скользящий стоп установлен",
			zap.Float64("trail_stop", m.pos.TrailStop),
			zap.Float64("extreme", extreme))
	}

	m.persist()
	m.events.OnTp1Reached(m.pos)
}

// ManualClose закрывает позицию по команде оператора. clearHistory
// дополнительно стирает память об исходном тренде и файл истории.
// Возвращает текст для ответа оператору.
func (m *Machine) ManualClose(clearHistory bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pos.IsOpen() {
		if clearHistory {
			m.pos.OriginalSignal = 0
			m.pos.OriginalSignalTime = time.Time{}
			m.pos.OriginalTp1 = 0
			m.pos.OriginalTp2 = 0
			m.pos.TrendContinuationCount = 0
			if err := m.store.ClearSignalHistory(); err != nil {
				logger.Warn("Не удалось удалить историю сигналов", zap.Error(err))
			}
			m.persist()
			return "Позиции нет; история сигналов очищена.", nil
		}
		return "Позиции нет, закрывать нечего.", nil
	}

	closed := m.pos
	exitPrice := m.lastPrice
	if exitPrice == 0 {
		exitPrice = closed.EntryPrice
	}

	m.close(ExitManual, exitPrice, closed.CurrentPnlPct, time.Now().UTC())

	if clearHistory {
		m.pos.OriginalSignal = 0
		m.pos.OriginalSignalTime = time.Time{}
		m.pos.OriginalTp1 = 0
		m.pos.OriginalTp2 = 0
		m.pos.TrendContinuationCount = 0
		if err := m.store.ClearSignalHistory(); err != nil {
			logger.Warn("Не удалось удалить историю сигналов", zap.Error(err))
		}
		m.persist()
		return fmt.Sprintf("Позиция %s закрыта вручную (PnL %.2f%%).\nИстория сигналов очищена: следующий сигнал начнет новый тренд.",
			closed.Status, closed.CurrentPnlPct), nil
	}

	return fmt.Sprintf("Позиция %s закрыта вручную (PnL %.2f%%).\nИстория сигналов сохранена: повторный сигнал того же направления\nполучит новый стоп-лосс и исходные тейк-профиты.",
		closed.Status, closed.CurrentPnlPct), nil
}

// StatusText текстовый отчет о состоянии для оператора
func (m *Machine) StatusText() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pos.IsOpen() {
		text := "Позиции нет, ожидание сигнала."
		if m.pos.OriginalSignal != 0 {
			text += fmt.Sprintf("\n\nПамять тренда: сигнал %+d от %s (TP1 %.4f, TP2 %.4f, продолжений %d)",
				m.pos.OriginalSignal,
				m.pos.OriginalSignalTime.Format("02.01 15:04"),
				m.pos.OriginalTp1, m.pos.OriginalTp2,
				m.pos.TrendContinuationCount)
		}
		return text
	}

	direction := "лонг"
	if m.pos.Status == models.StatusShort {
		direction = "шорт"
	}
	trail := "не активирован"
	if m.pos.TrailStop > 0 {
		trail = fmt.Sprintf("%.4f", m.pos.TrailStop)
	}
	tp1 := "не достигнут"
	if m.pos.Tp1Achieved {
		tp1 = "достигнут"
	}

	return fmt.Sprintf(
		"Текущая позиция: %s\n"+
			"Вход: %.4f (%s)\n"+
			"Текущая цена: %.4f\n"+
			"PnL: %.2f%%\n"+
			"Время удержания: %.1f ч (временной стоп %.0f ч)\n\n"+
			"Стоп-лосс: %.4f\n"+
			"TP1: %.4f (%s)\n"+
			"TP2: %.4f\n"+
			"Скользящий стоп: %s",
		direction,
		m.pos.EntryPrice, m.pos.EntryTime.Format("02.01 15:04"),
		m.lastPrice,
		m.pos.CurrentPnlPct,
		m.pos.HoldHours, m.cfg.TimeStopHours,
		m.pos.StopLoss,
		m.pos.TakeProfit1, tp1,
		m.pos.TakeProfit2,
		trail)
}

// close сбрасывает позицию, сохраняя память об исходном тренде, чтобы
// следующий сигнал того же направления был распознан как продолжение
func (m *Machine) close(exitReason string, exitPrice, pnlPct float64, now time.Time) {
	closed := m.pos

	if m.journal != nil {
		if _, err := m.journal.RecordClose(&closed, m.symbol, exitPrice, pnlPct, exitReason, now); err != nil {
			logger.Warn("Не удалось записать сделку в журнал", zap.Error(err))
		}
	}

	m.pos = models.Position{
		Status:       models.StatusNone,
		PositionSize: m.cfg.PositionSize,
		Leverage:     m.leverage,

		OriginalSignal:         closed.OriginalSignal,
		OriginalSignalTime:     closed.OriginalSignalTime,
		OriginalTp1:            closed.OriginalTp1,
		OriginalTp2:            closed.OriginalTp2,
		TrendContinuationCount: closed.TrendContinuationCount,
	}
	m.persist()

	logger.Info("Позиция закрыта",
		zap.String("reason", exitReason),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl_pct", pnlPct))
	m.events.OnPositionClosed(closed, exitReason, exitPrice, pnlPct)
}

func (m *Machine) persist() {
	if err := m.store.SavePosition(&m.pos); err != nil {
		logger.Error("Не удалось сохранить состояние позиции", zap.Error(err))
	}
}

// crossedStop пересечение стоп-уровня против позиции
func crossedStop(long bool, price, stop float64) bool {
	if long {
		return price <= stop
	}
	return price >= stop
}

// stopFill цена исполнения стопа с поправкой не в пользу трейдера
func stopFill(long bool, level float64) float64 {
	if long {
		return level * (1 - slippage)
	}
	return level * (1 + slippage)
}

// extremeSinceEntry экстремум цены по свечам после входа: максимум хаев
// для лонга, минимум лоев для шорта. Без свечей после входа берется
// текущая цена.
func extremeSinceEntry(long bool, price float64, candles []*models.Candle, entryTime time.Time) float64 {
	extreme := 0.0
	found := false
	for _, c := range candles {
		if c.OpenTime.Before(entryTime) {
			continue
		}
		v := c.High
		if !long {
			v = c.Low
		}
		if !found {
			extreme = v
			found = true
			continue
		}
		if long && v > extreme {
			extreme = v
		}
		if !long && v < extreme {
			extreme = v
		}
	}
	if !found {
		return price
	}
	return extreme
}

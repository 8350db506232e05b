package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/skalibog/bfsa/internal/analysis/indicators"
	"github.com/skalibog/bfsa/internal/analysis/signalgen"
	"github.com/skalibog/bfsa/internal/config"
	"github.com/skalibog/bfsa/internal/oifeed"
	"github.com/skalibog/bfsa/internal/position"
	"github.com/skalibog/bfsa/internal/storage"
	"github.com/skalibog/bfsa/pkg/logger"
	"github.com/skalibog/bfsa/pkg/models"
	"go.uber.org/zap"
)

// heartbeatTicks тиков между записями сердцебиения (10 минут при 10с тике)
const heartbeatTicks = 60

// Exchange источник рыночных данных
type Exchange interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
}

// Monitor главный цикл: раз в час (на заданной минуте, только при пустой
// позиции) проверяет сигнал, на каждом тике ведет открытую позицию.
// Ошибка одного тика никогда не останавливает цикл.
type Monitor struct {
	cfg      *config.Config
	client   Exchange
	engine   *indicators.Engine
	detector *signalgen.Detector
	scorer   *signalgen.Scorer
	feed     *oifeed.Feed
	machine  *position.Machine
	archive  storage.Archive // может быть nil
	events   position.Events

	candles []*models.Candle
	snaps   []models.IndicatorSnapshot

	lastSignalHour int
	loopCount      int
}

// New создает монитор
func New(cfg *config.Config, client Exchange, feed *oifeed.Feed, machine *position.Machine, archive storage.Archive, events position.Events) *Monitor {
	if events == nil {
		events = position.NopEvents{}
	}
	return &Monitor{
		cfg:            cfg,
		client:         client,
		engine:         indicators.NewEngine(),
		detector:       signalgen.NewDetector(cfg.Strategy),
		scorer:         signalgen.NewScorer(cfg.Strategy),
		feed:           feed,
		machine:        machine,
		archive:        archive,
		events:         events,
		lastSignalHour: -1,
	}
}

// Run выполняет цикл мониторинга до отмены контекста
func (m *Monitor) Run(ctx context.Context) {
	logger.Info("Мониторинг запущен",
		zap.String("symbol", m.cfg.Trading.Symbol),
		zap.Int("tick_seconds", m.cfg.Monitor.TickSeconds),
		zap.Int("signal_minute", m.cfg.Monitor.SignalMinute))

	ticker := time.NewTicker(time.Duration(m.cfg.Monitor.TickSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Мониторинг остановлен")
			return
		case <-ticker.C:
			m.tick(ctx, time.Now().UTC())
		}
	}
}

func (m *Monitor) tick(ctx context.Context, now time.Time) {
	m.loopCount++
	if m.loopCount%heartbeatTicks == 0 {
		m.heartbeat()
	}

	pos := m.machine.Snapshot()

	shouldCheckSignal := now.Minute() == m.cfg.Monitor.SignalMinute &&
		now.Hour() != m.lastSignalHour &&
		!pos.IsOpen()
	shouldCheckPosition := pos.IsOpen()

	if !shouldCheckSignal && !shouldCheckPosition {
		return
	}

	if err := m.refresh(ctx, shouldCheckSignal); err != nil {
		// Тик откладывается, следующий придет по таймеру
		logger.Warn("Ошибка обновления рыночных данных, тик отложен", zap.Error(err))
		return
	}

	if shouldCheckSignal {
		m.lastSignalHour = now.Hour()
		m.checkSignal(now)
	}

	if shouldCheckPosition {
		m.checkPosition(ctx, now)
	}
}

// refresh перечитывает свечи и пересчитывает индикаторы
func (m *Monitor) refresh(ctx context.Context, archiveCandle bool) error {
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	candles, err := m.client.GetKlines(fetchCtx, m.cfg.Trading.Symbol, m.cfg.Trading.Interval, m.cfg.Monitor.CandleLimit)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("биржа вернула пустой список свечей")
	}
	m.candles = candles

	snaps, err := m.engine.Compute(candles)
	if err != nil {
		// Недостаточно истории: сигналов не будет, но позиция ведется
		logger.Warn("Индикаторы недоступны", zap.Error(err))
		m.snaps = nil
	} else {
		m.snaps = snaps
	}

	// Архивируется последняя закрытая свеча, раз в час при проверке сигнала
	if archiveCandle && m.archive != nil && len(candles) >= 2 {
		if err := m.archive.SaveCandles(fetchCtx, candles[len(candles)-2:len(candles)-1]); err != nil {
			logger.Warn("Ошибка архивации свечи", zap.Error(err))
		}
	}

	return nil
}

// checkSignal ищет сигнал по последней закрытой свече
func (m *Monitor) checkSignal(now time.Time) {
	oiChange, oiDivergence := m.oiState(now)

	sig, reason := m.detector.Detect(m.snaps, oiChange, oiDivergence)
	if sig == 0 {
		logger.Info("Проверка сигнала", zap.String("result", reason))
		return
	}

	logger.Info("Найден сигнал", zap.Int("signal", sig), zap.String("reason", reason))

	result := &models.SignalResult{
		Symbol:    m.cfg.Trading.Symbol,
		Timestamp: now,
		Signal:    sig,
		Reason:    reason,
		// Оценка по умолчанию при недоступном контексте индикаторов
		Score:        50,
		PositionSize: m.cfg.Strategy.PositionSize,
	}

	if len(m.snaps) >= 2 && len(m.candles) >= 2 {
		last := m.snaps[len(m.snaps)-2]
		closePrice := m.candles[len(m.candles)-2].Close
		score, details := m.scorer.Score(last, closePrice, oiChange, oiDivergence)
		result.Score = score
		result.Details = details
		result.PositionSize = m.scorer.PositionFraction(score)
	}

	m.events.OnSignalDetected(result)

	// Вход оценивается по текущей цене незакрытой свечи
	entryPrice := m.candles[len(m.candles)-1].Close
	if err := m.machine.Open(sig, entryPrice, reason, result, now); err != nil {
		logger.Warn("Открытие позиции отклонено", zap.Error(err))
	}
}

// checkPosition ведет открытую позицию по свежей цене
func (m *Monitor) checkPosition(ctx context.Context, now time.Time) {
	price := m.fetchPrice(ctx)
	if price <= 0 {
		return
	}
	m.machine.Tick(price, m.candles, now)
}

// fetchPrice получает последнюю цену с ограниченным числом повторов.
// После исчерпания попыток откатывается на цену закрытия последней свечи.
func (m *Monitor) fetchPrice(ctx context.Context) float64 {
	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    5 * time.Second,
		Factor: 2,
	}

	for attempt := 0; attempt < m.cfg.Monitor.PriceRetries; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		price, err := m.client.GetLastPrice(fetchCtx, m.cfg.Trading.Symbol)
		cancel()
		if err == nil {
			return price
		}
		logger.Warn("Ошибка получения цены",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(retry.Duration()):
		}
	}

	if len(m.candles) > 0 {
		fallback := m.candles[len(m.candles)-1].Close
		logger.Warn("Цена недоступна, используется закрытие последней свечи",
			zap.Float64("price", fallback))
		return fallback
	}
	return 0
}

// oiState возвращает часовое изменение OI и его расхождение с ценой.
// Меньше двух замеров OI — оба значения нулевые.
func (m *Monitor) oiState(now time.Time) (float64, float64) {
	if m.feed == nil || m.feed.Len() < 2 {
		return 0, 0
	}

	oiChange := m.feed.HourlyChange(now)

	priceChange := 0.0
	if len(m.candles) >= 2 {
		priceNow := m.candles[len(m.candles)-1].Close
		pricePrev := m.candles[len(m.candles)-2].Close
		if pricePrev != 0 {
			priceChange = (priceNow - pricePrev) / pricePrev
		}
	}

	return oiChange, oiChange - priceChange
}

func (m *Monitor) heartbeat() {
	pos := m.machine.Snapshot()
	logger.Info("Сердцебиение системы",
		zap.Int("loop", m.loopCount),
		zap.String("position", string(pos.Status)),
		zap.Int("oi_points", m.feed.Len()))
}

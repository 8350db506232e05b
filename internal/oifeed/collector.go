package oifeed

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/skalibog/bfsa/pkg/logger"
	"github.com/skalibog/bfsa/pkg/models"
	"go.uber.org/zap"
)

// Fetcher источник значений открытого интереса
type Fetcher interface {
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)
}

// Archiver приемник замеров для долговременного архива
type Archiver interface {
	SaveOiSample(ctx context.Context, symbol string, sample models.OiSample) error
}

// Collector собирает открытый интерес с фиксированной частотой в отдельной
// горутине. Замеры привязаны к границам 5-минутных интервалов по настенным
// часам. Ошибки получения данных никогда не останавливают сборщик.
type Collector struct {
	feed    *Feed
	fetcher Fetcher
	archive Archiver // может быть nil
	symbol  string

	checkInterval time.Duration
}

// NewCollector создает сборщик открытого интереса
func NewCollector(feed *Feed, fetcher Fetcher, archive Archiver, symbol string) *Collector {
	return &Collector{
		feed:          feed,
		fetcher:       fetcher,
		archive:       archive,
		symbol:        symbol,
		checkInterval: 30 * time.Second,
	}
}

// Run запускает цикл сбора до отмены контекста
func (c *Collector) Run(ctx context.Context) {
	logger.Info("Сборщик OI запущен: замер каждые 5 минут",
		zap.String("symbol", c.symbol))

	retry := &backoff.Backoff{
		Min:    time.Minute,
		Max:    5 * time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for {
		now := time.Now().UTC()

		if onSampleBoundary(now) {
			if err := c.sample(ctx, now); err != nil {
				logger.Warn("Ошибка замера OI", zap.Error(err))
				if !sleep(ctx, retry.Duration()) {
					return
				}
				continue
			}
			retry.Reset()
		}

		if !sleep(ctx, c.checkInterval) {
			return
		}
	}
}

func (c *Collector) sample(ctx context.Context, now time.Time) error {
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	value, err := c.fetcher.GetOpenInterest(fetchCtx, c.symbol)
	if err != nil {
		return err
	}

	c.feed.Record(value, now)

	if c.archive != nil {
		sample := models.OiSample{Timestamp: now, OpenInterest: value}
		if err := c.archive.SaveOiSample(fetchCtx, c.symbol, sample); err != nil {
			// Архив вспомогательный, его сбой не срывает сбор
			logger.Warn("Ошибка архивации замера OI", zap.Error(err))
		}
	}

	if n := c.feed.Len(); n%5 == 0 {
		logger.Info("Замер OI",
			zap.Float64("value", value),
			zap.Int("points", n))
	}
	return nil
}

// onSampleBoundary истинно в первой половине минуты, кратной пяти. Вместе с
// 30-секундным интервалом проверки это дает ровно один замер на границу.
func onSampleBoundary(now time.Time) bool {
	return now.Minute()%5 == 0 && now.Second() < 30
}

// sleep ждет d или отмены контекста; false при отмене
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

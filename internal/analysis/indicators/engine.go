package indicators

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/bfsa/pkg/models"
)

const (
	maPeriod    = 20
	rsiPeriod   = 14
	cciPeriod   = 20
	macdFast    = 12
	macdSlow    = 26
	stochPeriod = 14
	stcSmooth   = 6

	// MinCandles минимально пригодное окно для расчета
	MinCandles = 50

	// warmupBars свечей до первого валидного снимка (прогрев всех
	// компонентов COO: EMA26 + стохастик 14 + сглаживание 6)
	warmupBars = MinCandles - 1
)

// Engine рассчитывает производные индикаторы по окну свечей.
// Чистая функция от входа, без побочных эффектов.
type Engine struct{}

// NewEngine создает новый движок индикаторов
func NewEngine() *Engine {
	return &Engine{}
}

// Compute возвращает по одному снимку индикаторов на каждую свечу.
// Для окон короче MinCandles возвращает ошибку.
func (e *Engine) Compute(candles []*models.Candle) ([]models.IndicatorSnapshot, error) {
	if len(candles) < MinCandles {
		return nil, fmt.Errorf("недостаточно данных для расчета индикаторов: %d свечей", len(candles))
	}

	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	// Полосы: SMA20 +/- 2 стандартных отклонения
	ma := talib.Sma(closes, maPeriod)
	dev := talib.StdDev(closes, maPeriod, 1.0)

	coo := e.computeCOO(highs, lows, closes)

	snapshots := make([]models.IndicatorSnapshot, n)
	for i := 0; i < n; i++ {
		snap := models.IndicatorSnapshot{
			MA20:  ma[i],
			Upper: ma[i] + 2.0*dev[i],
			Lower: ma[i] - 2.0*dev[i],
			COO:   coo[i],
			Valid: i >= warmupBars,
		}
		if ma[i] != 0 {
			snap.BandwidthPct = (snap.Upper - snap.Lower) / ma[i] * 100
		}
		snap.BullBreak = lows[i] <= ma[i] && closes[i] > ma[i]
		snap.BearBreak = highs[i] >= ma[i] && closes[i] < ma[i]
		snapshots[i] = snap
	}

	return snapshots, nil
}

// computeCOO рассчитывает составной осциллятор: три независимо
// нормированных компонента (импульс, возврат к среднему, сглаженная сила
// тренда), каждый центрирован на 50, затем усреднение и масштабирование,
// чтобы типичные колебания укладывались в [0,100].
func (e *Engine) computeCOO(highs, lows, closes []float64) []float64 {
	n := len(closes)

	rsi := talib.Rsi(closes, rsiPeriod)
	cci := talib.Cci(highs, lows, closes, cciPeriod)

	// Линия MACD как основа компонента силы тренда
	emaFast := talib.Ema(closes, macdFast)
	emaSlow := talib.Ema(closes, macdSlow)
	macd := make([]float64, n)
	for i := 0; i < n; i++ {
		macd[i] = emaFast[i] - emaSlow[i]
	}

	// Стохастик от линии MACD (схемы Шаффа), сглаженный EMA
	stochK := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < stochPeriod-1 {
			stochK[i] = 50
			continue
		}
		lo, hi := macd[i], macd[i]
		for j := i - stochPeriod + 1; j <= i; j++ {
			if macd[j] < lo {
				lo = macd[j]
			}
			if macd[j] > hi {
				hi = macd[j]
			}
		}
		if hi == lo {
			stochK[i] = 50
		} else {
			stochK[i] = (macd[i] - lo) / (hi - lo) * 100
		}
	}
	stc := talib.Ema(stochK, stcSmooth)

	coo := make([]float64, n)
	for i := 0; i < n; i++ {
		nRSI := (rsi[i] - 50) * 1.5
		nCCI := clamp(cci[i], -200, 200) / 2 * 1.2
		nSTC := (stc[i] - 50) * 2.0
		coo[i] = (nRSI+nCCI+nSTC)/4.7*2 + 50
	}

	return coo
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, lo), hi)
}

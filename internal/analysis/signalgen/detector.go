package signalgen

import (
	"fmt"

	"github.com/skalibog/bfsa/internal/analysis/indicators"
	"github.com/skalibog/bfsa/internal/config"
	"github.com/skalibog/bfsa/pkg/models"
)

// Detector определяет направленный сигнал по снимку индикаторов последней
// закрытой свечи и состоянию открытого интереса. Текущая, еще не закрытая
// свеча в оценке не участвует.
type Detector struct {
	cfg config.StrategyConfig
}

// NewDetector создает детектор сигналов
func NewDetector(cfg config.StrategyConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect возвращает сигнал (1=лонг, -1=шорт, 0=нет) и причину.
// Детерминирован: одинаковые вход и состояние OI дают одинаковый результат.
func (d *Detector) Detect(snaps []models.IndicatorSnapshot, oiChange, oiDivergence float64) (int, string) {
	if len(snaps) < indicators.MinCandles {
		return 0, "данных недостаточно"
	}

	// Последняя закрытая свеча
	last := snaps[len(snaps)-2]
	if !last.Valid {
		return 0, "данных недостаточно"
	}

	sig := 0
	reason := ""
	isSqueeze := last.BandwidthPct < d.cfg.SqueezePct

	if isSqueeze {
		if last.BullBreak && last.COO > d.cfg.LongCOO {
			sig = 1
			reason = fmt.Sprintf("сжатие полос + пробой вверх, COO %.1f > %.0f", last.COO, d.cfg.LongCOO)
		} else if last.BearBreak && last.COO < d.cfg.ShortCOO {
			sig = -1
			reason = fmt.Sprintf("сжатие полос + пробой вниз, COO %.1f < %.0f", last.COO, d.cfg.ShortCOO)
		}
	} else if d.cfg.Mode == config.ModeSqueezeOrExtreme {
		if last.COO > 80 && last.BullBreak {
			sig = 1
			reason = fmt.Sprintf("пробой в зоне перекупленности, COO %.1f > 80", last.COO)
		} else if last.COO < 20 && last.BearBreak {
			sig = -1
			reason = fmt.Sprintf("пробой в зоне перепроданности, COO %.1f < 20", last.COO)
		}
	}

	if sig == 0 {
		return 0, "нет сигнала"
	}

	if blocked, why := d.oiVeto(oiChange, oiDivergence); blocked {
		return 0, "сигнал заблокирован OI-фильтром: " + why
	}

	return sig, reason
}

// oiVeto жесткий фильтр: сигнал отбрасывается целиком, а не штрафуется
func (d *Detector) oiVeto(oiChange, oiDivergence float64) (bool, string) {
	floor := d.cfg.OiFilterFloor

	if oiChange < floor {
		return true, fmt.Sprintf("сокращение OI (%.2f%% < %.2f%%)", oiChange*100, floor*100)
	}
	if oiDivergence < floor {
		return true, fmt.Sprintf("расхождение цены и OI (%.2f%% < %.2f%%)", oiDivergence*100, floor*100)
	}
	return false, ""
}

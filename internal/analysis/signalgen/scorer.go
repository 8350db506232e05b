package signalgen

import (
	"fmt"

	"github.com/skalibog/bfsa/internal/config"
	"github.com/skalibog/bfsa/pkg/models"
)

// Scorer оценивает стабильность сигнала по шкале 0-100 для динамического
// расчета доли позиции. Консервативная схема: абсолютные экстремумы
// осциллятора оцениваются ниже умеренно-экстремальных значений.
type Scorer struct {
	cfg config.StrategyConfig
}

// NewScorer создает оценщик качества сигнала
func NewScorer(cfg config.StrategyConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score возвращает суммарную оценку и детализацию по четырем компонентам:
// стабильность COO (0-25), глубина сжатия полос (0-30), поддержка OI
// (0-25 со штрафом за расхождение), качество пробоя (0-20).
// Чистая функция: одинаковый вход дает одинаковую оценку.
func (s *Scorer) Score(snap models.IndicatorSnapshot, closePrice, oiChange, oiDivergence float64) (int, *models.ScoreDetails) {
	score := 0
	details := &models.ScoreDetails{}
	isSqueeze := snap.BandwidthPct < s.cfg.SqueezePct

	// 1. Стабильность COO: оптимальные зоны зависят от фазы полос
	cooScore, cooReason := s.scoreCOO(snap.COO, isSqueeze)
	score += cooScore
	details.CooScore = cooScore
	details.CooReason = cooReason

	// 2. Состояние полос: чем уже, тем лучше
	bwScore, bwReason := scoreBandwidth(snap.BandwidthPct)
	score += bwScore
	details.BwScore = bwScore
	details.BwReason = bwReason

	// 3. Поддержка открытым интересом
	oiScore, oiReason := scoreOi(oiChange)
	if oiDivergence < -0.01 {
		oiScore -= 15
		oiReason += ", расхождение -15"
	}
	score += oiScore
	details.OiScore = oiScore
	details.OiReason = oiReason

	// 4. Качество пробоя MA20
	breakScore, breakReason := scoreBreakout(snap, closePrice)
	score += breakScore
	details.BreakScore = breakScore
	details.BreakReason = breakReason

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, details
}

func (s *Scorer) scoreCOO(coo float64, isSqueeze bool) (int, string) {
	if isSqueeze {
		switch {
		case coo > s.cfg.LongCOO && coo <= 50: // зона лонга
			switch {
			case coo >= 35 && coo <= 45:
				return 25, fmt.Sprintf("COO %.1f (сжатие, оптимум 35-45)", coo)
			case coo < 35:
				return 20, fmt.Sprintf("COO %.1f (сжатие, 30-35 хорошо)", coo)
			default:
				return 15, fmt.Sprintf("COO %.1f (сжатие, 45-50 посредственно)", coo)
			}
		case coo >= 50 && coo < s.cfg.ShortCOO: // зона шорта
			switch {
			case coo >= 52 && coo <= 58:
				return 25, fmt.Sprintf("COO %.1f (сжатие, оптимум 52-58)", coo)
			case coo > 58:
				return 20, fmt.Sprintf("COO %.1f (сжатие, 58-60 хорошо)", coo)
			default:
				return 15, fmt.Sprintf("COO %.1f (сжатие, 50-52 посредственно)", coo)
			}
		case coo <= 20:
			return 20, fmt.Sprintf("COO %.1f (сжатие, глубокая перепроданность)", coo)
		default:
			return 15, fmt.Sprintf("COO %.1f (сжатие, прочие зоны)", coo)
		}
	}

	// Расширение: берем только умеренные зоны 20-30 и 70-80
	switch {
	case coo >= 70 && coo <= 80:
		return 25, fmt.Sprintf("COO %.1f (расширение, оптимум 70-80)", coo)
	case coo >= 20 && coo <= 30:
		return 25, fmt.Sprintf("COO %.1f (расширение, оптимум 20-30)", coo)
	case coo > 80 || coo < 20:
		return 10, fmt.Sprintf("COO %.1f (экстремум, осторожно)", coo)
	default:
		return 15, fmt.Sprintf("COO %.1f (расширение, прочие зоны)", coo)
	}
}

func scoreBandwidth(bw float64) (int, string) {
	switch {
	case bw < 2.5:
		return 30, fmt.Sprintf("ширина %.2f%% (сильное сжатие <2.5%%)", bw)
	case bw < 3.0:
		return 25, fmt.Sprintf("ширина %.2f%% (глубокое сжатие 2.5-3%%)", bw)
	case bw < 4.0:
		return 20, fmt.Sprintf("ширина %.2f%% (сжатие 3-4%%)", bw)
	case bw < 5.0:
		return 10, fmt.Sprintf("ширина %.2f%% (расширение 4-5%%)", bw)
	default:
		return 5, fmt.Sprintf("ширина %.2f%% (сильное расширение >5%%)", bw)
	}
}

func scoreOi(oiChange float64) (int, string) {
	switch {
	case oiChange > 0.01:
		return 25, fmt.Sprintf("OI +%.2f%% (сильная поддержка >1%%)", oiChange*100)
	case oiChange > 0:
		return 15, fmt.Sprintf("OI +%.2f%% (умеренная поддержка 0-1%%)", oiChange*100)
	case oiChange > -0.01:
		return 5, fmt.Sprintf("OI %.2f%% (нейтрально -1%%-0)", oiChange*100)
	default:
		return 0, fmt.Sprintf("OI %.2f%% (сокращение <-1%%)", oiChange*100)
	}
}

func scoreBreakout(snap models.IndicatorSnapshot, closePrice float64) (int, string) {
	if !snap.BullBreak && !snap.BearBreak {
		return 0, "нет действительного пробоя"
	}

	score := 15
	reason := "действительный пробой MA20"

	var breakPct float64
	if snap.BullBreak {
		breakPct = (closePrice - snap.MA20) / snap.MA20 * 100
	} else {
		breakPct = (snap.MA20 - closePrice) / snap.MA20 * 100
	}

	// Узкое окно качества: достаточно, но без перерастяжения
	if breakPct >= 0.1 && breakPct <= 1.0 {
		score += 5
		reason += fmt.Sprintf(" (амплитуда %.2f%% качественная)", breakPct)
	} else {
		reason += fmt.Sprintf(" (амплитуда %.2f%%)", breakPct)
	}
	return score, reason
}

// PositionFraction отображает оценку в долю позиции. Ступенчатая таблица,
// без интерполяции.
func (s *Scorer) PositionFraction(score int) float64 {
	switch {
	case score >= 70:
		return 0.35
	case score >= 55:
		return 0.32
	case score >= 40:
		return s.cfg.PositionSize
	case score >= 25:
		return 0.28
	default:
		return 0.25
	}
}

// Grade текстовая характеристика качества сигнала для уведомлений
func Grade(score int) string {
	switch {
	case score >= 70:
		return "отличный сигнал"
	case score >= 55:
		return "хороший сигнал"
	case score >= 40:
		return "средний сигнал"
	default:
		return "слабый сигнал"
	}
}

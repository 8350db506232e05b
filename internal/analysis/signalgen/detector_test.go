package signalgen

import (
	"strings"
	"testing"

	"github.com/skalibog/bfsa/internal/analysis/indicators"
	"github.com/skalibog/bfsa/internal/config"
	"github.com/skalibog/bfsa/pkg/models"
)

func testStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		SlPct:               3.0,
		Tp1Pct:              4.0,
		Tp2Pct:              8.0,
		TrailAfterTp1:       true,
		FlipStopToBreakeven: true,
		TrailOffsetPct:      0.6,
		SqueezePct:          4.0,
		LongCOO:             30,
		ShortCOO:            60,
		OiFilterFloor:       -0.01,
		TimeStopHours:       80,
		CostZonePct:         0.5,
		PositionSize:        0.30,
		Mode:                config.ModeSqueezeOrExtreme,
	}
}

// snapsWithLast строит окно снимков, где last — последняя закрытая свеча.
// За ней идет снимок текущей незакрытой свечи, который не должен влиять
// на результат.
func snapsWithLast(last models.IndicatorSnapshot) []models.IndicatorSnapshot {
	snaps := make([]models.IndicatorSnapshot, indicators.MinCandles+1)
	for i := range snaps {
		snaps[i] = models.IndicatorSnapshot{Valid: true, COO: 50, BandwidthPct: 6}
	}
	snaps[len(snaps)-2] = last
	// Незакрытая свеча с «идеальным» сигналом: детектор обязан ее игнорировать
	snaps[len(snaps)-1] = models.IndicatorSnapshot{
		Valid: true, COO: 40, BandwidthPct: 2, BullBreak: true,
	}
	return snaps
}

func TestDetectSqueezeLong(t *testing.T) {
	d := NewDetector(testStrategy())

	sig, reason := d.Detect(snapsWithLast(models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 3.0,
		COO:          40,
		BullBreak:    true,
	}), 0.005, 0.002)

	if sig != 1 {
		t.Fatalf("ожидался лонг, получено %d (%s)", sig, reason)
	}
}

func TestDetectSqueezeShort(t *testing.T) {
	d := NewDetector(testStrategy())

	sig, reason := d.Detect(snapsWithLast(models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 2.5,
		COO:          55,
		BearBreak:    true,
	}), 0.005, 0.002)

	if sig != -1 {
		t.Fatalf("ожидался шорт, получено %d (%s)", sig, reason)
	}
}

func TestDetectSqueezeRequiresBreak(t *testing.T) {
	d := NewDetector(testStrategy())

	// Сжатие и подходящий COO, но пробоя нет
	sig, _ := d.Detect(snapsWithLast(models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 3.0,
		COO:          40,
	}), 0.005, 0.002)

	if sig != 0 {
		t.Fatalf("без пробоя сигнала быть не должно, получено %d", sig)
	}
}

func TestDetectSqueezeCOOBounds(t *testing.T) {
	d := NewDetector(testStrategy())

	// COO на границе 30: условие строгое, сигнала нет
	sig, _ := d.Detect(snapsWithLast(models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 3.0,
		COO:          30,
		BullBreak:    true,
	}), 0.005, 0.002)
	if sig != 0 {
		t.Errorf("COO=30 не должен давать лонг, получено %d", sig)
	}

	// COO на границе 60 для шорта
	sig, _ = d.Detect(snapsWithLast(models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 3.0,
		COO:          60,
		BearBreak:    true,
	}), 0.005, 0.002)
	if sig != 0 {
		t.Errorf("COO=60 не должен давать шорт, получено %d", sig)
	}
}

func TestDetectExtremeOutsideSqueeze(t *testing.T) {
	d := NewDetector(testStrategy())

	// Расширение + перекупленность + пробой вверх
	sig, _ := d.Detect(snapsWithLast(models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 6.0,
		COO:          85,
		BullBreak:    true,
	}), 0.005, 0.002)
	if sig != 1 {
		t.Errorf("ожидался лонг в зоне перекупленности, получено %d", sig)
	}

	sig, _ = d.Detect(snapsWithLast(models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 6.0,
		COO:          15,
		BearBreak:    true,
	}), 0.005, 0.002)
	if sig != -1 {
		t.Errorf("ожидался шорт в зоне перепроданности, получено %d", sig)
	}
}

func TestDetectSqueezeOnlyModeIgnoresExtremes(t *testing.T) {
	cfg := testStrategy()
	cfg.Mode = config.ModeSqueeze
	d := NewDetector(cfg)

	sig, _ := d.Detect(snapsWithLast(models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 6.0,
		COO:          85,
		BullBreak:    true,
	}), 0.005, 0.002)

	if sig != 0 {
		t.Errorf("режим squeeze не должен давать сигналы вне сжатия, получено %d", sig)
	}
}

func TestDetectOiVeto(t *testing.T) {
	d := NewDetector(testStrategy())
	last := models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 3.0,
		COO:          40,
		BullBreak:    true,
	}

	// Сокращение OI блокирует сигнал целиком
	sig, reason := d.Detect(snapsWithLast(last), -0.02, 0.002)
	if sig != 0 {
		t.Fatalf("сигнал должен быть заблокирован OI-фильтром, получено %d", sig)
	}
	if !strings.Contains(reason, "OI-фильтром") {
		t.Errorf("причина должна упоминать фильтр, получено %q", reason)
	}

	// Расхождение цены и OI блокирует так же
	sig, _ = d.Detect(snapsWithLast(last), 0.005, -0.02)
	if sig != 0 {
		t.Fatalf("расхождение должно блокировать сигнал, получено %d", sig)
	}

	// Ровно на пороге фильтр не срабатывает
	sig, _ = d.Detect(snapsWithLast(last), -0.01, -0.01)
	if sig != 1 {
		t.Errorf("значение на пороге не должно блокировать, получено %d", sig)
	}
}

func TestDetectInsufficientData(t *testing.T) {
	d := NewDetector(testStrategy())

	sig, reason := d.Detect(make([]models.IndicatorSnapshot, indicators.MinCandles-1), 0, 0)
	if sig != 0 || reason != "данных недостаточно" {
		t.Errorf("короткое окно: получено %d, %q", sig, reason)
	}

	// Непрогретый снимок тоже отклоняется
	snaps := snapsWithLast(models.IndicatorSnapshot{Valid: false, BullBreak: true, COO: 40, BandwidthPct: 3})
	sig, reason = d.Detect(snaps, 0, 0)
	if sig != 0 || reason != "данных недостаточно" {
		t.Errorf("невалидный снимок: получено %d, %q", sig, reason)
	}
}

func TestDetectUsesLastClosedCandle(t *testing.T) {
	d := NewDetector(testStrategy())

	// Последняя закрытая свеча нейтральна, сигнальная только незакрытая
	sig, _ := d.Detect(snapsWithLast(models.IndicatorSnapshot{
		Valid:        true,
		BandwidthPct: 6.0,
		COO:          50,
	}), 0.005, 0.002)

	if sig != 0 {
		t.Errorf("незакрытая свеча не должна давать сигнал, получено %d", sig)
	}
}

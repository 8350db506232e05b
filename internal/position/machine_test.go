package position

import (
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skalibog/bfsa/internal/config"
	"github.com/skalibog/bfsa/internal/journal"
	"github.com/skalibog/bfsa/internal/oifeed"
	"github.com/skalibog/bfsa/internal/state"
	"github.com/skalibog/bfsa/pkg/models"
)

var entryTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

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

// recorder фиксирует события жизненного цикла для проверок
type recorder struct {
	openedContinuation []bool
	tp1Count           int
	armedCount         int
	closedReasons      []string
}

func (r *recorder) OnSignalDetected(*models.SignalResult) {}
func (r *recorder) OnPositionOpened(_ models.Position, continuation bool, _ *models.SignalResult) {
	r.openedContinuation = append(r.openedContinuation, continuation)
}
func (r *recorder) OnTp1Reached(models.Position)    { r.tp1Count++ }
func (r *recorder) OnTimeStopArmed(models.Position) { r.armedCount++ }
func (r *recorder) OnPositionClosed(_ models.Position, reason string, _, _ float64) {
	r.closedReasons = append(r.closedReasons, reason)
}

func newTestMachine(t *testing.T, cfg config.StrategyConfig, feed *oifeed.Feed) (*Machine, *recorder, *journal.Journal) {
	t.Helper()
	dir := t.TempDir()
	store := state.New(filepath.Join(dir, "position.json"), filepath.Join(dir, "history.json"))
	jrnl := journal.New(filepath.Join(dir, "journal.json"))
	rec := &recorder{}
	return NewMachine(cfg, "SOLUSDT", 5, store, jrnl, feed, rec), rec, jrnl
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestOpenLongSetsLevels(t *testing.T) {
	m, rec, _ := newTestMachine(t, testStrategy(), nil)

	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	pos := m.Snapshot()
	if pos.Status != models.StatusLong {
		t.Fatalf("статус %s, ожидался long", pos.Status)
	}
	if !approx(pos.StopLoss, 97) {
		t.Errorf("стоп-лосс %f, ожидалось 97", pos.StopLoss)
	}
	if !approx(pos.TakeProfit1, 104) || !approx(pos.TakeProfit2, 108) {
		t.Errorf("цели %f/%f, ожидалось 104/108", pos.TakeProfit1, pos.TakeProfit2)
	}
	if !approx(pos.OriginalTp1, 104) || !approx(pos.OriginalTp2, 108) {
		t.Errorf("исходные цели %f/%f не зафиксированы", pos.OriginalTp1, pos.OriginalTp2)
	}
	if pos.TrendContinuationCount != 0 {
		t.Errorf("счетчик продолжений %d, ожидалось 0", pos.TrendContinuationCount)
	}
	if len(rec.openedContinuation) != 1 || rec.openedContinuation[0] {
		t.Errorf("ожидалось одно открытие нового тренда, получено %v", rec.openedContinuation)
	}
}

func TestOpenShortSetsLevels(t *testing.T) {
	m, _, _ := newTestMachine(t, testStrategy(), nil)

	if err := m.Open(-1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	pos := m.Snapshot()
	if pos.Status != models.StatusShort {
		t.Fatalf("статус %s, ожидался short", pos.Status)
	}
	if !approx(pos.StopLoss, 103) {
		t.Errorf("стоп-лосс %f, ожидалось 103", pos.StopLoss)
	}
	if !approx(pos.TakeProfit1, 96) || !approx(pos.TakeProfit2, 92) {
		t.Errorf("цели %f/%f, ожидалось 96/92", pos.TakeProfit1, pos.TakeProfit2)
	}
}

func TestOpenRejectsSecondPosition(t *testing.T) {
	m, _, _ := newTestMachine(t, testStrategy(), nil)

	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}
	if err := m.Open(-1, 101, "тест", nil, entryTime.Add(time.Hour)); err == nil {
		t.Fatal("повторное открытие должно отклоняться")
	}
}

func TestOpenUsesSignalFraction(t *testing.T) {
	m, _, _ := newTestMachine(t, testStrategy(), nil)

	result := &models.SignalResult{Signal: 1, Score: 75, PositionSize: 0.35}
	if err := m.Open(1, 100, "тест", result, entryTime); err != nil {
		t.Fatal(err)
	}
	if got := m.Snapshot().PositionSize; !approx(got, 0.35) {
		t.Errorf("доля позиции %f, ожидалось 0.35", got)
	}
}

func TestTickStopLoss(t *testing.T) {
	m, rec, jrnl := newTestMachine(t, testStrategy(), nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	closed := m.Tick(96.5, nil, entryTime.Add(2*time.Hour))
	if !closed {
		t.Fatal("цена ниже стопа должна закрывать позицию")
	}

	pos := m.Snapshot()
	if pos.IsOpen() {
		t.Fatal("после закрытия позиция должна быть пустой")
	}
	// Память тренда сохраняется для гибридной стратегии
	if pos.OriginalSignal != 1 || !approx(pos.OriginalTp1, 104) {
		t.Errorf("память тренда потеряна: сигнал %d, tp1 %f", pos.OriginalSignal, pos.OriginalTp1)
	}

	if len(rec.closedReasons) != 1 || rec.closedReasons[0] != ExitStopLoss {
		t.Errorf("причины закрытия %v, ожидалось [SL]", rec.closedReasons)
	}

	trades, err := jrnl.Trades()
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].ExitReason != ExitStopLoss {
		t.Errorf("журнал: %+v", trades)
	}
}

func TestTickTp1ArmsProtection(t *testing.T) {
	m, rec, _ := newTestMachine(t, testStrategy(), nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	candles := []*models.Candle{
		{OpenTime: entryTime.Add(-time.Hour), High: 120, Low: 95}, // до входа, игнорируется
		{OpenTime: entryTime.Add(time.Hour), High: 105.5, Low: 99.5},
	}

	closed := m.Tick(104.5, candles, entryTime.Add(2*time.Hour))
	if closed {
		t.Fatal("достижение TP1 не закрывает позицию")
	}

	pos := m.Snapshot()
	if !pos.Tp1Achieved {
		t.Fatal("TP1 должен быть зафиксирован")
	}
	if !pos.BreakevenActivated || !approx(pos.StopLoss, 100*1.001) {
		t.Errorf("стоп безубытка %f (активирован=%v), ожидалось %f", pos.StopLoss, pos.BreakevenActivated, 100.1)
	}
	// Скользящий стоп от максимума свечей после входа
	if !approx(pos.TrailStop, 105.5*(1-0.006)) {
		t.Errorf("скользящий стоп %f, ожидалось %f", pos.TrailStop, 105.5*0.994)
	}
	if rec.tp1Count != 1 {
		t.Errorf("событий TP1 %d, ожидалось 1", rec.tp1Count)
	}

	// Повторный тик выше скользящего стопа защиту не перевзводит
	m.Tick(105.0, candles, entryTime.Add(3*time.Hour))
	if rec.tp1Count != 1 {
		t.Errorf("TP1 перевзведен: событий %d", rec.tp1Count)
	}
}

func TestTickTp2ClosesPosition(t *testing.T) {
	m, rec, _ := newTestMachine(t, testStrategy(), nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	m.Tick(104.5, nil, entryTime.Add(time.Hour))
	closed := m.Tick(108.5, nil, entryTime.Add(2*time.Hour))

	if !closed {
		t.Fatal("достижение TP2 должно закрывать позицию")
	}
	if rec.closedReasons[len(rec.closedReasons)-1] != ExitTakeProfit2 {
		t.Errorf("причина %v, ожидалось TP2", rec.closedReasons)
	}
}

func TestTickTrailingStop(t *testing.T) {
	m, rec, _ := newTestMachine(t, testStrategy(), nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	candles := []*models.Candle{
		{OpenTime: entryTime.Add(time.Hour), High: 105.5, Low: 99.5},
	}
	m.Tick(104.5, candles, entryTime.Add(2*time.Hour))

	trail := m.Snapshot().TrailStop
	closed := m.Tick(trail-0.1, candles, entryTime.Add(3*time.Hour))

	if !closed {
		t.Fatal("пересечение скользящего стопа должно закрывать позицию")
	}
	if rec.closedReasons[len(rec.closedReasons)-1] != ExitTrailing {
		t.Errorf("причина %v, ожидалось TRAIL", rec.closedReasons)
	}
}

func TestTickBreakevenExit(t *testing.T) {
	cfg := testStrategy()
	cfg.TrailAfterTp1 = false
	m, rec, _ := newTestMachine(t, cfg, nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	m.Tick(104.5, nil, entryTime.Add(time.Hour))

	pos := m.Snapshot()
	if pos.TrailStop != 0 {
		t.Fatalf("скользящий стоп отключен конфигурацией, получено %f", pos.TrailStop)
	}

	// Откат к стопу безубытка
	closed := m.Tick(100.05, nil, entryTime.Add(2*time.Hour))
	if !closed {
		t.Fatal("откат к безубытку должен закрывать позицию")
	}
	if rec.closedReasons[len(rec.closedReasons)-1] != ExitBreakeven {
		t.Errorf("причина %v, ожидалось BREAK_EVEN", rec.closedReasons)
	}
}

func TestTickTimeStopArmsOnlyInCostZone(t *testing.T) {
	m, rec, _ := newTestMachine(t, testStrategy(), nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	late := entryTime.Add(81 * time.Hour)

	// Заметная прибыль: стоп не взводится
	m.Tick(102, nil, late)
	if m.Snapshot().TimeStopActivated {
		t.Fatal("вне зоны безубыточности временной стоп не взводится")
	}

	// Цена около входа: взводится, но без подтверждения OI не закрывает
	closed := m.Tick(100.2, nil, late.Add(time.Minute))
	if closed {
		t.Fatal("без подтверждения OI закрытия быть не должно")
	}
	if !m.Snapshot().TimeStopActivated {
		t.Fatal("временной стоп должен быть взведен")
	}
	if rec.armedCount != 1 {
		t.Errorf("событий взведения %d, ожидалось 1", rec.armedCount)
	}
}

func TestTickTimeOiStopConfirmedByStreak(t *testing.T) {
	feed := oifeed.NewFeed()
	ts := entryTime
	for _, v := range []float64{1000, 990, 980} { // два отрицательных изменения
		feed.Record(v, ts)
		ts = ts.Add(5 * time.Minute)
	}

	m, rec, _ := newTestMachine(t, testStrategy(), feed)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	closed := m.Tick(100.2, nil, entryTime.Add(81*time.Hour))
	if !closed {
		t.Fatal("взведенный стоп с отрицательной серией OI должен закрывать позицию")
	}
	if rec.closedReasons[0] != ExitTimeOiStop {
		t.Errorf("причина %v, ожидалось TIME_OI_STOP", rec.closedReasons)
	}
}

func TestTickTimeOiStopBeatsStopLoss(t *testing.T) {
	feed := oifeed.NewFeed()
	m, rec, _ := newTestMachine(t, testStrategy(), feed)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	// Стоп взводится около входа, OI еще не подтверждает
	late := entryTime.Add(81 * time.Hour)
	m.Tick(100.2, nil, late)

	// Теперь OI подтверждает, а цена одновременно пробила стоп-лосс
	ts := late
	for _, v := range []float64{1000, 990, 980} {
		feed.Record(v, ts)
		ts = ts.Add(5 * time.Minute)
	}
	closed := m.Tick(96.5, nil, late.Add(time.Hour))

	if !closed {
		t.Fatal("позиция должна закрыться")
	}
	// Составной выход имеет приоритет над стоп-лоссом
	if rec.closedReasons[0] != ExitTimeOiStop {
		t.Errorf("причина %v, ожидалось TIME_OI_STOP", rec.closedReasons)
	}
}

func TestContinuationReusesTargets(t *testing.T) {
	m, rec, _ := newTestMachine(t, testStrategy(), nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}
	m.Tick(96.5, nil, entryTime.Add(time.Hour)) // выход по стопу

	// Повторный сигнал того же направления: гибридная стратегия
	if err := m.Open(1, 98, "тест", nil, entryTime.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	pos := m.Snapshot()
	if !approx(pos.StopLoss, 98*0.97) {
		t.Errorf("стоп-лосс %f, ожидался новый от цены входа %f", pos.StopLoss, 98*0.97)
	}
	if !approx(pos.TakeProfit1, 104) || !approx(pos.TakeProfit2, 108) {
		t.Errorf("цели %f/%f, ожидались исходные 104/108", pos.TakeProfit1, pos.TakeProfit2)
	}
	if pos.TrendContinuationCount != 1 {
		t.Errorf("счетчик продолжений %d, ожидалось 1", pos.TrendContinuationCount)
	}
	if len(rec.openedContinuation) != 2 || !rec.openedContinuation[1] {
		t.Errorf("второе открытие должно быть продолжением: %v", rec.openedContinuation)
	}
}

func TestOppositeSignalStartsNewTrend(t *testing.T) {
	m, rec, _ := newTestMachine(t, testStrategy(), nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}
	m.Tick(96.5, nil, entryTime.Add(time.Hour))

	// Разворот: новый тренд со свежими целями
	if err := m.Open(-1, 98, "тест", nil, entryTime.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	pos := m.Snapshot()
	if !approx(pos.TakeProfit1, 98*0.96) || !approx(pos.TakeProfit2, 98*0.92) {
		t.Errorf("цели %f/%f, ожидались свежие от цены 98", pos.TakeProfit1, pos.TakeProfit2)
	}
	if pos.TrendContinuationCount != 0 {
		t.Errorf("счетчик продолжений %d, ожидалось 0", pos.TrendContinuationCount)
	}
	if rec.openedContinuation[1] {
		t.Error("разворот не должен считаться продолжением")
	}
}

func TestRestoreOpenPosition(t *testing.T) {
	dir := t.TempDir()
	store := state.New(filepath.Join(dir, "position.json"), filepath.Join(dir, "history.json"))

	a := NewMachine(testStrategy(), "SOLUSDT", 5, store, nil, nil, nil)
	if err := a.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}

	b := NewMachine(testStrategy(), "SOLUSDT", 5, store, nil, nil, nil)
	if !b.Restore() {
		t.Fatal("открытая позиция должна восстанавливаться")
	}

	pos := b.Snapshot()
	if pos.Status != models.StatusLong || !approx(pos.EntryPrice, 100) {
		t.Errorf("восстановлено %+v", pos)
	}
}

func TestRestoreTrendMemoryAfterClose(t *testing.T) {
	dir := t.TempDir()
	store := state.New(filepath.Join(dir, "position.json"), filepath.Join(dir, "history.json"))

	a := NewMachine(testStrategy(), "SOLUSDT", 5, store, nil, nil, nil)
	if err := a.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}
	a.Tick(96.5, nil, entryTime.Add(time.Hour))

	// После перезапуска память тренда доступна для гибридной стратегии
	b := NewMachine(testStrategy(), "SOLUSDT", 5, store, nil, nil, nil)
	if b.Restore() {
		t.Fatal("открытой позиции быть не должно")
	}

	pos := b.Snapshot()
	if pos.OriginalSignal != 1 || !approx(pos.OriginalTp1, 104) {
		t.Errorf("память тренда не восстановлена: %+v", pos)
	}
}

func TestManualCloseKeepsHistory(t *testing.T) {
	m, rec, _ := newTestMachine(t, testStrategy(), nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}
	m.Tick(101, nil, entryTime.Add(time.Hour))

	reply, err := m.ManualClose(false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "сохранена") {
		t.Errorf("ответ оператору: %q", reply)
	}

	pos := m.Snapshot()
	if pos.IsOpen() {
		t.Fatal("позиция должна быть закрыта")
	}
	if pos.OriginalSignal != 1 {
		t.Error("память тренда должна сохраниться")
	}
	if rec.closedReasons[0] != ExitManual {
		t.Errorf("причина %v, ожидалось MANUAL", rec.closedReasons)
	}
}

func TestManualCloseClearsHistory(t *testing.T) {
	m, _, _ := newTestMachine(t, testStrategy(), nil)
	if err := m.Open(1, 100, "тест", nil, entryTime); err != nil {
		t.Fatal(err)
	}
	m.Tick(101, nil, entryTime.Add(time.Hour))

	if _, err := m.ManualClose(true); err != nil {
		t.Fatal(err)
	}

	pos := m.Snapshot()
	if pos.OriginalSignal != 0 || pos.OriginalTp1 != 0 {
		t.Errorf("память тренда должна быть стерта: %+v", pos)
	}
}

func TestManualCloseWithoutPosition(t *testing.T) {
	m, _, _ := newTestMachine(t, testStrategy(), nil)

	reply, err := m.ManualClose(false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "нечего") {
		t.Errorf("ответ оператору: %q", reply)
	}
}

package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/skalibog/bfsa/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "position.json"), filepath.Join(dir, "history.json"))
}

func TestPositionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	pos := &models.Position{
		Status:                 models.StatusLong,
		EntryPrice:             150.25,
		EntryTime:              time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		StopLoss:               145.74,
		TakeProfit1:            156.26,
		TakeProfit2:            162.27,
		Tp1Achieved:            true,
		BreakevenActivated:     true,
		PositionSize:           0.32,
		Leverage:               5,
		OriginalSignal:         1,
		OriginalSignalTime:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		OriginalTp1:            156.26,
		OriginalTp2:            162.27,
		TrendContinuationCount: 2,
	}

	if err := s.SavePosition(pos); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.LoadPosition()
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("позиция не загружена")
	}
	if *loaded != *pos {
		t.Errorf("позиция после загрузки отличается:\n было %+v\nстало %+v", pos, loaded)
	}
}

func TestLoadPositionMissingFile(t *testing.T) {
	s := newTestStore(t)

	pos, err := s.LoadPosition()
	if err != nil {
		t.Fatalf("отсутствие файла не ошибка, получено %v", err)
	}
	if pos != nil {
		t.Errorf("ожидалась пустая позиция, получено %+v", pos)
	}
}

func TestSignalHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	h := SignalHistory{
		SignalType:        -1,
		SignalTime:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		EntryPrice:        150.25,
		Tp1Price:          144.24,
		Tp2Price:          138.23,
		ContinuationCount: 1,
	}
	if err := s.SaveSignalHistory(h); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadSignalHistory()
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("история не загружена")
	}
	if loaded.SignalType != h.SignalType || loaded.Tp1Price != h.Tp1Price ||
		loaded.ContinuationCount != h.ContinuationCount {
		t.Errorf("история после загрузки отличается: %+v", loaded)
	}
	if loaded.LastUpdate.IsZero() {
		t.Error("время обновления должно проставляться при сохранении")
	}
}

func TestClearSignalHistory(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveSignalHistory(SignalHistory{SignalType: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearSignalHistory(); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadSignalHistory()
	if err != nil {
		t.Fatal(err)
	}
	if loaded != nil {
		t.Errorf("после очистки история должна отсутствовать, получено %+v", loaded)
	}

	// Повторная очистка несуществующего файла не ошибка
	if err := s.ClearSignalHistory(); err != nil {
		t.Errorf("повторная очистка: %v", err)
	}
}

package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/skalibog/bfsa/pkg/models"
)

func TestRecordCloseAppends(t *testing.T) {
	j := New(filepath.Join(t.TempDir(), "journal.json"))

	pos := &models.Position{
		Status:     models.StatusLong,
		EntryPrice: 150.123456,
		EntryTime:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		HoldHours:  5.5,
	}
	exitTime := time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)

	record, err := j.RecordClose(pos, "SOLUSDT", 156.987654, 4.571234, "TP2", exitTime)
	if err != nil {
		t.Fatal(err)
	}

	if record.ID == "" {
		t.Error("запись должна получить идентификатор")
	}
	if record.Direction != "long" {
		t.Errorf("направление %q, ожидалось long", record.Direction)
	}
	// Цены округляются до 4 знаков, результат до 2
	if record.EntryPrice != "150.1235" {
		t.Errorf("цена входа %q, ожидалось 150.1235", record.EntryPrice)
	}
	if record.ExitPrice != "156.9877" {
		t.Errorf("цена выхода %q, ожидалось 156.9877", record.ExitPrice)
	}
	if record.ProfitPct != "4.57" {
		t.Errorf("результат %q, ожидалось 4.57", record.ProfitPct)
	}

	// Вторая запись дописывается, первая сохраняется
	pos.Status = models.StatusShort
	if _, err := j.RecordClose(pos, "SOLUSDT", 140, -2.5, "SL", exitTime.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	trades, err := j.Trades()
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("записей %d, ожидалось 2", len(trades))
	}
	if trades[0].ExitReason != "TP2" || trades[1].ExitReason != "SL" {
		t.Errorf("порядок записей нарушен: %s, %s", trades[0].ExitReason, trades[1].ExitReason)
	}
	if trades[0].ID == trades[1].ID {
		t.Error("идентификаторы записей должны различаться")
	}
}

func TestTradesEmptyJournal(t *testing.T) {
	j := New(filepath.Join(t.TempDir(), "journal.json"))

	trades, err := j.Trades()
	if err != nil {
		t.Fatalf("пустой журнал не ошибка, получено %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("ожидался пустой журнал, получено %d записей", len(trades))
	}
}

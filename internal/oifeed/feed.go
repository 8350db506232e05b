package oifeed

import (
	"sync"
	"time"

	"github.com/skalibog/bfsa/pkg/logger"
	"github.com/skalibog/bfsa/pkg/models"
	"go.uber.org/zap"
)

// Capacity ограничение буферов: ~48 часов при замерах раз в 5 минут
const Capacity = 576

// hourlySamples замеров в часе при 5-минутной частоте
const hourlySamples = 12

// Feed потокобезопасный ряд замеров открытого интереса и их изменений.
// Один мьютекс покрывает оба буфера: читатель никогда не увидит замер без
// соответствующего ему изменения.
type Feed struct {
	mu      sync.Mutex
	samples []models.OiSample
	changes []models.OiChange
}

// NewFeed создает пустой ряд
func NewFeed() *Feed {
	return &Feed{}
}

// Record добавляет замер и выводит изменение относительно предыдущего.
// Неположительные значения отбрасываются с записью в лог.
func (f *Feed) Record(value float64, now time.Time) {
	if value <= 0 {
		logger.Warn("Отброшен неположительный замер OI", zap.Float64("value", value))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.samples) > 0 {
		prev := f.samples[len(f.samples)-1].OpenInterest
		if prev > 0 {
			f.changes = append(f.changes, models.OiChange{
				Timestamp:   now,
				ChangeRatio: (value - prev) / prev,
			})
			if len(f.changes) > Capacity {
				f.changes = f.changes[len(f.changes)-Capacity:]
			}
		} else {
			logger.Warn("Предыдущий замер OI неположителен, изменение пропущено",
				zap.Float64("prev", prev))
		}
	}

	f.samples = append(f.samples, models.OiSample{Timestamp: now, OpenInterest: value})
	if len(f.samples) > Capacity {
		f.samples = f.samples[len(f.samples)-Capacity:]
	}
}

// HourlyChange возвращает относительное изменение OI за последний час.
// Ищется самый свежий замер старше часа; если такого нет, берется
// двенадцатый с конца. Меньше двенадцати замеров — изменение считается
// нулевым.
func (f *Feed) HourlyChange(now time.Time) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.samples) < hourlySamples {
		return 0
	}

	oiNow := f.samples[len(f.samples)-1].OpenInterest
	oneHourAgo := now.Add(-time.Hour)

	var oiBefore float64
	found := false
	for i := len(f.samples) - 2; i >= 0; i-- {
		if !f.samples[i].Timestamp.After(oneHourAgo) {
			oiBefore = f.samples[i].OpenInterest
			found = true
			break
		}
	}
	if !found {
		oiBefore = f.samples[len(f.samples)-hourlySamples].OpenInterest
	}

	if oiBefore <= 0 {
		return 0
	}
	return (oiNow - oiBefore) / oiBefore
}

// RecentNegativeStreak сообщает, были ли последние n изменений строго
// отрицательными. Используется только как условие выхода из позиции.
func (f *Feed) RecentNegativeStreak(n int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.changes) < n {
		return false
	}
	for _, c := range f.changes[len(f.changes)-n:] {
		if c.ChangeRatio >= 0 {
			return false
		}
	}
	return true
}

// Len возвращает количество накопленных замеров
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

// Snapshot возвращает согласованные копии обоих буферов
func (f *Feed) Snapshot() ([]models.OiSample, []models.OiChange) {
	f.mu.Lock()
	defer f.mu.Unlock()

	samples := make([]models.OiSample, len(f.samples))
	copy(samples, f.samples)
	changes := make([]models.OiChange, len(f.changes))
	copy(changes, f.changes)
	return samples, changes
}

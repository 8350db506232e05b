package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/bfsa/pkg/models"
)

// Journal ведет журнал закрытых сделок в JSON-файле. Цены и результат
// округляются через decimal, чтобы в отчетах не было двоичных хвостов.
type Journal struct {
	mu   sync.Mutex
	path string
}

// New создает журнал сделок
func New(path string) *Journal {
	return &Journal{path: path}
}

// RecordClose добавляет запись о закрытой сделке
func (j *Journal) RecordClose(pos *models.Position, symbol string, exitPrice, profitPct float64, exitReason string, exitTime time.Time) (*models.TradeRecord, error) {
	record := &models.TradeRecord{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Direction:  string(pos.Status),
		EntryPrice: decimal.NewFromFloat(pos.EntryPrice).Round(4).String(),
		ExitPrice:  decimal.NewFromFloat(exitPrice).Round(4).String(),
		ProfitPct:  decimal.NewFromFloat(profitPct).Round(2).String(),
		ExitReason: exitReason,
		EntryTime:  pos.EntryTime,
		ExitTime:   exitTime,
		HoldHours:  pos.HoldHours,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.readAll()
	if err != nil {
		return nil, err
	}
	records = append(records, *record)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации журнала: %w", err)
	}
	if err := os.WriteFile(j.path, data, 0o644); err != nil {
		return nil, fmt.Errorf("ошибка записи журнала: %w", err)
	}
	return record, nil
}

// Trades возвращает все записи журнала
func (j *Journal) Trades() ([]models.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readAll()
}

func (j *Journal) readAll() ([]models.TradeRecord, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []models.TradeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("ошибка разбора журнала: %w", err)
	}
	return records, nil
}

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/skalibog/bfsa/pkg/models"
)

// stateVersion версия формата файла состояния
const stateVersion = "V3"

// positionFile формат файла состояния позиции
type positionFile struct {
	Position models.Position `json:"position"`
	SavedAt  string          `json:"saved_at"`
	Version  string          `json:"version"`
}

// SignalHistory запись об исходном сигнале, независимая от позиции.
// Хранится отдельно, чтобы переживать ручное закрытие и перезапуски.
type SignalHistory struct {
	SignalType        int       `json:"signal_type"`
	SignalTime        time.Time `json:"signal_time"`
	EntryPrice        float64   `json:"entry_price"`
	Tp1Price          float64   `json:"tp1_price"`
	Tp2Price          float64   `json:"tp2_price"`
	ContinuationCount int       `json:"continuation_count"`
	LastUpdate        time.Time `json:"last_update"`
}

// Store хранит состояние позиции и историю сигналов в JSON-файлах.
// Запись синхронная: после каждой мутации позиции состояние уже на диске.
type Store struct {
	positionPath string
	historyPath  string
}

// New создает хранилище состояния
func New(positionPath, historyPath string) *Store {
	return &Store{
		positionPath: positionPath,
		historyPath:  historyPath,
	}
}

// SavePosition сохраняет позицию на диск
func (s *Store) SavePosition(pos *models.Position) error {
	file := positionFile{
		Position: *pos,
		SavedAt:  time.Now().UTC().Format(time.RFC3339),
		Version:  stateVersion,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации позиции: %w", err)
	}
	if err := os.WriteFile(s.positionPath, data, 0o644); err != nil {
		return fmt.Errorf("ошибка записи файла позиции: %w", err)
	}
	return nil
}

// LoadPosition загружает позицию. Отсутствие файла не ошибка: (nil, nil).
func (s *Store) LoadPosition() (*models.Position, error) {
	data, err := os.ReadFile(s.positionPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения файла позиции: %w", err)
	}

	var file positionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла позиции: %w", err)
	}

	pos := file.Position
	return &pos, nil
}

// SaveSignalHistory сохраняет историю сигналов
func (s *Store) SaveSignalHistory(h SignalHistory) error {
	h.LastUpdate = time.Now().UTC()

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации истории сигналов: %w", err)
	}
	if err := os.WriteFile(s.historyPath, data, 0o644); err != nil {
		return fmt.Errorf("ошибка записи истории сигналов: %w", err)
	}
	return nil
}

// LoadSignalHistory загружает историю сигналов. Отсутствие файла: (nil, nil).
func (s *Store) LoadSignalHistory() (*SignalHistory, error) {
	data, err := os.ReadFile(s.historyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения истории сигналов: %w", err)
	}

	var h SignalHistory
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("ошибка разбора истории сигналов: %w", err)
	}
	return &h, nil
}

// ClearSignalHistory удаляет файл истории сигналов
func (s *Store) ClearSignalHistory() error {
	if err := os.Remove(s.historyPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления истории сигналов: %w", err)
	}
	return nil
}

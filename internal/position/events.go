package position

import (
	"github.com/skalibog/bfsa/pkg/models"
)

// Events получает уведомления о переходах жизненного цикла позиции.
// Реализации не должны блокировать: вызовы идут из цикла мониторинга.
type Events interface {
	// OnSignalDetected найден ненулевой сигнал (до открытия позиции)
	OnSignalDetected(result *models.SignalResult)
	// OnPositionOpened позиция открыта
	OnPositionOpened(pos models.Position, continuation bool, result *models.SignalResult)
	// OnTp1Reached достигнут первый тейк-профит, защита активирована
	OnTp1Reached(pos models.Position)
	// OnTimeStopArmed взведен временной стоп, ожидается подтверждение по OI
	OnTimeStopArmed(pos models.Position)
	// OnPositionClosed позиция закрыта
	OnPositionClosed(pos models.Position, exitReason string, exitPrice, pnlPct float64)
}

// NopEvents реализация Events без действий
type NopEvents struct{}

func (NopEvents) OnSignalDetected(*models.SignalResult)                          {}
func (NopEvents) OnPositionOpened(models.Position, bool, *models.SignalResult)   {}
func (NopEvents) OnTp1Reached(models.Position)                                   {}
func (NopEvents) OnTimeStopArmed(models.Position)                                {}
func (NopEvents) OnPositionClosed(models.Position, string, float64, float64)     {}

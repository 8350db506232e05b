package models

import (
	"time"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// OiSample представляет замер открытого интереса
type OiSample struct {
	Timestamp    time.Time
	OpenInterest float64
}

// OiChange представляет изменение открытого интереса между соседними замерами
type OiChange struct {
	Timestamp   time.Time
	ChangeRatio float64
}

// IndicatorSnapshot представляет рассчитанные индикаторы по одной свече.
// Valid=false, пока окно индикаторов не прогрето.
type IndicatorSnapshot struct {
	MA20         float64
	Upper        float64
	Lower        float64
	BandwidthPct float64
	COO          float64
	BullBreak    bool
	BearBreak    bool
	Valid        bool
}

// PositionStatus статус позиции
type PositionStatus string

const (
	StatusNone  PositionStatus = "none"
	StatusLong  PositionStatus = "long"
	StatusShort PositionStatus = "short"
)

// Position представляет единственную открытую позицию системы
type Position struct {
	Status      PositionStatus `json:"status"`
	EntryPrice  float64        `json:"entry_price"`
	EntryTime   time.Time      `json:"entry_time"`
	StopLoss    float64        `json:"stop_loss"`
	TakeProfit1 float64        `json:"take_profit1"`
	TakeProfit2 float64        `json:"take_profit2"`
	TrailStop   float64        `json:"trail_stop"` // 0 = не активирован

	Tp1Achieved        bool `json:"tp1_achieved"`
	BreakevenActivated bool `json:"breakeven_activated"`
	TimeStopActivated  bool `json:"time_stop_activated"`

	PositionSize float64 `json:"position_size"`
	Leverage     int     `json:"leverage"`

	CurrentPnlPct float64 `json:"current_pnl_pct"`
	HoldHours     float64 `json:"hold_hours"`

	// Информация об исходном тренде (гибридная стратегия: при продолжении
	// тренда берется новый стоп-лосс и исходные цели тейк-профита)
	OriginalSignal         int       `json:"original_signal"` // 1=long, -1=short
	OriginalSignalTime     time.Time `json:"original_signal_time"`
	OriginalTp1            float64   `json:"original_tp1"`
	OriginalTp2            float64   `json:"original_tp2"`
	TrendContinuationCount int       `json:"trend_continuation_count"`
}

// IsOpen сообщает, открыта ли позиция
func (p *Position) IsOpen() bool {
	return p.Status == StatusLong || p.Status == StatusShort
}

// ScoreDetails детализация оценки качества сигнала по компонентам
type ScoreDetails struct {
	CooScore    int
	CooReason   string
	BwScore     int
	BwReason    string
	OiScore     int
	OiReason    string
	BreakScore  int
	BreakReason string
}

// SignalResult представляет результат проверки сигнала
type SignalResult struct {
	Symbol       string
	Timestamp    time.Time
	Signal       int // 1=long, -1=short, 0=нет сигнала
	Reason       string
	Score        int
	Details      *ScoreDetails
	PositionSize float64
}

// TradeRecord запись о закрытой сделке в журнале
type TradeRecord struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	EntryPrice string    `json:"entry_price"`
	ExitPrice  string    `json:"exit_price"`
	ProfitPct  string    `json:"profit_pct"`
	ExitReason string    `json:"exit_reason"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	HoldHours  float64   `json:"hold_hours"`
}

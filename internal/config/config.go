package config

import (
	"fmt"
	"os"

	"github.com/skalibog/bfsa/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Trading  TradingConfig  `yaml:"trading"`
	Strategy StrategyConfig `yaml:"strategy"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Storage  StorageConfig  `yaml:"storage"`
	Files    FilesConfig    `yaml:"files"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торгуемого инструмента
type TradingConfig struct {
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`
	Leverage int    `yaml:"leverage"`
}

// SignalMode режим генерации сигналов
type SignalMode string

const (
	// ModeSqueeze сигналы только при сжатии полос
	ModeSqueeze SignalMode = "squeeze"
	// ModeSqueezeOrExtreme дополнительно разрешает сигналы в экстремальных
	// зонах осциллятора вне сжатия
	ModeSqueezeOrExtreme SignalMode = "squeeze_or_extreme"
)

// StrategyConfig содержит все параметры стратегии
type StrategyConfig struct {
	SlPct               float64    `yaml:"sl_pct"`                 // стоп-лосс, %
	Tp1Pct              float64    `yaml:"tp1_pct"`                // первый тейк-профит, %
	Tp2Pct              float64    `yaml:"tp2_pct"`                // второй тейк-профит, %
	TrailAfterTp1       bool       `yaml:"trail_after_tp1"`        // скользящий стоп после TP1
	FlipStopToBreakeven bool       `yaml:"flip_stop_to_breakeven"` // перенос стопа в безубыток после TP1
	TrailOffsetPct      float64    `yaml:"trail_offset_pct"`       // отступ скользящего стопа, %
	SqueezePct          float64    `yaml:"squeeze_pct"`            // порог сжатия полос, %
	LongCOO             float64    `yaml:"long_coo"`               // нижняя граница COO для лонга при сжатии
	ShortCOO            float64    `yaml:"short_coo"`              // верхняя граница COO для шорта при сжатии
	OiFilterFloor       float64    `yaml:"oi_filter_floor"`        // порог OI-фильтра (доля, напр. -0.01)
	TimeStopHours       float64    `yaml:"time_stop_hours"`        // часов до активации временного стопа
	CostZonePct         float64    `yaml:"cost_zone_pct"`          // ширина зоны безубыточности, %
	PositionSize        float64    `yaml:"position_size"`          // базовая доля депозита
	Mode                SignalMode `yaml:"mode"`
}

// MonitorConfig настройки циклов мониторинга
type MonitorConfig struct {
	TickSeconds  int `yaml:"tick_seconds"`  // интервал короткого цикла
	SignalMinute int `yaml:"signal_minute"` // минута часа для проверки сигнала
	PriceRetries int `yaml:"price_retries"` // попыток получения цены за тик
	CandleLimit  int `yaml:"candle_limit"`  // глубина истории свечей
}

// StorageConfig настройки архива данных (опционально)
type StorageConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// Enabled сообщает, настроен ли архив
func (s StorageConfig) Enabled() bool {
	return s.URL != ""
}

// FilesConfig пути файлов состояния
type FilesConfig struct {
	Position      string `yaml:"position"`
	SignalHistory string `yaml:"signal_history"`
	Journal       string `yaml:"journal"`
}

// NotifyConfig настройки каналов уведомлений.
// Секреты берутся из окружения, в yaml только включатели.
type NotifyConfig struct {
	TelegramEnabled bool `yaml:"telegram_enabled"`
	WechatEnabled   bool `yaml:"wechat_enabled"`

	TelegramToken  string `yaml:"-"`
	TelegramChatID string `yaml:"-"`
	WechatURL      string `yaml:"-"`
}

// Load загружает конфигурацию из файла и окружения
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	// Секреты из окружения
	config.Binance.APIKey = envOr("BINANCE_API_KEY", config.Binance.APIKey)
	config.Binance.APISecret = envOr("BINANCE_API_SECRET", config.Binance.APISecret)
	config.Notify.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	config.Notify.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	config.Notify.WechatURL = os.Getenv("WECHAT_API_URL")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Загружена конфигурация",
		zap.String("path", path),
		zap.String("symbol", config.Trading.Symbol),
		zap.String("mode", string(config.Strategy.Mode)))
	return config, nil
}

// Validate проверяет обязательные параметры. Отсутствие учетных данных
// уведомлений фатально: система без канала оповещений бесполезна.
func (c *Config) Validate() error {
	if c.Trading.Symbol == "" {
		return fmt.Errorf("не задан торгуемый символ (trading.symbol)")
	}
	switch c.Strategy.Mode {
	case ModeSqueeze, ModeSqueezeOrExtreme:
	default:
		return fmt.Errorf("неизвестный режим сигналов: %q", c.Strategy.Mode)
	}
	if c.Notify.TelegramEnabled {
		if c.Notify.TelegramToken == "" {
			return fmt.Errorf("переменная окружения TELEGRAM_TOKEN не установлена")
		}
		if c.Notify.TelegramChatID == "" {
			return fmt.Errorf("переменная окружения TELEGRAM_CHAT_ID не установлена")
		}
	}
	if c.Notify.WechatEnabled && c.Notify.WechatURL == "" {
		return fmt.Errorf("переменная окружения WECHAT_API_URL не установлена")
	}
	return nil
}

// defaults возвращает параметры по умолчанию (глобальный оптимум сеточного
// поиска по 80 комбинациям)
func defaults() *Config {
	return &Config{
		Trading: TradingConfig{
			Symbol:   "SOLUSDT",
			Interval: "1h",
			Leverage: 5,
		},
		Strategy: StrategyConfig{
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
			Mode:                ModeSqueezeOrExtreme,
		},
		Monitor: MonitorConfig{
			TickSeconds:  10,
			SignalMinute: 1,
			PriceRetries: 3,
			CandleLimit:  200,
		},
		Files: FilesConfig{
			Position:      "position_state.json",
			SignalHistory: "signal_history.json",
			Journal:       "trade_journal.json",
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

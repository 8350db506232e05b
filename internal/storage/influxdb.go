package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/skalibog/bfsa/internal/config"
	"github.com/skalibog/bfsa/pkg/models"
)

// Archive долговременный архив рыночных данных. Ядро стратегии его не
// читает, архив нужен для последующих бэктестов.
type Archive interface {
	SaveCandles(ctx context.Context, candles []*models.Candle) error
	SaveOiSample(ctx context.Context, symbol string, sample models.OiSample) error
	Close()
}

// InfluxDBArchive реализует Archive поверх InfluxDB
type InfluxDBArchive struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
}

// NewInfluxDBArchive создает архив InfluxDB
func NewInfluxDBArchive(cfg config.StorageConfig) (*InfluxDBArchive, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBArchive{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBArchive) Close() {
	s.client.Close()
}

// SaveCandles сохраняет пачку свечей
func (s *InfluxDBArchive) SaveCandles(ctx context.Context, candles []*models.Candle) error {
	for _, candle := range candles {
		point := influxdb2.NewPoint(
			"candles",
			map[string]string{
				"symbol":   candle.Symbol,
				"interval": candle.Interval,
			},
			map[string]interface{}{
				"open":   candle.Open,
				"high":   candle.High,
				"low":    candle.Low,
				"close":  candle.Close,
				"volume": candle.Volume,
			},
			candle.OpenTime,
		)
		if err := s.writeAPI.WritePoint(ctx, point); err != nil {
			return fmt.Errorf("ошибка записи свечи: %w", err)
		}
	}
	return nil
}

// SaveOiSample сохраняет замер открытого интереса
func (s *InfluxDBArchive) SaveOiSample(ctx context.Context, symbol string, sample models.OiSample) error {
	point := influxdb2.NewPoint(
		"open_interest",
		map[string]string{
			"symbol": symbol,
		},
		map[string]interface{}{
			"value": sample.OpenInterest,
		},
		sample.Timestamp,
	)
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("ошибка записи открытого интереса: %w", err)
	}
	return nil
}

package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/skalibog/bfsa/internal/config"
	"github.com/skalibog/bfsa/pkg/models"
)

// BinanceClient клиент для взаимодействия с фьючерсным рынком Binance
type BinanceClient struct {
	futures *futures.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	if cfg.Testnet {
		futures.UseTestnet = true
	}

	futuresClient := futures.NewClient(cfg.APIKey, cfg.APISecret)

	return &BinanceClient{
		futures: futuresClient,
	}, nil
}

// GetKlines получает исторические свечи
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	candles := make([]*models.Candle, 0, len(klines))
	for _, k := range klines {
		candle := &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.Unix(k.OpenTime/1000, 0).UTC(),
			CloseTime: time.Unix(k.CloseTime/1000, 0).UTC(),
		}

		var errs [5]error
		candle.Open, errs[0] = strconv.ParseFloat(k.Open, 64)
		candle.High, errs[1] = strconv.ParseFloat(k.High, 64)
		candle.Low, errs[2] = strconv.ParseFloat(k.Low, 64)
		candle.Close, errs[3] = strconv.ParseFloat(k.Close, 64)
		candle.Volume, errs[4] = strconv.ParseFloat(k.Volume, 64)
		for _, e := range errs {
			if e != nil {
				return nil, fmt.Errorf("ошибка разбора свечи %s: %w", symbol, e)
			}
		}

		candles = append(candles, candle)
	}

	return candles, nil
}

// GetOpenInterest получает текущий открытый интерес
func (c *BinanceClient) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	oi, err := c.futures.NewGetOpenInterestService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения открытого интереса: %w", err)
	}

	value, err := strconv.ParseFloat(oi.OpenInterest, 64)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора открытого интереса %q: %w", oi.OpenInterest, err)
	}

	return value, nil
}

// GetLastPrice получает последнюю цену сделки
func (c *BinanceClient) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.futures.NewListPricesService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения цены: %w", err)
	}

	if len(prices) == 0 {
		return 0, fmt.Errorf("нет данных о цене для %s", symbol)
	}

	value, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора цены %q: %w", prices[0].Price, err)
	}

	return value, nil
}

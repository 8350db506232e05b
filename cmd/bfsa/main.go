package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/skalibog/bfsa/internal/config"
	"github.com/skalibog/bfsa/internal/exchange"
	"github.com/skalibog/bfsa/internal/journal"
	"github.com/skalibog/bfsa/internal/monitor"
	"github.com/skalibog/bfsa/internal/notify"
	"github.com/skalibog/bfsa/internal/oifeed"
	"github.com/skalibog/bfsa/internal/position"
	"github.com/skalibog/bfsa/internal/state"
	"github.com/skalibog/bfsa/internal/storage"
	"github.com/skalibog/bfsa/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Переменные окружения из .env, если файл есть
	if err := godotenv.Load(); err == nil {
		logger.Info("Загружен файл .env")
	}

	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		cancel()
	}()

	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Архив опционален: без настроек системa работает только на живых данных
	var archive storage.Archive
	if cfg.Storage.Enabled() {
		influx, err := storage.NewInfluxDBArchive(cfg.Storage)
		if err != nil {
			logger.Fatal("Ошибка инициализации архива", zap.Error(err))
		}
		defer influx.Close()
		archive = influx
	}

	// Каналы уведомлений
	var channels []notify.Notifier
	var telegram *notify.Telegram
	if cfg.Notify.TelegramEnabled {
		telegram = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		channels = append(channels, telegram)
	}
	if cfg.Notify.WechatEnabled {
		channels = append(channels, notify.NewWechat(cfg.Notify.WechatURL))
	}
	multi := notify.NewMulti(channels...)
	alerter := monitor.NewAlerter(multi, cfg.Trading.Symbol, cfg.Trading.Leverage)

	store := state.New(cfg.Files.Position, cfg.Files.SignalHistory)
	jrnl := journal.New(cfg.Files.Journal)
	feed := oifeed.NewFeed()

	machine := position.NewMachine(cfg.Strategy, cfg.Trading.Symbol, cfg.Trading.Leverage, store, jrnl, feed, alerter)
	restored := machine.Restore()

	// Сборщик открытого интереса
	var oiArchive oifeed.Archiver
	if archive != nil {
		oiArchive = archive
	}
	collector := oifeed.NewCollector(feed, client, oiArchive, cfg.Trading.Symbol)
	go collector.Run(ctx)

	// Слушатель команд оператора
	if telegram != nil {
		poller, err := notify.NewPoller(telegram, machine)
		if err != nil {
			logger.Fatal("Ошибка инициализации слушателя команд", zap.Error(err))
		}
		go poller.Run(ctx)
	}

	startupMsg := fmt.Sprintf("Система запущена: %s %s, режим %s",
		cfg.Trading.Symbol, cfg.Trading.Interval, cfg.Strategy.Mode)
	if restored {
		startupMsg += "\nВосстановлена открытая позиция:\n" + machine.StatusText()
	}
	multi.Notify("Старт", startupMsg, notify.SeverityInfo)

	mon := monitor.New(cfg, client, feed, machine, archive, alerter)
	go mon.Run(ctx)

	runConsole(ctx, cancel, machine)

	multi.Notify("Стоп", "Система остановлена", notify.SeverityInfo)
	logger.Info("Система остановлена")
}

// runConsole читает команды оператора со стандартного ввода: status
// печатает состояние позиции, stop завершает работу
func runConsole(ctx context.Context, cancel context.CancelFunc, machine *position.Machine) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				// stdin закрыт (например, запуск как сервис): ждем сигнала
				<-ctx.Done()
				return
			}
			switch line {
			case "status":
				fmt.Println(machine.StatusText())
			case "stop", "exit", "quit":
				cancel()
				return
			case "":
			default:
				fmt.Println("Команды: status, stop")
			}
		}
	}
}

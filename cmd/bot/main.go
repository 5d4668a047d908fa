package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
	"github.com/mxjoly/bybit-trading-bot/internal/infrastructure/exchange"
	"github.com/mxjoly/bybit-trading-bot/internal/infrastructure/logger"
	"github.com/mxjoly/bybit-trading-bot/internal/infrastructure/metrics"
	"github.com/mxjoly/bybit-trading-bot/internal/infrastructure/notify"
	"github.com/mxjoly/bybit-trading-bot/internal/infrastructure/storage"
	"github.com/mxjoly/bybit-trading-bot/internal/usecase"
)

type Config struct {
	Bybit struct {
		APIKey            string `yaml:"api_key"`
		APISecret         string `yaml:"api_secret"`
		RESTEndpoint      string `yaml:"rest_endpoint"`
		WSPublicEndpoint  string `yaml:"ws_public_endpoint"`
		WSPrivateEndpoint string `yaml:"ws_private_endpoint"`
	} `yaml:"bybit"`
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	Logging struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"logging"`
	Metrics struct {
		Port int `yaml:"port"`
	} `yaml:"metrics"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Trading domain.BotConfig `yaml:"trading"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	// Secrets may come from the environment instead of the file.
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		cfg.Bybit.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		cfg.Bybit.APISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}

	return &cfg, nil
}

func main() {
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Trading.Validate(); err != nil {
		fmt.Printf("Invalid trading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(journalPath(cfg))
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	var notifier domain.Notifier = notify.NoopNotifier{}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
		if err != nil {
			log.Fatal("Failed to init telegram", zap.Error(err))
		}
		notifier = tg
	} else {
		log.Warn("Telegram token empty, notifications disabled")
	}

	var mtx domain.MetricsRecorder = metrics.Noop{}
	if cfg.Metrics.Port > 0 {
		m := metrics.New()
		mtx = m
		go func() {
			if err := m.Serve(cfg.Metrics.Port); err != nil {
				log.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	bybit := exchange.NewBybitAdapter(cfg.Bybit.APIKey, cfg.Bybit.APISecret, cfg.Bybit.RESTEndpoint)

	reporter := usecase.NewPerformanceReporter(notifier, store, log)
	bot := usecase.NewBotService(cfg.Trading, bybit, store, mtx, reporter, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bot.Prepare(ctx); err != nil {
		log.Fatal("Failed to prepare symbols", zap.Error(err))
	}
	if err := bot.Start(ctx); err != nil {
		log.Fatal("Failed to start bot", zap.Error(err))
	}

	candleStream := exchange.NewPublicStream(cfg.Bybit.WSPublicEndpoint, cfg.Trading.Interval, cfg.Trading.Symbols(), log)
	candleStream.OnCandle(bot.OnCandle)
	go candleStream.Run(ctx)

	executionStream := exchange.NewPrivateStream(cfg.Bybit.WSPrivateEndpoint, cfg.Bybit.APIKey, cfg.Bybit.APISecret, log)
	executionStream.OnExecution(bot.OnExecution)
	go executionStream.Run(ctx)

	log.Info("Bot started",
		zap.Strings("symbols", cfg.Trading.Symbols()),
		zap.String("interval", cfg.Trading.Interval))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	cancel()
	bot.Stop()
}

func journalPath(cfg *Config) string {
	if cfg.Storage.Path != "" {
		return cfg.Storage.Path
	}
	return "bot.db"
}

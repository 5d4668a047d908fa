package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mxjoly/bybit-trading-bot/internal/infrastructure/exchange"
)

// Connectivity check: verifies the configured keys can reach the
// public and private REST endpoints before the bot goes live.

type Config struct {
	Bybit struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
	} `yaml:"bybit"`
	Trading struct {
		Base   string   `yaml:"base"`
		Assets []string `yaml:"assets"`
	} `yaml:"trading"`
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
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		cfg.Bybit.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		cfg.Bybit.APISecret = v
	}

	adapter := exchange.NewBybitAdapter(cfg.Bybit.APIKey, cfg.Bybit.APISecret, cfg.Bybit.RESTEndpoint)
	ctx := context.Background()

	for _, asset := range cfg.Trading.Assets {
		symbol := asset + cfg.Trading.Base

		info, err := adapter.GetSymbolInfo(ctx, symbol)
		if err != nil {
			fmt.Printf("❌ %s: symbol info: %v\n", symbol, err)
			continue
		}
		fmt.Printf("✅ %s: min qty %v, qty step %s\n", symbol, info.MinQuantity, info.QuantityStep)

		pos, err := adapter.GetPosition(ctx, symbol)
		if err != nil {
			fmt.Printf("❌ %s: position: %v\n", symbol, err)
			continue
		}
		fmt.Printf("✅ %s: position size=%v entry=%v margin=%v\n", symbol, pos.Size, pos.EntryPrice, pos.PositionMargin)
	}

	balance, err := adapter.GetWalletBalance(ctx, cfg.Trading.Base)
	if err != nil {
		fmt.Printf("❌ Wallet balance: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Wallet balance: %v %s\n", balance, cfg.Trading.Base)
}

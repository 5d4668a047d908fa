package domain

import "fmt"

// BotConfig holds the trading parameters, immutable for the process
// lifetime. Margin positions are fractions of the wallet balance;
// TakeProfitPercent and RepurchasePercentDelta are fractions of the
// entry price.
type BotConfig struct {
	Base                   string   `yaml:"base"`
	Assets                 []string `yaml:"assets"`
	MaxMarginPosition      float64  `yaml:"max_margin_position"`
	InitialMarginPosition  float64  `yaml:"initial_margin_position"`
	Leverage               int      `yaml:"leverage"`
	TakeProfitPercent      float64  `yaml:"take_profit_percent"`
	RepurchasePercentDelta float64  `yaml:"repurchase_percent_delta"`
	Interval               string   `yaml:"interval"`
}

// Symbols returns the traded symbols, one per asset (asset + base).
func (c *BotConfig) Symbols() []string {
	symbols := make([]string, len(c.Assets))
	for i, asset := range c.Assets {
		symbols[i] = asset + c.Base
	}
	return symbols
}

func (c *BotConfig) Validate() error {
	if c.Base == "" {
		return fmt.Errorf("base currency is required")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("leverage must be positive, got %d", c.Leverage)
	}
	if c.InitialMarginPosition <= 0 || c.InitialMarginPosition > 1 {
		return fmt.Errorf("initial_margin_position must be in (0, 1], got %f", c.InitialMarginPosition)
	}
	if c.MaxMarginPosition <= 0 || c.MaxMarginPosition > 1 {
		return fmt.Errorf("max_margin_position must be in (0, 1], got %f", c.MaxMarginPosition)
	}
	if c.TakeProfitPercent <= 0 {
		return fmt.Errorf("take_profit_percent must be positive, got %f", c.TakeProfitPercent)
	}
	if c.RepurchasePercentDelta <= 0 {
		return fmt.Errorf("repurchase_percent_delta must be positive, got %f", c.RepurchasePercentDelta)
	}
	if c.Interval == "" {
		return fmt.Errorf("interval is required")
	}
	return nil
}

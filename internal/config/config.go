package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/carbonexchange/internal/params"
)

// Config holds all runtime configuration for the exchange.
type Config struct {
	Port            int
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	SweepInterval  time.Duration
	WebhookTimeout time.Duration

	// Accounts the engine itself operates.
	FeeRecipient   string
	CustodyAccount string
	AdminAccount   string

	// Market holds the initial market parameters. Administrators change
	// them at runtime through the params store.
	Market params.Params
}

// Load reads configuration from a .env file, when present, and environment
// variables, applies defaults, and validates values. It returns an error
// for any invalid value.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d out of range", cfg.Port)
	}

	cfg.LogLevel = getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"READ_TIMEOUT", 5 * time.Second, &cfg.ReadTimeout},
		{"WRITE_TIMEOUT", 10 * time.Second, &cfg.WriteTimeout},
		{"IDLE_TIMEOUT", 60 * time.Second, &cfg.IdleTimeout},
		{"SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
		{"SWEEP_INTERVAL", 1 * time.Second, &cfg.SweepInterval},
		{"WEBHOOK_TIMEOUT", 5 * time.Second, &cfg.WebhookTimeout},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = v
	}

	cfg.FeeRecipient = getStr("FEE_RECIPIENT", "exchange-fees")
	cfg.CustodyAccount = getStr("CUSTODY_ACCOUNT", "exchange-custody")
	cfg.AdminAccount = getStr("ADMIN_ACCOUNT", "admin")
	if cfg.FeeRecipient == cfg.CustodyAccount {
		return nil, fmt.Errorf("FEE_RECIPIENT and CUSTODY_ACCOUNT must differ")
	}

	if cfg.Market, err = loadMarket(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadMarket overlays MARKET_* variables on params.Defaults.
func loadMarket() (params.Params, error) {
	p := params.Defaults()

	ints := []struct {
		key string
		dst *int64
	}{
		{"MARKET_MAKER_FEE_BPS", &p.MakerFeeBps},
		{"MARKET_TAKER_FEE_BPS", &p.TakerFeeBps},
		{"MARKET_AUCTION_FEE_BPS", &p.AuctionFeeBps},
		{"MARKET_MIN_ORDER_QUANTITY", &p.MinOrderQuantity},
		{"MARKET_MAX_ORDER_QUANTITY", &p.MaxOrderQuantity},
		{"MARKET_TICK_SIZE_CENTS", &p.TickSize},
		{"MARKET_MAX_QUANTITY_PER_ORDER", &p.MaxQuantityPerOrder},
		{"MARKET_DAILY_VOLUME_CAP", &p.DailyVolumeCap},
		{"MARKET_DAILY_ORDER_COUNT_CAP", &p.DailyOrderCountCap},
	}
	for _, f := range ints {
		v, err := getInt64(f.key, *f.dst)
		if err != nil {
			return params.Params{}, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MARKET_MAX_ORDER_DURATION", &p.MaxOrderDuration},
		{"MARKET_BREAKER_COOLDOWN", &p.BreakerCooldown},
		{"MARKET_MAX_AUCTION_DURATION", &p.MaxAuctionDuration},
	}
	for _, f := range durations {
		v, err := getDuration(f.key, *f.dst)
		if err != nil {
			return params.Params{}, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = v
	}

	if s := os.Getenv("MARKET_BREAKER_THRESHOLD"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return params.Params{}, fmt.Errorf("invalid MARKET_BREAKER_THRESHOLD: %w", err)
		}
		p.BreakerThreshold = d
	}

	if err := p.Validate(); err != nil {
		return params.Params{}, fmt.Errorf("invalid market parameters: %w", err)
	}
	return p, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

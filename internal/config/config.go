package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/features"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	APIKey      string
	HTTPAddr    string
	Symbols     []string

	LookbackDays   int
	BarSyncMinutes int
	TrainHourUTC   int

	MLVariant          string
	MLTrainFraction    float64
	MLTopK             int
	MLMinRows          int
	MLBlendStacked     float64
	MLBlendRegime      float64
	MLWalkForwardFolds int

	TracingEnabled bool
	OTLPEndpoint   string
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		APIKey:       strings.TrimSpace(os.Getenv("API_KEY")),
		OTLPEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.APIKey == "" {
		log.Println("Warning: API_KEY not set, the train endpoint is unprotected")
	}

	cfg.HTTPAddr = strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.Symbols = parseSymbols(os.Getenv("SYMBOLS"))

	cfg.LookbackDays = 730
	if v := strings.TrimSpace(os.Getenv("LOOKBACK_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LookbackDays = n
		}
	}

	cfg.BarSyncMinutes = 360
	if v := strings.TrimSpace(os.Getenv("BAR_SYNC_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BarSyncMinutes = n
		}
	}

	cfg.TrainHourUTC = 2
	if v := strings.TrimSpace(os.Getenv("TRAIN_HOUR_UTC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			cfg.TrainHourUTC = n
		}
	}

	cfg.MLVariant = strings.ToLower(strings.TrimSpace(os.Getenv("ML_VARIANT")))
	if cfg.MLVariant == "" {
		cfg.MLVariant = "advanced"
	}
	if _, err := features.VariantByName(cfg.MLVariant); err != nil {
		log.Printf("Warning: unsupported ML_VARIANT=%q, defaulting to advanced", cfg.MLVariant)
		cfg.MLVariant = "advanced"
	}

	cfg.MLTrainFraction = 0.8
	if v := strings.TrimSpace(os.Getenv("ML_TRAIN_FRACTION")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n < 1 {
			cfg.MLTrainFraction = n
		}
	}

	cfg.MLTopK = 30
	if v := strings.TrimSpace(os.Getenv("ML_TOP_K")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MLTopK = n
		}
	}

	cfg.MLMinRows = 260
	if v := strings.TrimSpace(os.Getenv("ML_MIN_ROWS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MLMinRows = n
		}
	}

	cfg.MLBlendStacked = 0.7
	if v := strings.TrimSpace(os.Getenv("ML_BLEND_STACKED")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n <= 1 {
			cfg.MLBlendStacked = n
		}
	}

	cfg.MLBlendRegime = 0.3
	if v := strings.TrimSpace(os.Getenv("ML_BLEND_REGIME")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n <= 1 {
			cfg.MLBlendRegime = n
		}
	}

	cfg.MLWalkForwardFolds = 3
	if v := strings.TrimSpace(os.Getenv("ML_WALK_FORWARD_FOLDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			cfg.MLWalkForwardFolds = n
		}
	}

	cfg.TracingEnabled = !strings.EqualFold(strings.TrimSpace(os.Getenv("TRACING_ENABLED")), "false")

	return cfg
}

// parseSymbols reads a comma-separated symbol list, dropping anything the
// asset table does not know. An empty value means every supported symbol.
func parseSymbols(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return append([]string{}, domain.SupportedSymbols...)
	}

	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		symbol := strings.ToUpper(strings.TrimSpace(part))
		if symbol == "" {
			continue
		}
		if !domain.IsSupportedSymbol(symbol) {
			log.Printf("Warning: ignoring unsupported symbol %q in SYMBOLS", symbol)
			continue
		}
		symbols = append(symbols, symbol)
	}
	if len(symbols) == 0 {
		log.Println("Warning: SYMBOLS has no supported entries, defaulting to the full asset list")
		return append([]string{}, domain.SupportedSymbols...)
	}
	return symbols
}

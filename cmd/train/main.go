// One-shot training run. Trains one symbol (or the whole configured
// universe), prints the evaluation report, and leaves promotion decisions
// to the same guards the scheduled job uses.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"stock-sage/internal/config"
	"stock-sage/internal/db"
	"stock-sage/internal/domain"
	"stock-sage/internal/ml/features"
	"stock-sage/internal/ml/registry"
	"stock-sage/internal/ml/training"
	"stock-sage/internal/ml/tuning"
	"stock-sage/internal/repository"
	"stock-sage/pkg/tracing"

	"github.com/joho/godotenv"
)

const defaultTunerTrials = 15

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	initTracerFunc   = tracing.InitTracer
)

type trainRunner interface {
	TrainSymbol(ctx context.Context, symbol string, now time.Time) (*training.TrainResult, error)
}

func main() {
	loadEnvFunc()

	var (
		symbol   = flag.String("symbol", "", "train a single symbol")
		all      = flag.Bool("all", false, "train every configured symbol")
		variant  = flag.String("variant", "", "feature variant (baseline|enhanced|optimized|advanced)")
		lookback = flag.Int("lookback", 0, "history window in days")
		trials   = flag.Int("trials", defaultTunerTrials, "random search trials, 0 trains with variant defaults")
	)
	flag.Parse()

	cfg := loadConfigFunc()
	if *variant != "" {
		if _, err := features.VariantByName(*variant); err != nil {
			log.Fatalf("unknown variant %q", *variant)
		}
		cfg.MLVariant = *variant
	}
	if *lookback > 0 {
		cfg.LookbackDays = *lookback
	}

	symbols, err := resolveSymbols(*symbol, *all, cfg.Symbols)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	initPostgresFunc(ctx)
	if db.Pool == nil {
		log.Fatal("DATABASE_URL is required")
	}

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	barRepo := repository.NewBarRepository(db.Pool, tracer)
	modelRepo := registry.NewRepository(db.Pool, tracer)
	if err := barRepo.RunMigrations(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	if err := modelRepo.RunMigrations(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	var tuner tuning.Tuner
	if *trials > 0 {
		tuner = tuning.RandomSearch{Trials: *trials, Seed: time.Now().UnixNano()}
	}
	trainer := training.NewService(tracer, barRepo, modelRepo, tuner, training.Config{
		Variant:          cfg.MLVariant,
		LookbackDays:     cfg.LookbackDays,
		TrainFraction:    cfg.MLTrainFraction,
		TopK:             cfg.MLTopK,
		MinRows:          cfg.MLMinRows,
		WalkForwardFolds: cfg.MLWalkForwardFolds,
		BlendStacked:     cfg.MLBlendStacked,
		BlendRegime:      cfg.MLBlendRegime,
	})

	if err := runTraining(ctx, os.Stdout, trainer, symbols, time.Now().UTC()); err != nil {
		log.Fatal(err)
	}
}

func resolveSymbols(symbol string, all bool, configured []string) ([]string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case all && symbol != "":
		return nil, errors.New("-symbol and -all are mutually exclusive")
	case all:
		return configured, nil
	case symbol != "":
		if !domain.IsSupportedSymbol(symbol) {
			return nil, fmt.Errorf("unsupported symbol %q", symbol)
		}
		return []string{symbol}, nil
	default:
		return nil, errors.New("pass -symbol or -all")
	}
}

// runTraining trains each symbol in turn and renders one report row per
// symbol. It fails only when no symbol trains at all.
func runTraining(ctx context.Context, w io.Writer, trainer trainRunner, symbols []string, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tVERSION\tVARIANT\tROWS\tTEST\tAUC\tACCURACY\tPROMOTED")

	trained := 0
	for _, symbol := range symbols {
		result, err := trainer.TrainSymbol(ctx, symbol, now)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t-\terror: %v\n", symbol, err)
			continue
		}
		trained++
		promoted := "no"
		if result.Promoted {
			promoted = "yes"
		} else if result.PromoteError != "" {
			promoted = fmt.Sprintf("no (%s)", result.PromoteError)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%.4f\t%.4f\t%s\n",
			result.Symbol, result.Version, result.Variant,
			result.Rows, result.TestRows, result.AUC, result.Accuracy, promoted)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if trained == 0 {
		return fmt.Errorf("training failed for all %d symbols", len(symbols))
	}
	return nil
}

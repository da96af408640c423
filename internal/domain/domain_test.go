package domain

import (
	"testing"
)

func TestSupportedSymbolsMatchAssets(t *testing.T) {
	if len(SupportedSymbols) != len(Assets) {
		t.Errorf("SupportedSymbols has %d entries, Assets has %d", len(SupportedSymbols), len(Assets))
	}
	for _, sym := range SupportedSymbols {
		a, ok := Assets[sym]
		if !ok {
			t.Errorf("symbol %s missing from Assets", sym)
			continue
		}
		if a.Symbol != sym {
			t.Errorf("asset %s carries symbol %s", sym, a.Symbol)
		}
		if a.SourceID == "" {
			t.Errorf("asset %s has no source id", sym)
		}
	}
}

func TestIsSupportedSymbol(t *testing.T) {
	if !IsSupportedSymbol("BTC") {
		t.Error("BTC should be supported")
	}
	if IsSupportedSymbol("btc") {
		t.Error("symbols are case sensitive; btc should not be supported")
	}
	if IsSupportedSymbol("DOGE") {
		t.Error("DOGE should not be supported")
	}
}

func TestAssetClasses(t *testing.T) {
	if Assets["SPY"].Class != AssetETF {
		t.Errorf("SPY class = %s", Assets["SPY"].Class)
	}
	if Assets["GLD"].Class != AssetCommodity {
		t.Errorf("GLD class = %s", Assets["GLD"].Class)
	}
	if Assets["ETH"].Class != AssetCrypto {
		t.Errorf("ETH class = %s", Assets["ETH"].Class)
	}
}

func TestFeatureSetColumn(t *testing.T) {
	set := FeatureSet{
		Symbol: "SPY",
		Names:  []string{"Close", "RSI"},
		Rows: []FeatureRow{
			{Values: []float64{100, 40}},
			{Values: []float64{101, 55}},
		},
	}

	col, ok := set.Column("RSI")
	if !ok {
		t.Fatal("RSI column should exist")
	}
	if len(col) != 2 || col[0] != 40 || col[1] != 55 {
		t.Errorf("unexpected RSI column: %v", col)
	}
	if _, ok := set.Column("MACD"); ok {
		t.Error("missing column should report ok=false")
	}
	if idx := set.ColumnIndex("Close"); idx != 0 {
		t.Errorf("ColumnIndex(Close) = %d", idx)
	}
}

func TestDirectionConstants(t *testing.T) {
	if DirectionUp != "UP" || DirectionDown != "DOWN" {
		t.Errorf("direction constants changed: %s / %s", DirectionUp, DirectionDown)
	}
}

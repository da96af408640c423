package handler

import (
	"net/http"
	"testing"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/inference"
)

func TestGetPrediction(t *testing.T) {
	h, deps := newTestHandler()
	deps.inference.pred = samplePrediction("SPY")
	r := newTestRouter(h, "")

	w, body := doJSON(t, r, http.MethodGet, "/api/predict/spy", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["success"] != true || body["prediction"] != "UP" {
		t.Fatalf("unexpected payload: %v", body)
	}
	if body["confidence"].(float64) != 64 {
		t.Fatalf("unexpected confidence: %v", body["confidence"])
	}
	if body["current_price"].(float64) != 512.4 {
		t.Fatalf("unexpected current price: %v", body["current_price"])
	}
	probs := body["probabilities"].(map[string]any)
	if probs["up"].(float64) != 0.64 || probs["down"].(float64) != 0.36 {
		t.Fatalf("unexpected probabilities: %v", probs)
	}
	if body["target_date"] != "2025-06-03" {
		t.Fatalf("unexpected target date: %v", body["target_date"])
	}
	if deps.market.ensureCalls != 1 {
		t.Fatalf("history not refreshed before predicting")
	}
}

func TestGetPredictionNoActiveModel(t *testing.T) {
	h, deps := newTestHandler()
	deps.inference.err = inference.ErrNoActiveModel
	r := newTestRouter(h, "")

	w, body := doJSON(t, r, http.MethodGet, "/api/predict/spy", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if body["success"] != false {
		t.Fatalf("unexpected payload: %v", body)
	}
}

func TestGetPredictionUnsupportedSymbol(t *testing.T) {
	h, _ := newTestHandler()
	r := newTestRouter(h, "")

	w, _ := doJSON(t, r, http.MethodGet, "/api/predict/DOGE", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetPredictionHistory(t *testing.T) {
	h, deps := newTestHandler()
	first := samplePrediction("SPY")
	second := samplePrediction("SPY")
	second.BarDate = second.BarDate.AddDate(0, 0, -1)
	deps.inference.history = []domain.Prediction{*first, *second}
	r := newTestRouter(h, "")

	w, body := doJSON(t, r, http.MethodGet, "/api/predict/spy/history?limit=5", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["count"].(float64) != 2 {
		t.Fatalf("unexpected count: %v", body["count"])
	}
	if deps.inference.historyLimit != 5 {
		t.Fatalf("limit not passed through, got %d", deps.inference.historyLimit)
	}
	preds := body["predictions"].([]any)
	if len(preds) != 2 {
		t.Fatalf("expected 2 predictions, got %d", len(preds))
	}
}

func TestGetPredictionHistoryUnsupportedSymbol(t *testing.T) {
	h, _ := newTestHandler()
	r := newTestRouter(h, "")

	w, _ := doJSON(t, r, http.MethodGet, "/api/predict/DOGE/history", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPredictBatch(t *testing.T) {
	h, deps := newTestHandler()
	deps.inference.pred = samplePrediction("SPY")
	r := newTestRouter(h, "")

	w, body := doJSON(t, r, http.MethodPost, "/api/predict/batch", map[string]any{"symbols": []string{"SPY", "BTC"}}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["count"].(float64) != 2 {
		t.Fatalf("unexpected result count: %v", body["count"])
	}
}

func TestPredictBatchRejectsEmptyBody(t *testing.T) {
	h, _ := newTestHandler()
	r := newTestRouter(h, "")

	w, _ := doJSON(t, r, http.MethodPost, "/api/predict/batch", map[string]any{"symbols": []string{}}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

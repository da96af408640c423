package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/inference"
	"stock-sage/internal/ml/training"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("handler-test")

type testDeps struct {
	market    *marketStub
	inference *inferenceStub
	registry  *registryStub
	accounts  *accountStub
}

func newTestHandler() (*Handler, *testDeps) {
	deps := &testDeps{
		market:    &marketStub{},
		inference: &inferenceStub{},
		registry:  &registryStub{},
		accounts:  &accountStub{},
	}
	h := New(testTracer, deps.market, deps.inference, deps.registry, deps.accounts)
	return h, deps
}

func newTestRouter(h *Handler, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r, apiKey)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var parsed map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("parse response %q: %v", w.Body.String(), err)
		}
	}
	return w, parsed
}

func samplePrediction(symbol string) *domain.Prediction {
	barDate := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	return &domain.Prediction{
		ID:           1,
		Symbol:       symbol,
		BarDate:      barDate,
		TargetDate:   barDate.AddDate(0, 0, 1),
		ModelVersion: 3,
		Variant:      "advanced",
		Direction:    domain.DirectionUp,
		ProbUp:       0.64,
		ProbDown:     0.36,
		Confidence:   64,
		CurrentPrice: 512.4,
		CreatedAt:    barDate.Add(21 * time.Hour),
	}
}

type marketStub struct {
	quote    *domain.Quote
	quoteErr error
	bars     []*domain.PriceBar
	barsErr  error

	ensureCalls int
	lastLimit   int
}

func (m *marketStub) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	return m.quote, nil
}

func (m *marketStub) GetBars(ctx context.Context, symbol string, limit int) ([]*domain.PriceBar, error) {
	m.lastLimit = limit
	if m.barsErr != nil {
		return nil, m.barsErr
	}
	return m.bars, nil
}

func (m *marketStub) EnsureHistory(ctx context.Context, symbol string) (bool, error) {
	m.ensureCalls++
	return false, nil
}

type inferenceStub struct {
	pred    *domain.Prediction
	history []domain.Prediction
	err     error

	historyLimit int
}

func (s *inferenceStub) Predict(ctx context.Context, symbol string) (*domain.Prediction, error) {
	if s.err != nil {
		return nil, s.err
	}
	pred := *s.pred
	pred.Symbol = symbol
	return &pred, nil
}

func (s *inferenceStub) History(ctx context.Context, symbol string, limit int) ([]domain.Prediction, error) {
	s.historyLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.history, nil
}

func (s *inferenceStub) PredictBatch(ctx context.Context, symbols []string) []inference.BatchItem {
	items := make([]inference.BatchItem, 0, len(symbols))
	for _, symbol := range symbols {
		if s.err != nil {
			items = append(items, inference.BatchItem{Symbol: symbol, Error: s.err.Error()})
			continue
		}
		pred := *s.pred
		pred.Symbol = symbol
		items = append(items, inference.BatchItem{Symbol: symbol, Prediction: &pred})
	}
	return items
}

type registryStub struct {
	active *domain.ModelVersion
	latest *domain.ModelVersion
	err    error
}

func (s *registryStub) GetActiveModel(ctx context.Context, symbol string) (*domain.ModelVersion, error) {
	return s.active, s.err
}

func (s *registryStub) GetLatestModel(ctx context.Context, symbol string) (*domain.ModelVersion, error) {
	return s.latest, s.err
}

type trainerStub struct {
	results []training.TrainResult
	err     error

	trainedSymbol string
	allSymbols    []string
}

func (s *trainerStub) TrainSymbol(ctx context.Context, symbol string, now time.Time) (*training.TrainResult, error) {
	s.trainedSymbol = symbol
	if s.err != nil {
		return nil, s.err
	}
	result := s.results[0]
	return &result, nil
}

func (s *trainerStub) TrainAll(ctx context.Context, symbols []string, now time.Time) ([]training.TrainResult, error) {
	s.allSymbols = symbols
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type accountStub struct {
	user        *domain.User
	token       string
	registerErr error
	loginErr    error
	authErr     error
	watchlist   []string

	logoutCalls int
	lastAction  string
}

func (s *accountStub) Register(ctx context.Context, email, username, password string) (*domain.User, error) {
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return s.user, nil
}

func (s *accountStub) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	if s.loginErr != nil {
		return "", nil, s.loginErr
	}
	return s.token, s.user, nil
}

func (s *accountStub) Logout(ctx context.Context, token string) error {
	s.logoutCalls++
	return nil
}

func (s *accountStub) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if s.authErr != nil {
		return nil, s.authErr
	}
	return s.user, nil
}

func (s *accountStub) AddToWatchlist(ctx context.Context, user *domain.User, symbol string) ([]string, error) {
	s.lastAction = "add:" + symbol
	return s.watchlist, nil
}

func (s *accountStub) RemoveFromWatchlist(ctx context.Context, user *domain.User, symbol string) ([]string, error) {
	s.lastAction = "remove:" + symbol
	return s.watchlist, nil
}

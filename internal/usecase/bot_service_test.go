package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
	"github.com/mxjoly/bybit-trading-bot/internal/usecase"
)

type mockExchange struct {
	mu sync.Mutex

	position     *domain.Position
	positionErr  error
	activeOrders []domain.ActiveOrder
	ordersErr    error
	balance      float64
	balanceErr   error
	candles      []domain.Candle
	candlesErr   error
	symbolInfo   *domain.SymbolInfo

	// Called outside the mock's own lock, so concurrent decision
	// cycles stay observable. Set before Start, never changed after.
	positionHook func(symbol string)

	placed      []*domain.OrderRequest
	placeErr    error
	cancelCalls int
}

func (m *mockExchange) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	if m.positionHook != nil {
		m.positionHook(symbol)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positionErr != nil {
		return nil, m.positionErr
	}
	if m.position == nil {
		return &domain.Position{Symbol: symbol}, nil
	}
	pos := *m.position
	return &pos, nil
}

func (m *mockExchange) GetActiveOrders(ctx context.Context, symbol string) ([]domain.ActiveOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeOrders, m.ordersErr
}

func (m *mockExchange) GetWalletBalance(ctx context.Context, coin string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, m.balanceErr
}

func (m *mockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candles, m.candlesErr
}

func (m *mockExchange) GetSymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.symbolInfo != nil {
		return m.symbolInfo, nil
	}
	return &domain.SymbolInfo{Symbol: symbol, MinQuantity: 0.001, QuantityStep: "0.001"}, nil
}

func (m *mockExchange) PlaceOrder(ctx context.Context, order *domain.OrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeErr != nil {
		return "", m.placeErr
	}
	m.placed = append(m.placed, order)
	return "order-1", nil
}

func (m *mockExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	return nil
}

func (m *mockExchange) SetPositionMode(ctx context.Context, symbol string, mode string) error {
	return nil
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *mockExchange) SetMarginMode(ctx context.Context, symbol string, isolated bool, leverage int) error {
	return nil
}

func (m *mockExchange) placedOrders() []*domain.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.OrderRequest(nil), m.placed...)
}

func (m *mockExchange) cancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelCalls
}

type mockMetrics struct {
	mu            sync.Mutex
	gatewayErrors int
}

func (m *mockMetrics) OrderPlaced(domain.Side, string) {}
func (m *mockMetrics) SignalEvaluated(bool)            {}
func (m *mockMetrics) WalletBalance(float64)           {}
func (m *mockMetrics) GatewayError(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayErrors++
}

func testConfig() domain.BotConfig {
	return domain.BotConfig{
		Base:                   "USDT",
		Assets:                 []string{"BTC"},
		MaxMarginPosition:      0.5,
		InitialMarginPosition:  0.1,
		Leverage:               10,
		TakeProfitPercent:      0.01,
		RepurchasePercentDelta: 0.01,
		Interval:               "1",
	}
}

// signalCandles is the crossover window plus one forming bar, which the
// decision cycle strips before evaluating the signal.
func signalCandles() []domain.Candle {
	candles := candlesFromCloses(crossoverCloses())
	forming := candles[len(candles)-1]
	forming.Confirmed = false
	return append(candles, forming)
}

func newTestBot(t *testing.T, cfg domain.BotConfig, ex *mockExchange) (*usecase.BotService, *mockRepo) {
	t.Helper()
	repo := &mockRepo{}
	reporter := usecase.NewPerformanceReporter(&mockNotifier{}, repo, zap.NewNop())
	bot := usecase.NewBotService(cfg, ex, repo, &mockMetrics{}, reporter, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, bot.Prepare(ctx))
	require.NoError(t, bot.Start(ctx))
	return bot, repo
}

func confirmedCandle(close float64) domain.CandleEvent {
	return domain.CandleEvent{
		Symbol:   "BTCUSDT",
		Interval: "1",
		Candle: domain.Candle{
			Symbol:    "BTCUSDT",
			Start:     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			Close:     close,
			Confirmed: true,
		},
	}
}

func TestEntryOrderPlacedOnSignal(t *testing.T) {
	ex := &mockExchange{balance: 10000, candles: signalCandles()}
	bot, repo := newTestBot(t, testConfig(), ex)

	bot.OnCandle(confirmedCandle(50000))
	bot.Stop()

	placed := ex.placedOrders()
	require.Len(t, placed, 1)

	order := placed[0]
	assert.Equal(t, "BTCUSDT", order.Symbol)
	assert.Equal(t, domain.SideBuy, order.Side)
	assert.Equal(t, domain.OrderTypeLimit, order.Type)
	assert.InDelta(t, 50000.0, order.Price, 1e-9)
	// 0.1 * 10000 * 10 = 10000 USDT budget at 50000 -> 0.2.
	assert.InDelta(t, 0.2, order.Qty, 1e-9)
	assert.Equal(t, domain.TimeInForceGTC, order.TimeInForce)
	assert.False(t, order.ReduceOnly)
	assert.Equal(t, 1, order.PositionIdx)
	assert.NotEmpty(t, order.OrderLinkID)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.orders, 1)
	assert.Equal(t, "entry", repo.orders[0].Purpose)
}

func TestNoEntryWithoutSignal(t *testing.T) {
	ex := &mockExchange{balance: 10000, candles: candlesFromCloses(append(declineCloses(), 60.0))}
	bot, _ := newTestBot(t, testConfig(), ex)

	bot.OnCandle(confirmedCandle(60))
	bot.Stop()

	assert.Empty(t, ex.placedOrders())
}

func TestNoEntryWhenPositionOpen(t *testing.T) {
	ex := &mockExchange{
		balance: 10000,
		candles: signalCandles(),
		position: &domain.Position{
			Symbol:         "BTCUSDT",
			Side:           domain.SideBuy,
			Size:           0.5,
			EntryPrice:     48000,
			PositionMargin: 2400,
		},
	}
	bot, _ := newTestBot(t, testConfig(), ex)

	bot.OnCandle(confirmedCandle(50000))
	bot.Stop()

	assert.Empty(t, ex.placedOrders())
}

func TestNoEntryWhenOrderPending(t *testing.T) {
	ex := &mockExchange{
		balance: 10000,
		candles: signalCandles(),
		activeOrders: []domain.ActiveOrder{
			{OrderID: "pending", Symbol: "BTCUSDT", Side: domain.SideBuy, Price: 49000, Qty: 0.2},
		},
	}
	bot, _ := newTestBot(t, testConfig(), ex)

	bot.OnCandle(confirmedCandle(50000))
	bot.Stop()

	assert.Empty(t, ex.placedOrders())
}

func TestUnconfirmedCandleIgnored(t *testing.T) {
	ex := &mockExchange{balance: 10000, candles: signalCandles()}
	bot, _ := newTestBot(t, testConfig(), ex)

	ev := confirmedCandle(50000)
	ev.Candle.Confirmed = false
	bot.OnCandle(ev)

	wrongInterval := confirmedCandle(50000)
	wrongInterval.Interval = "5"
	bot.OnCandle(wrongInterval)

	bot.Stop()
	assert.Empty(t, ex.placedOrders())
}

func TestReadFailureDropsCycle(t *testing.T) {
	ex := &mockExchange{
		balance:     10000,
		candles:     signalCandles(),
		positionErr: errors.New("gateway unavailable"),
	}
	repo := &mockRepo{}
	reporter := usecase.NewPerformanceReporter(&mockNotifier{}, repo, zap.NewNop())
	mtx := &mockMetrics{}
	bot := usecase.NewBotService(testConfig(), ex, repo, mtx, reporter, zap.NewNop())

	ctx := context.Background()
	// Prepare succeeds: symbol metadata does not go through GetPosition.
	require.NoError(t, bot.Prepare(ctx))
	require.NoError(t, bot.Start(ctx))

	bot.OnCandle(confirmedCandle(50000))
	bot.Stop()

	assert.Empty(t, ex.placedOrders())
	assert.Zero(t, ex.cancelCount())

	mtx.mu.Lock()
	defer mtx.mu.Unlock()
	assert.Equal(t, 1, mtx.gatewayErrors)
}

func executionEvent() domain.ExecutionEvent {
	return domain.ExecutionEvent{
		Orders: []domain.OrderExecution{
			{OrderID: "order-1", Symbol: "BTCUSDT", Side: domain.SideBuy, Price: 100, Qty: 10},
		},
	}
}

func TestExecutionRebuildsLadder(t *testing.T) {
	cfg := testConfig()
	cfg.Leverage = 5

	// entryPrice=100, size=10, leverage=5 -> initialMargin=200.
	// maxMargin = 0.5 * 100 * 5 = 250 > 200: repurchase allowed.
	ex := &mockExchange{
		balance: 100,
		position: &domain.Position{
			Symbol:         "BTCUSDT",
			Side:           domain.SideBuy,
			Size:           10,
			EntryPrice:     100,
			PositionMargin: 200,
		},
	}
	bot, _ := newTestBot(t, cfg, ex)

	bot.OnExecution(executionEvent())
	bot.Stop()

	assert.Equal(t, 1, ex.cancelCount())

	placed := ex.placedOrders()
	require.Len(t, placed, 2)

	var tp, repurchase *domain.OrderRequest
	for _, order := range placed {
		switch order.Side {
		case domain.SideSell:
			tp = order
		case domain.SideBuy:
			repurchase = order
		}
	}

	require.NotNil(t, tp, "take profit order missing")
	assert.InDelta(t, 101.0, tp.Price, 1e-9)
	assert.InDelta(t, 10.0, tp.Qty, 1e-9)
	assert.Equal(t, domain.TimeInForceGTC, tp.TimeInForce)

	require.NotNil(t, repurchase, "repurchase order missing")
	assert.InDelta(t, 99.0, repurchase.Price, 1e-9)
	assert.InDelta(t, 10.0, repurchase.Qty, 1e-9)
}

func TestExecutionOmitsRepurchaseAtMarginCap(t *testing.T) {
	cfg := testConfig()
	cfg.Leverage = 5

	// maxMargin = 0.5 * 80 * 5 = 200, not strictly above the position's
	// initial margin of 200: the repurchase order is withheld.
	ex := &mockExchange{
		balance: 80,
		position: &domain.Position{
			Symbol:         "BTCUSDT",
			Side:           domain.SideBuy,
			Size:           10,
			EntryPrice:     100,
			PositionMargin: 200,
		},
	}
	bot, _ := newTestBot(t, cfg, ex)

	bot.OnExecution(executionEvent())
	bot.Stop()

	placed := ex.placedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, domain.SideSell, placed[0].Side)
	assert.InDelta(t, 101.0, placed[0].Price, 1e-9)
}

func TestExecutionOnFlatPositionCancelsOrders(t *testing.T) {
	// Flat position with no orders left: cancel-all is still called and
	// must be treated as a harmless no-op.
	ex := &mockExchange{balance: 10500}
	bot, _ := newTestBot(t, testConfig(), ex)

	bot.OnExecution(executionEvent())
	bot.Stop()

	assert.Equal(t, 1, ex.cancelCount())
	assert.Empty(t, ex.placedOrders())
}

func TestEmptyExecutionEventIgnored(t *testing.T) {
	ex := &mockExchange{balance: 10000}
	bot, _ := newTestBot(t, testConfig(), ex)

	bot.OnExecution(domain.ExecutionEvent{})
	bot.OnCandle(domain.CandleEvent{Symbol: "XRPUSDT", Interval: "1"})
	bot.Stop()

	assert.Zero(t, ex.cancelCount())
	assert.Empty(t, ex.placedOrders())
}

func TestEventsForOneSymbolNeverOverlap(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	ex := &mockExchange{balance: 10000, candles: signalCandles()}
	ex.positionHook = func(string) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		// Hold the cycle open long enough for a second consumer,
		// if one existed, to enter it.
		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
	}
	bot, _ := newTestBot(t, testConfig(), ex)

	for i := 0; i < 20; i++ {
		bot.OnCandle(confirmedCandle(50000))
		bot.OnExecution(executionEvent())
	}
	bot.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "decision cycles for one symbol overlapped")
}

func TestSymbolsProcessIndependently(t *testing.T) {
	cfg := testConfig()
	cfg.Assets = []string{"BTC", "ETH"}

	// The BTCUSDT cycle blocks until the ETHUSDT cycle has started. If
	// symbols shared one queue this could only resolve by timeout.
	ethStarted := make(chan struct{})
	var once sync.Once

	var mu sync.Mutex
	sawEthWhileBlocked := false

	ex := &mockExchange{balance: 10000}
	ex.positionHook = func(symbol string) {
		switch symbol {
		case "ETHUSDT":
			once.Do(func() { close(ethStarted) })
		case "BTCUSDT":
			select {
			case <-ethStarted:
				mu.Lock()
				sawEthWhileBlocked = true
				mu.Unlock()
			case <-time.After(2 * time.Second):
			}
		}
	}
	bot, _ := newTestBot(t, cfg, ex)

	btc := confirmedCandle(50000)
	eth := confirmedCandle(3000)
	eth.Symbol = "ETHUSDT"
	eth.Candle.Symbol = "ETHUSDT"

	bot.OnCandle(btc)
	bot.OnCandle(eth)
	bot.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawEthWhileBlocked, "symbols did not process concurrently")
}

func TestPlacementFailureLeavesNoTrace(t *testing.T) {
	ex := &mockExchange{
		balance:  10000,
		candles:  signalCandles(),
		placeErr: errors.New("gateway unavailable"),
	}
	bot, repo := newTestBot(t, testConfig(), ex)

	bot.OnCandle(confirmedCandle(50000))
	bot.Stop()

	// Nothing journaled: the failure is logged and the next event
	// re-derives state from the exchange.
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Empty(t, repo.orders)
}

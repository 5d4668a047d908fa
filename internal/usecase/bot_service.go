package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
)

// klineHistoryLimit is the number of bars loaded for each signal
// evaluation (exchange API page limit).
const klineHistoryLimit = 200

// queueSize bounds the per-symbol event queue. Overflow drops the
// event; state is re-derived from the exchange on the next one anyway.
const queueSize = 64

type queuedEvent struct {
	candle    *domain.CandleEvent
	execution *domain.ExecutionEvent
}

// BotService is the order orchestration core. It owns no position or
// order state: FLAT, ENTRY_PENDING and OPEN are rediscovered from the
// exchange on every event, so a missed placement or a stale view heals
// itself on the next event. The only in-process state is the
// performance windows and the read-only symbol metadata.
//
// Events for one symbol are serialized through a dedicated queue with a
// single consumer, so two decision cycles never overlap for the same
// symbol. Order placements are dispatched fire-and-forget; their only
// continuation is logging, metrics and the journal.
type BotService struct {
	cfg      domain.BotConfig
	exchange domain.Exchange
	repo     domain.TradeRepository
	metrics  domain.MetricsRecorder
	reporter *PerformanceReporter
	logger   *zap.Logger

	// Read-only after Prepare.
	symbolInfos map[string]*domain.SymbolInfo

	mu      sync.Mutex
	queues  map[string]chan queuedEvent
	closed  bool
	wg      sync.WaitGroup
	pending sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBotService(
	cfg domain.BotConfig,
	exchange domain.Exchange,
	repo domain.TradeRepository,
	metrics domain.MetricsRecorder,
	reporter *PerformanceReporter,
	logger *zap.Logger,
) *BotService {
	return &BotService{
		cfg:         cfg,
		exchange:    exchange,
		repo:        repo,
		metrics:     metrics,
		reporter:    reporter,
		logger:      logger,
		symbolInfos: make(map[string]*domain.SymbolInfo),
		queues:      make(map[string]chan queuedEvent),
	}
}

// Prepare configures every traded symbol on the exchange (position
// mode, margin mode, leverage; all best effort, the exchange rejects
// repeats) and loads its trading metadata. An unresolvable quantity
// step aborts startup: the bot must not trade a symbol whose rounding
// rules it does not know.
func (s *BotService) Prepare(ctx context.Context) error {
	for _, symbol := range s.cfg.Symbols() {
		if err := s.exchange.SetPositionMode(ctx, symbol, "BothSide"); err != nil {
			s.logger.Warn("failed to set position mode", zap.String("symbol", symbol), zap.Error(err))
		}
		if err := s.exchange.SetMarginMode(ctx, symbol, false, s.cfg.Leverage); err != nil {
			s.logger.Warn("failed to set margin mode", zap.String("symbol", symbol), zap.Error(err))
		}
		if err := s.exchange.SetLeverage(ctx, symbol, s.cfg.Leverage); err != nil {
			s.logger.Warn("failed to set leverage", zap.String("symbol", symbol), zap.Error(err))
		}

		info, err := s.exchange.GetSymbolInfo(ctx, symbol)
		if err != nil {
			return fmt.Errorf("load symbol info for %s: %w", symbol, err)
		}
		precision, err := QuantityPrecision(info.QuantityStep)
		if err != nil {
			return fmt.Errorf("symbol %s: %w", symbol, err)
		}
		info.QuantityPrecision = precision
		s.symbolInfos[symbol] = info

		s.logger.Info("symbol prepared",
			zap.String("symbol", symbol),
			zap.Float64("min_qty", info.MinQuantity),
			zap.Int("precision", precision))
	}
	return nil
}

// Start takes the initial balance snapshot for the performance windows
// and launches one consumer goroutine per symbol.
func (s *BotService) Start(ctx context.Context) error {
	balance, err := s.exchange.GetWalletBalance(ctx, s.cfg.Base)
	if err != nil {
		return fmt.Errorf("initial balance snapshot: %w", err)
	}
	s.reporter.Reset(time.Now(), balance)
	s.metrics.WalletBalance(balance)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, symbol := range s.cfg.Symbols() {
		q := make(chan queuedEvent, queueSize)
		s.queues[symbol] = q
		s.wg.Add(1)
		go s.consume(q)
	}
	return nil
}

// Stop drains the queues and waits for in-flight order placements.
func (s *BotService) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.pending.Wait()
	if s.cancel != nil {
		s.cancel()
	}
}

// OnCandle routes a candle event into its symbol's queue.
func (s *BotService) OnCandle(ev domain.CandleEvent) {
	s.dispatch(ev.Symbol, queuedEvent{candle: &ev})
}

// OnExecution routes an execution event by the symbol of its first
// order.
func (s *BotService) OnExecution(ev domain.ExecutionEvent) {
	if len(ev.Orders) == 0 {
		return
	}
	s.dispatch(ev.Orders[0].Symbol, queuedEvent{execution: &ev})
}

func (s *BotService) dispatch(symbol string, ev queuedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	q, ok := s.queues[symbol]
	if !ok {
		return
	}
	select {
	case q <- ev:
	default:
		s.logger.Warn("event queue full, dropping event", zap.String("symbol", symbol))
	}
}

func (s *BotService) consume(q <-chan queuedEvent) {
	defer s.wg.Done()
	for ev := range q {
		switch {
		case ev.candle != nil:
			s.handleCandle(s.ctx, *ev.candle)
		case ev.execution != nil:
			s.handleExecution(s.ctx, *ev.execution)
		}
	}
}

// handleCandle is the entry decision cycle. It only ever acts on a
// confirmed candle of the configured interval, and re-queries position,
// open orders, history and balance from the exchange before deciding.
func (s *BotService) handleCandle(ctx context.Context, ev domain.CandleEvent) {
	if ev.Interval != s.cfg.Interval || !ev.Candle.Confirmed {
		return
	}

	s.reporter.Observe(ctx, ev.Candle.Start)

	symbol := ev.Symbol
	info, ok := s.symbolInfos[symbol]
	if !ok {
		return
	}

	position, err := s.exchange.GetPosition(ctx, symbol)
	if err != nil {
		s.dropCycle(symbol, "position", err)
		return
	}
	activeOrders, err := s.exchange.GetActiveOrders(ctx, symbol)
	if err != nil {
		s.dropCycle(symbol, "active_orders", err)
		return
	}
	candles, err := s.exchange.GetCandles(ctx, symbol, s.cfg.Interval, klineHistoryLimit)
	if err != nil {
		s.dropCycle(symbol, "candles", err)
		return
	}
	// The most recent bar is still forming.
	if len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}
	balance, err := s.exchange.GetWalletBalance(ctx, s.cfg.Base)
	if err != nil {
		s.dropCycle(symbol, "balance", err)
		return
	}
	s.metrics.WalletBalance(balance)

	// Only a flat symbol with no pending entry may open a trade.
	if position.PositionMargin > 0 || len(activeOrders) > 0 {
		return
	}

	entered := ShouldEnterLong(candles)
	s.metrics.SignalEvaluated(entered)
	if !entered {
		return
	}

	marginBudget := s.cfg.InitialMarginPosition * balance * float64(s.cfg.Leverage)
	quantity := PositionSize(marginBudget, ev.Candle.Close, info.MinQuantity, info.QuantityPrecision)

	s.submitOrder(&domain.OrderRequest{
		Symbol:      symbol,
		Side:        domain.SideBuy,
		Type:        domain.OrderTypeLimit,
		Price:       ev.Candle.Close,
		Qty:         quantity,
		TimeInForce: domain.TimeInForceGTC,
		PositionIdx: 1,
		OrderLinkID: uuid.NewString(),
	}, "entry")
}

// handleExecution rebuilds the take-profit / repurchase ladder after a
// fill. Which order filled does not matter: the ladder is derived from
// the current position alone, so a partial fill and a fresh entry are
// handled the same way (cancel and replace).
func (s *BotService) handleExecution(ctx context.Context, ev domain.ExecutionEvent) {
	symbol := ev.Orders[0].Symbol

	balance, err := s.exchange.GetWalletBalance(ctx, s.cfg.Base)
	if err != nil {
		s.dropCycle(symbol, "balance", err)
		return
	}
	position, err := s.exchange.GetPosition(ctx, symbol)
	if err != nil {
		s.dropCycle(symbol, "position", err)
		return
	}

	if position.PositionMargin > 0 {
		// Cancelling with nothing open is a no-op on the exchange.
		if err := s.exchange.CancelAllOrders(ctx, symbol); err != nil {
			s.logger.Error("failed to cancel orders", zap.String("symbol", symbol), zap.Error(err))
			s.metrics.GatewayError("cancel_all")
		}

		info, ok := s.symbolInfos[symbol]
		if !ok {
			s.logger.Error("execution for unknown symbol", zap.String("symbol", symbol))
			return
		}

		tpPrice := OffsetPrice(position.EntryPrice, s.cfg.TakeProfitPercent, info.QuantityPrecision)
		s.submitOrder(&domain.OrderRequest{
			Symbol:      symbol,
			Side:        domain.SideSell,
			Type:        domain.OrderTypeLimit,
			Price:       tpPrice,
			Qty:         position.Size,
			TimeInForce: domain.TimeInForceGTC,
			PositionIdx: 1,
			OrderLinkID: uuid.NewString(),
		}, "take_profit")

		// The repurchase order is what grows exposure, so it is the one
		// withheld once the position's margin reaches the cap.
		maxMargin := s.cfg.MaxMarginPosition * balance * float64(s.cfg.Leverage)
		if position.InitialMargin(s.cfg.Leverage) < maxMargin {
			repurchasePrice := OffsetPrice(position.EntryPrice, -s.cfg.RepurchasePercentDelta, info.QuantityPrecision)
			s.submitOrder(&domain.OrderRequest{
				Symbol:      symbol,
				Side:        domain.SideBuy,
				Type:        domain.OrderTypeLimit,
				Price:       repurchasePrice,
				Qty:         position.Size,
				TimeInForce: domain.TimeInForceGTC,
				PositionIdx: 1,
				OrderLinkID: uuid.NewString(),
			}, "repurchase")
		}
		return
	}

	// Position closed, most likely the take profit filled.
	s.logger.Info("position closed", zap.String("symbol", symbol), zap.Float64("balance", balance))
	if err := s.exchange.CancelAllOrders(ctx, symbol); err != nil {
		s.logger.Error("failed to cancel orders", zap.String("symbol", symbol), zap.Error(err))
		s.metrics.GatewayError("cancel_all")
	}
	s.reporter.SetBalance(balance)
	s.metrics.WalletBalance(balance)
}

// dropCycle logs a failed decision-critical read. The event is lost on
// purpose: no action is safer than acting on unknown state, and the
// next event re-derives everything.
func (s *BotService) dropCycle(symbol, op string, err error) {
	s.logger.Error("dropping cycle, gateway read failed",
		zap.String("symbol", symbol),
		zap.String("op", op),
		zap.Error(err))
	s.metrics.GatewayError(op)
}

// submitOrder dispatches a placement without blocking the decision
// cycle. Failures are logged and nothing else: local state never
// changes on placement, so a miss self-heals on a later event.
func (s *BotService) submitOrder(req *domain.OrderRequest, purpose string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if _, err := s.exchange.PlaceOrder(s.ctx, req); err != nil {
			s.logger.Error("order placement failed",
				zap.String("symbol", req.Symbol),
				zap.String("purpose", purpose),
				zap.Error(err))
			s.metrics.GatewayError("place_order")
			return
		}
		s.logger.Info("order placed",
			zap.String("symbol", req.Symbol),
			zap.String("purpose", purpose),
			zap.String("side", string(req.Side)),
			zap.Float64("price", req.Price),
			zap.Float64("qty", req.Qty))
		s.metrics.OrderPlaced(req.Side, purpose)

		rec := &domain.OrderRecord{
			Symbol:    req.Symbol,
			Side:      req.Side,
			Type:      req.Type,
			Price:     req.Price,
			Qty:       req.Qty,
			LinkID:    req.OrderLinkID,
			Purpose:   purpose,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.repo.SaveOrder(s.ctx, rec); err != nil {
			s.logger.Warn("failed to journal order", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}()
}

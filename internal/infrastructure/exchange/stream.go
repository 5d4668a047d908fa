package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
)

const (
	BybitPublicWSURL  = "wss://stream.bybit.com/v5/public/linear"
	BybitPrivateWSURL = "wss://stream.bybit.com/v5/private"

	wsPingInterval     = 20 * time.Second
	wsReconnectMin     = time.Second
	wsReconnectMax     = time.Minute
	wsHandshakeTimeout = 10 * time.Second
)

// BybitStream maintains one websocket connection to a Bybit V5 stream,
// resubscribes after every reconnect and routes pushes to registered
// callbacks. With credentials set it authenticates before subscribing
// (required for the private execution topic).
type BybitStream struct {
	url       string
	apiKey    string
	apiSecret string
	topics    []string
	logger    *zap.Logger

	mu           sync.Mutex
	candleCbs    []func(domain.CandleEvent)
	executionCbs []func(domain.ExecutionEvent)
}

// NewPublicStream creates a stream for public kline topics
// (kline.{interval}.{symbol} per traded symbol).
func NewPublicStream(url string, interval string, symbols []string, logger *zap.Logger) *BybitStream {
	if url == "" {
		url = BybitPublicWSURL
	}
	topics := make([]string, len(symbols))
	for i, s := range symbols {
		topics[i] = fmt.Sprintf("kline.%s.%s", interval, s)
	}
	return &BybitStream{url: url, topics: topics, logger: logger}
}

// NewPrivateStream creates an authenticated stream for the account
// execution topic.
func NewPrivateStream(url, apiKey, apiSecret string, logger *zap.Logger) *BybitStream {
	if url == "" {
		url = BybitPrivateWSURL
	}
	return &BybitStream{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		topics:    []string{"execution"},
		logger:    logger,
	}
}

func (s *BybitStream) OnCandle(cb func(domain.CandleEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candleCbs = append(s.candleCbs, cb)
}

func (s *BybitStream) OnExecution(cb func(domain.ExecutionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executionCbs = append(s.executionCbs, cb)
}

// Run connects and serves the stream until ctx is cancelled,
// reconnecting with exponential backoff after every drop. A connection
// that got as far as subscribing resets the backoff, so only
// consecutive failures wait longer.
func (s *BybitStream) Run(ctx context.Context) {
	backoff := wsReconnectMin
	for {
		subscribed, err := s.serveConn(ctx)
		if err != nil {
			s.logger.Warn("websocket disconnected", zap.String("url", s.url), zap.Error(err))
		}
		if subscribed {
			backoff = wsReconnectMin
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

// serveConn returns whether the connection reached the subscribed
// state before it ended.
func (s *BybitStream) serveConn(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if s.apiKey != "" {
		if err := s.authenticate(conn); err != nil {
			return false, fmt.Errorf("auth: %w", err)
		}
	}

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": s.topics,
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("websocket subscribed", zap.Strings("topics", s.topics))

	// Bybit drops connections that stay silent; ping on a timer.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}
		s.handleMessage(message)
	}
}

// Bybit private stream auth: hex HMAC-SHA256 of "GET/realtime{expires}".
func (s *BybitStream) authenticate(conn *websocket.Conn) error {
	expires := time.Now().Add(5 * time.Second).UnixMilli()
	h := hmac.New(sha256.New, []byte(s.apiSecret))
	h.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
	signature := hex.EncodeToString(h.Sum(nil))

	authMsg := map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{s.apiKey, expires, signature},
	}
	return conn.WriteJSON(authMsg)
}

func (s *BybitStream) handleMessage(message []byte) {
	var envelope struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		s.logger.Warn("websocket message decode failed", zap.Error(err))
		return
	}
	if envelope.Topic == "" {
		// Operational replies (pong, subscribe acks, auth acks).
		return
	}

	switch {
	case strings.HasPrefix(envelope.Topic, "kline."):
		s.handleKline(envelope.Topic, envelope.Data)
	case envelope.Topic == "execution":
		s.handleExecution(envelope.Data)
	}
}

func (s *BybitStream) handleKline(topic string, data json.RawMessage) {
	// Topic format: kline.{interval}.{symbol}
	parts := strings.SplitN(topic, ".", 3)
	if len(parts) != 3 {
		return
	}
	interval, symbol := parts[1], parts[2]

	var bars []struct {
		Start   int64  `json:"start"`
		Open    string `json:"open"`
		High    string `json:"high"`
		Low     string `json:"low"`
		Close   string `json:"close"`
		Volume  string `json:"volume"`
		Confirm bool   `json:"confirm"`
	}
	if err := json.Unmarshal(data, &bars); err != nil {
		s.logger.Warn("kline decode failed", zap.String("topic", topic), zap.Error(err))
		return
	}

	s.mu.Lock()
	callbacks := make([]func(domain.CandleEvent), len(s.candleCbs))
	copy(callbacks, s.candleCbs)
	s.mu.Unlock()

	for _, bar := range bars {
		open, _ := strconv.ParseFloat(bar.Open, 64)
		high, _ := strconv.ParseFloat(bar.High, 64)
		low, _ := strconv.ParseFloat(bar.Low, 64)
		closePrice, _ := strconv.ParseFloat(bar.Close, 64)
		volume, _ := strconv.ParseFloat(bar.Volume, 64)

		ev := domain.CandleEvent{
			Symbol:   symbol,
			Interval: interval,
			Candle: domain.Candle{
				Symbol:    symbol,
				Start:     time.UnixMilli(bar.Start).UTC(),
				Open:      open,
				High:      high,
				Low:       low,
				Close:     closePrice,
				Volume:    volume,
				Confirmed: bar.Confirm,
			},
		}
		for _, cb := range callbacks {
			cb(ev)
		}
	}
}

func (s *BybitStream) handleExecution(data json.RawMessage) {
	var fills []struct {
		Symbol    string `json:"symbol"`
		Side      string `json:"side"`
		OrderID   string `json:"orderId"`
		ExecPrice string `json:"execPrice"`
		ExecQty   string `json:"execQty"`
		ExecType  string `json:"execType"`
		ExecTime  string `json:"execTime"`
	}
	if err := json.Unmarshal(data, &fills); err != nil {
		s.logger.Warn("execution decode failed", zap.Error(err))
		return
	}
	if len(fills) == 0 {
		return
	}

	orders := make([]domain.OrderExecution, 0, len(fills))
	for _, f := range fills {
		price, _ := strconv.ParseFloat(f.ExecPrice, 64)
		qty, _ := strconv.ParseFloat(f.ExecQty, 64)
		ts, _ := strconv.ParseInt(f.ExecTime, 10, 64)
		orders = append(orders, domain.OrderExecution{
			OrderID:  f.OrderID,
			Symbol:   f.Symbol,
			Side:     domain.Side(f.Side),
			Price:    price,
			Qty:      qty,
			ExecType: f.ExecType,
			ExecTime: time.UnixMilli(ts).UTC(),
		})
	}

	s.mu.Lock()
	callbacks := make([]func(domain.ExecutionEvent), len(s.executionCbs))
	copy(callbacks, s.executionCbs)
	s.mu.Unlock()

	ev := domain.ExecutionEvent{Orders: orders}
	for _, cb := range callbacks {
		cb(ev)
	}
}

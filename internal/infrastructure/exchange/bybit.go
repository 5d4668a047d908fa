package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitTestURL = "https://api-testnet.bybit.com"
)

// BybitAdapter talks to the Bybit V5 linear-futures REST API.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
}

func NewBybitAdapter(apiKey, apiSecret, baseURL string) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == http.MethodGet {
		// For GET the signed params are the query string.
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	signature := b.sign(paramsStr, timestamp, recvWindow)

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("bybit http %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

type retHeader struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

func checkRet(resp []byte, op string) error {
	var header retHeader
	if err := json.Unmarshal(resp, &header); err != nil {
		return fmt.Errorf("bybit %s: decode response: %w", op, err)
	}
	if header.RetCode != 0 {
		return fmt.Errorf("bybit %s: %s (retCode %d)", op, header.RetMsg, header.RetCode)
	}
	return nil
}

// GetPosition returns the buy-side position for a symbol. A symbol with
// no open position comes back with zero size and margin.
func (b *BybitAdapter) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	path := "/v5/position/list?category=linear&symbol=" + symbol
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := checkRet(resp, "position"); err != nil {
		return nil, err
	}

	var result struct {
		Result struct {
			List []struct {
				Symbol     string `json:"symbol"`
				Side       string `json:"side"`
				Size       string `json:"size"`
				AvgPrice   string `json:"avgPrice"`
				PositionIM string `json:"positionIM"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	if len(result.Result.List) == 0 {
		return &domain.Position{Symbol: symbol}, nil
	}

	raw := result.Result.List[0]
	size, _ := strconv.ParseFloat(raw.Size, 64)
	entry, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	margin, _ := strconv.ParseFloat(raw.PositionIM, 64)

	side := domain.SideBuy
	if raw.Side == "Sell" {
		side = domain.SideSell
	}

	return &domain.Position{
		Symbol:         raw.Symbol,
		Side:           side,
		Size:           size,
		EntryPrice:     entry,
		PositionMargin: margin,
	}, nil
}

func (b *BybitAdapter) GetActiveOrders(ctx context.Context, symbol string) ([]domain.ActiveOrder, error) {
	path := "/v5/order/realtime?category=linear&symbol=" + symbol
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := checkRet(resp, "active orders"); err != nil {
		return nil, err
	}

	var result struct {
		Result struct {
			List []struct {
				OrderID string `json:"orderId"`
				Symbol  string `json:"symbol"`
				Side    string `json:"side"`
				Price   string `json:"price"`
				Qty     string `json:"qty"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	orders := make([]domain.ActiveOrder, 0, len(result.Result.List))
	for _, raw := range result.Result.List {
		price, _ := strconv.ParseFloat(raw.Price, 64)
		qty, _ := strconv.ParseFloat(raw.Qty, 64)
		orders = append(orders, domain.ActiveOrder{
			OrderID: raw.OrderID,
			Symbol:  raw.Symbol,
			Side:    domain.Side(raw.Side),
			Price:   price,
			Qty:     qty,
		})
	}
	return orders, nil
}

func (b *BybitAdapter) GetWalletBalance(ctx context.Context, coin string) (float64, error) {
	path := "/v5/account/wallet-balance?accountType=UNIFIED&coin=" + coin
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	if err := checkRet(resp, "wallet balance"); err != nil {
		return 0, err
	}

	var result struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin          string `json:"coin"`
					WalletBalance string `json:"walletBalance"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}

	for _, account := range result.Result.List {
		for _, c := range account.Coin {
			if c.Coin == coin {
				return strconv.ParseFloat(c.WalletBalance, 64)
			}
		}
	}
	return 0, fmt.Errorf("bybit wallet balance: coin %s not found", coin)
}

func (b *BybitAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	path := fmt.Sprintf("/v5/market/kline?category=linear&symbol=%s&interval=%s&limit=%d", symbol, interval, limit)
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := checkRet(resp, "kline"); err != nil {
		return nil, err
	}

	var result struct {
		Result struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	var candles []domain.Candle
	for _, raw := range result.Result.List {
		// [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		open, _ := strconv.ParseFloat(raw[1], 64)
		high, _ := strconv.ParseFloat(raw[2], 64)
		low, _ := strconv.ParseFloat(raw[3], 64)
		closePrice, _ := strconv.ParseFloat(raw[4], 64)
		volume, _ := strconv.ParseFloat(raw[5], 64)

		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Start:     time.UnixMilli(ts).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			Confirmed: true,
		})
	}

	// Bybit returns newest first; callers expect chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func (b *BybitAdapter) GetSymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	path := fmt.Sprintf("/v5/market/instruments-info?category=linear&symbol=%s", symbol)
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := checkRet(resp, "instruments info"); err != nil {
		return nil, err
	}

	var result struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				LotSizeFilter struct {
					MinOrderQty string `json:"minOrderQty"`
					QtyStep     string `json:"qtyStep"`
				} `json:"lotSizeFilter"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	if len(result.Result.List) == 0 {
		return nil, fmt.Errorf("bybit instruments info: symbol %s not found", symbol)
	}

	raw := result.Result.List[0]
	minQty, err := strconv.ParseFloat(raw.LotSizeFilter.MinOrderQty, 64)
	if err != nil {
		return nil, fmt.Errorf("bybit instruments info: min order qty %q: %w", raw.LotSizeFilter.MinOrderQty, err)
	}

	return &domain.SymbolInfo{
		Symbol:       raw.Symbol,
		MinQuantity:  minQty,
		QuantityStep: raw.LotSizeFilter.QtyStep,
	}, nil
}

func (b *BybitAdapter) PlaceOrder(ctx context.Context, order *domain.OrderRequest) (string, error) {
	payload := map[string]interface{}{
		"category":       "linear",
		"symbol":         order.Symbol,
		"side":           string(order.Side),
		"orderType":      string(order.Type),
		"qty":            strconv.FormatFloat(order.Qty, 'f', -1, 64),
		"timeInForce":    timeInForceCode(order.TimeInForce),
		"reduceOnly":     order.ReduceOnly,
		"closeOnTrigger": order.CloseOnTrigger,
		"positionIdx":    order.PositionIdx,
	}
	if order.Type == domain.OrderTypeLimit {
		payload["price"] = strconv.FormatFloat(order.Price, 'f', -1, 64)
	}
	if order.OrderLinkID != "" {
		payload["orderLinkId"] = order.OrderLinkID
	}

	resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/create", payload)
	if err != nil {
		return "", err
	}
	if err := checkRet(resp, "order create"); err != nil {
		return "", err
	}

	var result struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", err
	}
	return result.Result.OrderID, nil
}

// CancelAllOrders cancels every open order for the symbol. Bybit
// returns success when there is nothing to cancel, so the call is
// idempotent.
func (b *BybitAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	payload := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
	}
	resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/cancel-all", payload)
	if err != nil {
		return err
	}
	return checkRet(resp, "cancel all")
}

func (b *BybitAdapter) SetPositionMode(ctx context.Context, symbol string, mode string) error {
	// 0: one-way, 3: hedge ("BothSide")
	modeCode := 0
	if mode == "BothSide" {
		modeCode = 3
	}
	payload := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"mode":     modeCode,
	}
	resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/position/switch-mode", payload)
	if err != nil {
		return err
	}
	return checkRet(resp, "switch mode")
}

func (b *BybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	payload := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/position/set-leverage", payload)
	if err != nil {
		return err
	}
	return checkRet(resp, "set leverage")
}

func (b *BybitAdapter) SetMarginMode(ctx context.Context, symbol string, isolated bool, leverage int) error {
	// 0: cross margin, 1: isolated margin
	tradeMode := 0
	if isolated {
		tradeMode = 1
	}
	payload := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"tradeMode":    tradeMode,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/position/switch-isolated", payload)
	if err != nil {
		return err
	}
	return checkRet(resp, "switch isolated")
}

func timeInForceCode(tif string) string {
	// V5 uses short codes; the domain keeps the descriptive name.
	switch tif {
	case domain.TimeInForceGTC, "":
		return "GTC"
	case "ImmediateOrCancel":
		return "IOC"
	case "FillOrKill":
		return "FOK"
	case "PostOnly":
		return "PostOnly"
	default:
		return tif
	}
}

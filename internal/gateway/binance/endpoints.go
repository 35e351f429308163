package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, _, err := c.do(ctx, http.MethodGet, "/fapi/v1/time", nil, false)
	if err != nil {
		return 0, err
	}
	var st ServerTime
	if err := json.Unmarshal(body, &st); err != nil {
		return 0, fmt.Errorf("parsing server time: %w", err)
	}
	return st.ServerTime, nil
}

// GetSymbolPrecision fetches the instrument's tick/step filters. Public
// endpoint; called once at startup to populate the precision cache.
func (c *Client) GetSymbolPrecision(ctx context.Context, symbol string) (Precision, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, _, err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", params, false)
	if err != nil {
		return Precision{}, err
	}
	var info ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return Precision{}, fmt.Errorf("parsing exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return s.Precision(), nil
		}
	}
	return Precision{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

func (c *Client) GetBalances(ctx context.Context) ([]Balance, error) {
	body, _, err := c.do(ctx, http.MethodGet, "/fapi/v2/balance", nil, true)
	if err != nil {
		return nil, err
	}
	var balances []Balance
	if err := json.Unmarshal(body, &balances); err != nil {
		return nil, fmt.Errorf("parsing balances: %w", err)
	}
	return balances, nil
}

func (c *Client) GetPositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, _, err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}
	var rows []PositionRisk
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parsing position risk: %w", err)
	}
	return rows, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, _, err := c.do(ctx, http.MethodPost, "/fapi/v1/leverage", params, true)
	return err
}

func (c *Client) GetCommissionRate(ctx context.Context, symbol string) (CommissionRate, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, _, err := c.do(ctx, http.MethodGet, "/fapi/v1/commissionRate", params, true)
	if err != nil {
		return CommissionRate{}, err
	}
	var rate CommissionRate
	if err := json.Unmarshal(body, &rate); err != nil {
		return CommissionRate{}, fmt.Errorf("parsing commission rate: %w", err)
	}
	return rate, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	if req.Quantity != "" {
		params.Set("quantity", req.Quantity)
	}
	switch req.Type {
	case OrderTypeLimit:
		params.Set("timeInForce", "GTC")
		params.Set("price", req.Price)
	case OrderTypeStopMarket, OrderTypeTakeProfitMarket:
		params.Set("stopPrice", req.StopPrice)
	}
	if req.ReduceOnly && !req.ClosePosition {
		params.Set("reduceOnly", "true")
	}
	if req.ClosePosition {
		params.Set("closePosition", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	body, _, err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("parsing order response: %w", err)
	}
	return &order, nil
}

// CancelOrder returns nil when the order is already gone or filled: the
// cancel's goal was achieved either way.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	_, _, err := c.do(ctx, http.MethodDelete, "/fapi/v1/order", params, true)
	return err
}

func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	body, _, err := c.do(ctx, http.MethodGet, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("parsing order: %w", err)
	}
	return &order, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, _, err := c.do(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true)
	if err != nil {
		return nil, err
	}
	var orders []Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("parsing open orders: %w", err)
	}
	return orders, nil
}

func (c *Client) GetUserTrades(ctx context.Context, symbol string, limit int) ([]UserTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, _, err := c.do(ctx, http.MethodGet, "/fapi/v1/userTrades", params, true)
	if err != nil {
		return nil, err
	}
	var trades []UserTrade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("parsing user trades: %w", err)
	}
	return trades, nil
}

// Listen-key lifecycle. The venue authenticates these with the API key header
// only; no request signature is required.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, _, err := c.do(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, false)
	if err != nil {
		return "", fmt.Errorf("creating listen key: %w", err)
	}
	var resp listenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing listen key: %w", err)
	}
	return resp.ListenKey, nil
}

func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodPut, "/fapi/v1/listenKey", nil, false)
	return err
}

func (c *Client) CloseListenKey(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodDelete, "/fapi/v1/listenKey", nil, false)
	return err
}

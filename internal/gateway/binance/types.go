package binance

import (
	"fmt"

	"marlin/internal/pkg/convert"
)

// APIError is the venue's error payload plus the HTTP status it arrived with.
type APIError struct {
	Code       int64  `json:"code"`
	Message    string `json:"msg"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: code=%d http=%d msg=%s", e.Code, e.HTTPStatus, e.Message)
}

// Side / order type / status vocabulary of the USDT-M futures API.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit            = "LIMIT"
	OrderTypeMarket           = "MARKET"
	OrderTypeStopMarket       = "STOP_MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"

	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

type ServerTime struct {
	ServerTime int64 `json:"serverTime"`
}

type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

type SymbolInfo struct {
	Symbol  string         `json:"symbol"`
	Filters []SymbolFilter `json:"filters"`
}

type SymbolFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
}

// Precision is the per-symbol tick/step pair the reconciler formats against.
type Precision struct {
	Symbol   string
	TickSize float64
	StepSize float64
}

func (s SymbolInfo) Precision() Precision {
	p := Precision{Symbol: s.Symbol}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			p.TickSize = convert.MustParseFloat(f.TickSize)
		case "LOT_SIZE":
			p.StepSize = convert.MustParseFloat(f.StepSize)
		}
	}
	return p
}

type Balance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// PositionRisk is the REST /positionRisk row; quantities arrive as strings.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
}

type Order struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	UpdateTime    int64  `json:"updateTime"`
}

type CommissionRate struct {
	Symbol              string `json:"symbol"`
	MakerCommissionRate string `json:"makerCommissionRate"`
	TakerCommissionRate string `json:"takerCommissionRate"`
}

type UserTrade struct {
	Symbol          string `json:"symbol"`
	OrderID         int64  `json:"orderId"`
	ID              int64  `json:"id"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	RealizedPnl     string `json:"realizedPnl"`
	Time            int64  `json:"time"`
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// PlaceOrderRequest covers every order shape the engine places: limit entry,
// market flatten, and the reduce-only protective pair.
type PlaceOrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      string // already precision-formatted by the reconciler
	Price         string // LIMIT only
	StopPrice     string // STOP_MARKET / TAKE_PROFIT_MARKET only
	ReduceOnly    bool
	ClosePosition bool
	ClientOrderID string
}

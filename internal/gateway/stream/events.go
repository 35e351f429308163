package stream

import (
	"encoding/json"

	"marlin/internal/pkg/convert"
)

// Event is a decoded frame handed to the engine loop. Exactly one concrete
// type per frame; the engine switches on them.
type Event interface{ streamEvent() }

// CandleClosed fires only when the venue marks the candle final (k.x).
type CandleClosed struct {
	Symbol     string
	Interval   string
	ClosePrice float64
	CloseTime  int64
}

// PositionUpdate is one row of an ACCOUNT_UPDATE position block.
type PositionUpdate struct {
	Symbol        string
	PositionAmt   float64
	EntryPrice    float64
	UnrealizedPnL float64
}

type AccountUpdate struct {
	Reason    string
	Positions []PositionUpdate
}

// OrderUpdate is an ORDER_TRADE_UPDATE frame. TradeID is non-zero only for
// execution reports that represent a fill.
type OrderUpdate struct {
	Symbol          string
	OrderID         int64
	ClientOrderID   string
	Side            string
	OrderType       string
	Status          string
	ExecType        string
	LastFilledQty   float64
	LastFilledPrice float64
	CumFilledQty    float64
	AvgPrice        float64
	Commission      float64
	CommissionAsset string
	RealizedPnL     float64
	TradeID         int64
	ReduceOnly      bool
	EventTime       int64
	Raw             json.RawMessage
}

type MarginCall struct {
	Symbols []string
}

// Disconnected is terminal: the stream died while the engine was running.
// Restart is the supervisor's job, not ours.
type Disconnected struct {
	Err error
}

func (CandleClosed) streamEvent()  {}
func (AccountUpdate) streamEvent() {}
func (OrderUpdate) streamEvent()   {}
func (MarginCall) streamEvent()    {}
func (Disconnected) streamEvent()  {}

// Wire shapes. The combined endpoint wraps everything in {stream, data}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineFrame struct {
	EventType string `json:"e"`
	Kline     struct {
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Close     string `json:"c"`
		CloseTime int64  `json:"T"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

type userFrame struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

type orderTradeFrame struct {
	EventTime int64 `json:"E"`
	Order     struct {
		Symbol          string `json:"s"`
		ClientOrderID   string `json:"c"`
		Side            string `json:"S"`
		OrderType       string `json:"o"`
		ExecType        string `json:"x"`
		Status          string `json:"X"`
		OrderID         int64  `json:"i"`
		LastFilledQty   string `json:"l"`
		LastFilledPrice string `json:"L"`
		CumFilledQty    string `json:"z"`
		AvgPrice        string `json:"ap"`
		Commission      string `json:"n"`
		CommissionAsset string `json:"N"`
		RealizedPnL     string `json:"rp"`
		TradeID         int64  `json:"t"`
		ReduceOnly      bool   `json:"R"`
	} `json:"o"`
}

type accountFrame struct {
	Account struct {
		Reason    string `json:"m"`
		Positions []struct {
			Symbol        string `json:"s"`
			PositionAmt   string `json:"pa"`
			EntryPrice    string `json:"ep"`
			UnrealizedPnL string `json:"up"`
		} `json:"P"`
	} `json:"a"`
}

type marginCallFrame struct {
	Positions []struct {
		Symbol string `json:"s"`
	} `json:"p"`
}

func decodeOrderUpdate(data json.RawMessage) (OrderUpdate, error) {
	var f orderTradeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return OrderUpdate{}, err
	}
	o := f.Order
	return OrderUpdate{
		Symbol:          o.Symbol,
		OrderID:         o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		Side:            o.Side,
		OrderType:       o.OrderType,
		Status:          o.Status,
		ExecType:        o.ExecType,
		LastFilledQty:   convert.MustParseFloat(o.LastFilledQty),
		LastFilledPrice: convert.MustParseFloat(o.LastFilledPrice),
		CumFilledQty:    convert.MustParseFloat(o.CumFilledQty),
		AvgPrice:        convert.MustParseFloat(o.AvgPrice),
		Commission:      convert.MustParseFloat(o.Commission),
		CommissionAsset: o.CommissionAsset,
		RealizedPnL:     convert.MustParseFloat(o.RealizedPnL),
		TradeID:         o.TradeID,
		ReduceOnly:      o.ReduceOnly,
		EventTime:       f.EventTime,
		Raw:             data,
	}, nil
}

func decodeAccountUpdate(data json.RawMessage) (AccountUpdate, error) {
	var f accountFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return AccountUpdate{}, err
	}
	out := AccountUpdate{Reason: f.Account.Reason}
	for _, p := range f.Account.Positions {
		out.Positions = append(out.Positions, PositionUpdate{
			Symbol:        p.Symbol,
			PositionAmt:   convert.MustParseFloat(p.PositionAmt),
			EntryPrice:    convert.MustParseFloat(p.EntryPrice),
			UnrealizedPnL: convert.MustParseFloat(p.UnrealizedPnL),
		})
	}
	return out, nil
}

func decodeMarginCall(data json.RawMessage) (MarginCall, error) {
	var f marginCallFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return MarginCall{}, err
	}
	var out MarginCall
	for _, p := range f.Positions {
		out.Symbols = append(out.Symbols, p.Symbol)
	}
	return out, nil
}

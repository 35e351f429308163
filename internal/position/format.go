package position

import (
	"strings"

	"github.com/shopspring/decimal"

	"marlin/internal/gateway/binance"
)

// Formatter rounds prices and quantities down to the instrument's tick/step
// before anything is sent to the venue. Mandatory before every order: an
// off-grid value is rejected outright by the exchange.
type Formatter struct {
	prec binance.Precision
}

func NewFormatter(prec binance.Precision) *Formatter {
	return &Formatter{prec: prec}
}

func (f *Formatter) FormatPrice(v float64) string {
	return f.roundDown(v, f.prec.TickSize)
}

func (f *Formatter) FormatQuantity(v float64) string {
	return f.roundDown(v, f.prec.StepSize)
}

// roundDown floors v onto the grid defined by step. With no instrument
// metadata it falls back to 8 decimals with trailing zeros trimmed.
// Idempotent: an on-grid value formats to itself.
func (f *Formatter) roundDown(v float64, step float64) string {
	d := decimal.NewFromFloat(v)
	if step <= 0 {
		return trimZeros(d.StringFixed(8))
	}
	st := decimal.NewFromFloat(step)
	floored := d.Div(st).Floor().Mul(st)
	places := int32(0)
	if st.Exponent() < 0 {
		places = -st.Exponent()
	}
	return floored.StringFixed(places)
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

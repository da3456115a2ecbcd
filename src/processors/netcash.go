package processors

import (
	"github.com/shopspring/decimal"
	"github.com/williams2w4/tradej/src/models"
)

// ResolveNetCash returns the signed cash impact of one fill.
//
// When the broker reported a net cash value it is returned verbatim: brokers
// fold in exchange fees, accruals and rounding that price*quantity cannot
// reproduce, so the reported figure is authoritative. Otherwise the amount is
// derived: price*quantity*multiplier, positive for a sale (cash received),
// negative for a purchase (cash paid), minus commission on either side.
func ResolveNetCash(fill *models.NormalizedFill) decimal.Decimal {
	if fill.NetCash.Valid {
		return fill.NetCash.Decimal
	}

	amount := fill.Price.Mul(fill.Quantity).Mul(fill.Multiplier)
	if fill.Side == models.SideBuy {
		amount = amount.Neg()
	}
	return amount.Sub(fill.Commission)
}

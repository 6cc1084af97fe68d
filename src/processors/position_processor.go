package processors

import (
	"github.com/shopspring/decimal"

	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/utils"
)

// Position accumulates one instrument's buys and sells. Sums are exact
// decimals so thousands of micro-fills do not drift.
type Position struct {
	Key      string
	Symbol   string
	Name     string
	ISIN     string
	Currency string
	Platform string
	Type     models.AssetType

	bought     decimal.Decimal
	sold       decimal.Decimal
	pricedQty  decimal.Decimal
	pricedCost decimal.Decimal
	entries    int
	warnings   []warning
}

type warning struct {
	msg     string
	penalty int
}

var epsilon = decimal.NewFromFloat(models.QuantityEpsilon)

// Buy adds qty at a unit price. A non-positive price is a buy without cost.
func (p *Position) Buy(qty, price float64) {
	if price <= 0 {
		p.BuyWithoutCost(qty)
		return
	}
	q := decimal.NewFromFloat(qty).Abs()
	p.bought = p.bought.Add(q)
	p.pricedQty = p.pricedQty.Add(q)
	p.pricedCost = p.pricedCost.Add(q.Mul(decimal.NewFromFloat(price)))
	p.entries++
}

// BuyWithoutCost adds qty that does not take part in the average, such as a
// transfer in or a reward.
func (p *Position) BuyWithoutCost(qty float64) {
	p.bought = p.bought.Add(decimal.NewFromFloat(qty).Abs())
	p.entries++
}

func (p *Position) Sell(qty float64) {
	p.sold = p.sold.Add(decimal.NewFromFloat(qty).Abs())
	p.entries++
}

func (p *Position) Bought() float64 { return p.bought.InexactFloat64() }
func (p *Position) Sold() float64   { return p.sold.InexactFloat64() }

// Entries is the number of buys and sells applied.
func (p *Position) Entries() int { return p.entries }

// NetQuantity is bought minus sold. It is negative when more was sold than
// the file shows being bought.
func (p *Position) NetQuantity() float64 {
	return p.bought.Sub(p.sold).InexactFloat64()
}

// AvgBuyPrice is the weighted average over every priced buy, not only the
// lots still held. Zero when no buy carried a price.
func (p *Position) AvgBuyPrice() float64 {
	if p.pricedQty.IsZero() {
		return 0
	}
	return p.pricedCost.Div(p.pricedQty).InexactFloat64()
}

// HasCostBasis reports whether any buy carried a price.
func (p *Position) HasCostBasis() bool { return !p.pricedQty.IsZero() }

// IsClosed reports net <= epsilon, which includes oversold positions.
func (p *Position) IsClosed() bool {
	return p.bought.Sub(p.sold).LessThanOrEqual(epsilon)
}

// Oversold reports a net below -epsilon.
func (p *Position) Oversold() bool {
	return p.bought.Sub(p.sold).LessThan(epsilon.Neg())
}

// Apply routes a ledger entry to the matching accumulator. Kinds that do
// not move the holding are ignored.
func (p *Position) Apply(tx models.ParsedTransaction) {
	switch tx.Kind {
	case models.KindBuy:
		p.Buy(tx.Quantity, tx.Price)
	case models.KindDeposit, models.KindStaking:
		p.BuyWithoutCost(tx.Quantity)
	case models.KindSell, models.KindWithdrawal:
		p.Sell(tx.Quantity)
	}
}

// Warn attaches a warning to the row this position will produce. Repeats of
// the same message are kept once.
func (p *Position) Warn(msg string, penalty int) {
	for _, w := range p.warnings {
		if w.msg == msg {
			return
		}
	}
	p.warnings = append(p.warnings, warning{msg: msg, penalty: penalty})
}

// ToRow builds the snapshot row for an open position. Quantity and average
// are rounded to 8 places to drop float noise.
func (p *Position) ToRow() models.ParsedRow {
	row := models.NewParsedRow(p.Symbol)
	row.Name = p.Name
	row.ISIN = p.ISIN
	row.Currency = p.Currency
	row.Platform = p.Platform
	row.AssetType = p.Type
	row.Quantity = utils.RoundQuantity(p.NetQuantity())
	row.AvgBuyPrice = utils.RoundQuantity(p.AvgBuyPrice())
	for _, w := range p.warnings {
		row.AddWarning(w.msg, w.penalty)
	}
	return row
}

// PositionBook holds positions in first-seen order.
type PositionBook struct {
	order []string
	byKey map[string]*Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{byKey: map[string]*Position{}}
}

// Position returns the position for key, creating it when absent.
func (b *PositionBook) Position(key string) *Position {
	if p, ok := b.byKey[key]; ok {
		return p
	}
	p := &Position{Key: key}
	b.byKey[key] = p
	b.order = append(b.order, key)
	return p
}

// Get returns an existing position.
func (b *PositionBook) Get(key string) (*Position, bool) {
	p, ok := b.byKey[key]
	return p, ok
}

// Positions returns every position in the order it was first seen.
func (b *PositionBook) Positions() []*Position {
	out := make([]*Position, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, b.byKey[k])
	}
	return out
}

func (b *PositionBook) Len() int { return len(b.order) }

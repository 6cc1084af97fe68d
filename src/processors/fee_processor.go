package processors

import (
	"math"
	"strings"

	"github.com/username/taxfolio/importer/src/normalizer"
)

// OrderFee is one fee line tied to an order.
type OrderFee struct {
	OrderID string
	Amount  float64
}

// FeesByOrder sums the absolute fees per order id. Lines without an id are
// ignored.
func FeesByOrder(fees []OrderFee) map[string]float64 {
	out := make(map[string]float64)
	for _, f := range fees {
		if f.OrderID == "" {
			continue
		}
		out[f.OrderID] += math.Abs(f.Amount)
	}
	return out
}

var feeKeywords = []string{
	"TRANSACTION FEE", "TRANSACTION COSTS", "TRANSACTIEKOSTEN", "COMISSOES DE TRANSACAO",
	"CUSTOS DE TRANSACAO", "TRANSAKTIONSKOSTEN", "CONNECTION FEE", "AANSLUITINGSKOSTEN",
	"KOMISYON", "THIRD PARTY FEES",
}

// IsFeeDescription reports whether a cash statement line describes a
// brokerage fee.
func IsFeeDescription(desc string) bool {
	up := normalizer.FoldUpper(desc)
	for _, k := range feeKeywords {
		if strings.Contains(up, k) {
			return true
		}
	}
	return false
}

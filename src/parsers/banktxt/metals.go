package banktxt

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
	"github.com/username/taxfolio/importer/src/processors"
	"github.com/username/taxfolio/importer/src/utils"
)

// Plausible TRY-per-gram range for a unit price read from free text.
const (
	minGramPrice = 1000.0
	maxGramPrice = 50000.0
)

const numberPattern = `[-+]?\d+(?:[.,]\d+)*`

var (
	numberToken = regexp.MustCompile(numberPattern)
	tlToken     = regexp.MustCompile(`(` + numberPattern + `)\s*TL\b`)
	rateLabel   = regexp.MustCompile(`DOVIZ KURU\s*:?\s*(` + numberPattern + `)`)
)

// chunk is the text between one timestamp and the next. Line breaks in
// these files cannot be trusted, so the timestamp is the record boundary.
// A break that follows the record's amount and balance still ends it, which
// keeps page footers out of the last record.
type chunk struct {
	stamp string
	body  string
	date  time.Time
	valid bool
}

func (c chunk) text() string { return c.stamp + c.body }

func splitChunks(up string) []chunk {
	locs := metalsTimestamp.FindAllStringIndex(up, -1)
	out := make([]chunk, 0, len(locs))
	for k, loc := range locs {
		end := len(up)
		if k+1 < len(locs) {
			end = locs[k+1][0]
		}
		c := chunk{stamp: up[loc[0]:loc[1]], body: recordBody(up[loc[1]:end])}
		if d, err := normalizer.ParseLocaleDate(c.stamp, normalizer.DayFirst); err == nil {
			c.date, c.valid = d, true
		}
		out = append(out, c)
	}
	return out
}

// recordBody cuts body at the first line break reached once the record
// carries at least two ledger numbers. Wrapped records keep reading.
func recordBody(body string) string {
	for i := 0; i < len(body); i++ {
		if body[i] != '\n' {
			continue
		}
		if len(ledgerNumbers(body[:i])) >= 2 {
			return body[:i]
		}
	}
	return body
}

// hintKey truncates "DD/MM/YYYY-HH:MM:SS" to the minute.
func hintKey(stamp string) string {
	if len(stamp) < 16 {
		return stamp
	}
	return stamp[:16]
}

func inGramRange(v float64) bool {
	return v >= minGramPrice && v <= maxGramPrice
}

func numbers(s string) []float64 {
	var out []float64
	for _, tok := range numberToken.FindAllString(s, -1) {
		out = append(out, number(tok))
	}
	return out
}

// ledgerNumbers are the chunk's own columns: the signed gram amount first and
// the running balance last. Prices tagged TL and the rate label are removed.
func ledgerNumbers(body string) []float64 {
	body = rateLabel.ReplaceAllString(body, " ")
	body = tlToken.ReplaceAllString(body, " ")
	return numbers(body)
}

// ExtractUnitPrice finds the TRY-per-gram price of one chunk. It tries a
// "<number> TL" token in range, then the third numeric token when it is not
// the trailing balance, then the rate harvested for the same minute.
func ExtractUnitPrice(chunk string, hints map[string]float64) (float64, bool) {
	up := normalizer.FoldUpper(chunk)
	stamp, body := "", up
	if loc := metalsTimestamp.FindStringIndex(up); loc != nil {
		stamp, body = up[loc[0]:loc[1]], up[loc[1]:]
	}

	for _, m := range tlToken.FindAllStringSubmatch(body, -1) {
		if v := math.Abs(number(m[1])); inGramRange(v) {
			return v, true
		}
	}
	if nums := numbers(body); len(nums) > 3 {
		if v := math.Abs(nums[2]); inGramRange(v) {
			return v, true
		}
	}
	if stamp != "" {
		if v, ok := hints[hintKey(stamp)]; ok {
			return v, true
		}
	}
	return 0, false
}

// harvestHints collects exchange-rate lines: zero-amount chunks carrying a
// DOVIZ KURU label or a single number in the gram price range.
func harvestHints(chunks []chunk) map[string]float64 {
	hints := map[string]float64{}
	for _, c := range chunks {
		nums := ledgerNumbers(c.body)
		if len(nums) > 0 && nums[0] != 0 {
			continue
		}
		if m := rateLabel.FindStringSubmatch(c.body); m != nil {
			if v := number(m[1]); inGramRange(v) {
				hints[hintKey(c.stamp)] = v
			}
			continue
		}
		var found []float64
		for _, v := range numbers(c.body) {
			if inGramRange(math.Abs(v)) {
				found = append(found, math.Abs(v))
			}
		}
		if len(found) == 1 {
			hints[hintKey(c.stamp)] = found[0]
		}
	}
	return hints
}

func (p *Parser) parseMetals(text string, metal models.Metal) *models.ParseResult {
	res := models.NewParseResult(models.FormatBankPreciousMetals)
	if metal == "" {
		metal = models.MetalGold
	}
	res.Metal = metal

	chunks := splitChunks(normalizer.FoldUpper(text))
	if len(chunks) == 0 {
		res.Fail("no dated transactions found in precious metals statement")
		return res
	}
	hints := harvestHints(chunks)

	in, _ := p.instrument(string(metal), string(metal))
	book := processors.NewPositionBook()
	pos := book.Position(string(metal))
	pos.Symbol, pos.Name, pos.Currency, pos.Platform, pos.Type = in.Symbol, in.Name, currency, platform, models.AssetCommodity
	ids := processors.NewExternalIDs()

	var (
		balance     float64
		hasBalance  bool
		balanceDate time.Time
		unpriced    int
	)
	for _, c := range chunks {
		res.TotalRows++
		if !c.valid {
			res.Skip(0, "invalid timestamp %q", c.stamp)
			continue
		}
		nums := ledgerNumbers(c.body)
		if len(nums) >= 2 && !c.date.Before(balanceDate) {
			balance, hasBalance, balanceDate = nums[len(nums)-1], true, c.date
		}
		if len(nums) == 0 || nums[0] == 0 || rateLabel.MatchString(c.body) {
			logger.L.Debug("informational metals line", "stamp", c.stamp)
			continue
		}

		amount := nums[0]
		kind := models.KindBuy
		switch {
		case strings.Contains(c.body, "SATIS"):
			kind = models.KindSell
		case strings.Contains(c.body, "ALIS"):
		case amount < 0:
			kind = models.KindSell
		}
		qty := math.Abs(amount)
		price, priced := ExtractUnitPrice(c.text(), hints)

		tx := models.ParsedTransaction{
			Symbol:      in.Symbol,
			Name:        in.Name,
			Kind:        kind,
			Quantity:    qty,
			Price:       price,
			Currency:    currency,
			Date:        c.date,
			RawDate:     c.stamp,
			Platform:    platform,
			ExternalID:  ids.Next(processors.GenerateHash(c.stamp, strings.TrimSpace(c.body))),
			Description: strings.Join(strings.Fields(c.body), " "),
		}
		if kind == models.KindBuy {
			if !priced {
				tx.NeedsCostInput = true
				unpriced++
			}
			pos.Buy(qty, price)
		} else {
			pos.Sell(qty)
		}
		res.Transactions = append(res.Transactions, tx)
	}

	quantity := pos.NetQuantity()
	if hasBalance {
		quantity = balance
	}
	if quantity <= models.QuantityEpsilon {
		res.Close(pos.Symbol, pos.Platform)
	} else {
		row := pos.ToRow()
		row.Quantity = utils.RoundQuantity(quantity)
		switch {
		case unpriced > 0:
			row.AddWarning(fmt.Sprintf("%d buys without a unit price; cost input needed", unpriced), models.PenaltyMissingPrice)
		case !pos.HasCostBasis():
			row.AddWarning("no cost basis in statement", models.PenaltyMissingPrice)
		}
		if drift, over := utils.Drift(pos.NetQuantity(), quantity); hasBalance && over {
			row.AddWarning(fmt.Sprintf("statement balance differs from summed transactions by %.8g", drift), models.PenaltyBalanceDrift)
		}
		res.Rows = append(res.Rows, row)
	}
	res.Transactions = processors.FinalizeTransactions(res.Transactions)
	return res
}

// Package degiro aggregates DeGiro exports into positions. Two exports are
// understood: the transactions export (one row per fill, with quantity and
// price columns) and the account statement (one row per cash movement, with
// trades spelled out in the description).
package degiro

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"

	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/mapper"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
	"github.com/username/taxfolio/importer/src/processors"
	"github.com/username/taxfolio/importer/src/resolver"
	"github.com/username/taxfolio/importer/src/tabular"
)

const platform = "DEGIRO"

// Bonds and certificates with XS ISINs are quoted in nominal, 100 per unit.
const nominalPerUnit = 100

type DeGiroParser struct {
	resolver *resolver.Resolver
}

func NewParser(r *resolver.Resolver) *DeGiroParser {
	return &DeGiroParser{resolver: r}
}

func (p *DeGiroParser) Parse(file io.Reader) (*models.ParseResult, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return p.ParseBytes(data), nil
}

// run is the state of one parse call.
type run struct {
	p     *DeGiroParser
	table *tabular.Table
	cols  map[models.Field]string
	res   *models.ParseResult
	book  *processors.PositionBook
	ids   *processors.ExternalIDs
}

func (p *DeGiroParser) ParseBytes(data []byte) *models.ParseResult {
	res := models.NewParseResult(models.FormatDegiro)
	table, err := tabular.Decode(data)
	if err != nil {
		res.Fail("no tabular data found: %v", err)
		return res
	}
	mapped := mapper.MapColumns(table.Headers, mapper.DegiroPriority)
	res.Mapping = mapped.Mapping
	res.UnmappedColumns = mapped.Unmapped
	if !mapped.Mapping.Has(models.FieldISIN) {
		res.Fail("no ISIN column found in headers %v", table.Headers)
		return res
	}

	r := &run{
		p:     p,
		table: table,
		cols:  mapped.Mapping.Columns,
		res:   res,
		book:  processors.NewPositionBook(),
		ids:   processors.NewExternalIDs(),
	}
	switch {
	case mapped.Mapping.Has(models.FieldQuantity):
		r.parseTrades()
	case mapped.Mapping.Has(models.FieldDescription):
		r.parseAccount()
	default:
		res.Fail("neither a quantity nor a description column was found")
		return res
	}
	r.emitRows()
	res.Transactions = processors.FinalizeTransactions(res.Transactions)
	logger.L.Debug("degiro file parsed", "rows", len(res.Rows), "transactions", len(res.Transactions),
		"closed", res.ClosedPositionCount, "skipped", res.SkippedRows)
	return res
}

func (r *run) get(rec tabular.Record, f models.Field) string {
	return rec.Get(r.cols[f])
}

// currencyAfter reads the unnamed currency cell DeGiro puts right of an
// amount column.
func (r *run) currencyAfter(rec tabular.Record, f models.Field) string {
	h, ok := r.cols[f]
	if !ok {
		return ""
	}
	next, ok := r.table.HeaderAfter(h)
	if !ok {
		return ""
	}
	if c := strings.ToUpper(rec.Get(next)); isCurrencyCode(c) {
		return c
	}
	return ""
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// position returns the book entry for isin, filling its metadata on first use.
func (r *run) position(isin, name, currency string) *processors.Position {
	pos := r.book.Position(isin)
	if pos.Entries() > 0 || pos.Symbol != "" {
		return pos
	}
	pos.ISIN, pos.Name, pos.Currency, pos.Platform = isin, name, currency, platform
	if in, ok := r.p.resolver.ResolveISIN(isin); ok {
		pos.Symbol, pos.Type = in.Symbol, in.Type
		if pos.Name == "" {
			pos.Name = in.Name
		}
	} else {
		pos.Symbol = isin
		pos.Type = resolver.InferTypeFromName(name)
		pos.Warn(fmt.Sprintf("ISIN %s not found in lookup table; using ISIN as symbol", isin), models.PenaltyUnresolved)
	}
	if currency == "" {
		pos.Currency = "EUR"
		pos.Warn("currency missing; assumed EUR", models.PenaltyDefaultCurrency)
	}
	return pos
}

func (r *run) parseTrades() {
	for _, rec := range r.table.Records() {
		r.res.TotalRows++
		isin := strings.ToUpper(strings.TrimSpace(r.get(rec, models.FieldISIN)))
		if isin == "" {
			r.res.Skip(rec.Line, "no ISIN")
			continue
		}
		rawDate := strings.TrimSpace(r.get(rec, models.FieldDate) + " " + r.get(rec, models.FieldTime))
		date, err := normalizer.ParseLocaleDateTime(r.get(rec, models.FieldDate), r.get(rec, models.FieldTime), normalizer.DayFirst)
		if err != nil {
			r.res.Skip(rec.Line, "invalid date %q", rawDate)
			continue
		}

		qty := normalizer.ParseLocaleNumber(r.get(rec, models.FieldQuantity))
		price := normalizer.ParseLocaleNumber(r.get(rec, models.FieldPrice))
		local := normalizer.ParseLocaleNumber(r.get(rec, models.FieldLocalValue))
		name := r.get(rec, models.FieldName)
		currency := r.currencyAfter(rec, models.FieldPrice)
		if currency == "" {
			currency = r.currencyAfter(rec, models.FieldLocalValue)
		}
		derived := false
		if qty == 0 && local != 0 && price > 0 {
			qty = math.Abs(local) / price
			derived = true
		}
		if qty == 0 {
			r.res.Skip(rec.Line, "missing quantity for %s", isin)
			continue
		}
		pos := r.position(isin, name, currency)
		if derived {
			pos.Warn("quantity derived from value / price", models.PenaltyDerivedQuantity)
		}

		// Local value is negative on buys (cash out) and positive on sells.
		sell := qty < 0
		if local != 0 {
			sell = local > 0
		}
		qty = math.Abs(qty)
		// A derived quantity is already in units; only a reported nominal is scaled.
		if strings.HasPrefix(isin, "XS") && !derived {
			qty /= nominalPerUnit
			pos.Warn(fmt.Sprintf("%s quoted in nominal; quantity divided by %d", isin, nominalPerUnit), 0)
		}
		if price <= 0 && local != 0 {
			price = math.Abs(local) / qty
		}

		orderID := r.get(rec, models.FieldOrderID)
		if orderID == "" {
			orderID = processors.GenerateHash(rec.Raw())
		}
		tx := models.ParsedTransaction{
			Symbol:     pos.Symbol,
			Name:       pos.Name,
			ISIN:       isin,
			Kind:       models.KindBuy,
			Quantity:   qty,
			Price:      price,
			Currency:   pos.Currency,
			Date:       date,
			RawDate:    rawDate,
			Venue:      r.get(rec, models.FieldVenue),
			Platform:   platform,
			ExternalID: r.ids.Next(orderID),
			Fee:        math.Abs(normalizer.ParseLocaleNumber(r.get(rec, models.FieldFee))),
		}
		if sell {
			tx.Kind = models.KindSell
		}
		pos.Apply(tx)
		r.res.Transactions = append(r.res.Transactions, tx)
	}
}

var tradeDescription = regexp.MustCompile(`(?i)^\s*(buy|sell|compra|venda|koop|verkoop|kauf|verkauf)\s+([\d\s.,]+?)\s+(.+?)\s*@\s*([\d.,]+)\s*([A-Z]{3})?`)

var sellWords = map[string]bool{"SELL": true, "VENDA": true, "VERKOOP": true, "VERKAUF": true}

// cashKinds is checked in order; dividend tax must win over dividend.
var cashKinds = []struct {
	words []string
	kind  models.TransactionKind
}{
	{[]string{"DIVIDEND TAX", "DIVIDENDBELASTING", "IMPOSTO SOBRE DIVIDENDO", "DIVIDENDENSTEUER", "QUELLENSTEUER"}, models.KindTax},
	{[]string{"DIVIDEND", "DIVIDENDO"}, models.KindDividend},
	{[]string{"WITHDRAWAL", "TERUGSTORTING", "LEVANTAMENTO", "AUSZAHLUNG", "OPNAME"}, models.KindWithdrawal},
	{[]string{"DEPOSIT", "STORTING", "DEPOSITO", "EINZAHLUNG"}, models.KindDeposit},
	{[]string{"INTEREST", "RENTE", "JUROS", "ZINSEN"}, models.KindInterest},
}

func classifyCash(desc string) (models.TransactionKind, bool) {
	up := normalizer.FoldUpper(desc)
	for _, c := range cashKinds {
		for _, w := range c.words {
			if strings.Contains(up, w) {
				return c.kind, true
			}
		}
	}
	if processors.IsFeeDescription(desc) {
		return models.KindFee, true
	}
	return "", false
}

// parseAccount reads the account statement. Columns: Date, Time, Value date,
// Product, ISIN, Description, FX, Change (currency), <amount>, Balance, ...,
// Order Id.
func (r *run) parseAccount() {
	amountCol := ""
	if h, ok := r.cols[models.FieldCurrency]; ok {
		amountCol, _ = r.table.HeaderAfter(h)
	}
	if amountCol == "" {
		r.res.Fail("account statement has no Change column")
		return
	}

	var fees []processors.OrderFee
	firstFill := map[string]int{}
	for _, rec := range r.table.Records() {
		r.res.TotalRows++
		desc := r.get(rec, models.FieldDescription)
		rawDate := strings.TrimSpace(r.get(rec, models.FieldDate) + " " + r.get(rec, models.FieldTime))
		date, err := normalizer.ParseLocaleDateTime(r.get(rec, models.FieldDate), r.get(rec, models.FieldTime), normalizer.DayFirst)
		if err != nil {
			r.res.Skip(rec.Line, "invalid date %q", rawDate)
			continue
		}
		isin := strings.ToUpper(strings.TrimSpace(r.get(rec, models.FieldISIN)))
		name := r.get(rec, models.FieldName)
		currency := strings.ToUpper(r.get(rec, models.FieldCurrency))
		amount := normalizer.ParseLocaleNumber(rec.Get(amountCol))
		orderID := r.get(rec, models.FieldOrderID)

		if m := tradeDescription.FindStringSubmatch(desc); m != nil && isin != "" {
			qty := normalizer.ParseLocaleNumber(m[2])
			price := normalizer.ParseLocaleNumber(m[4])
			if qty <= 0 {
				r.res.Skip(rec.Line, "unreadable trade quantity in %q", desc)
				continue
			}
			tradeCurrency := strings.ToUpper(m[5])
			if tradeCurrency == "" {
				tradeCurrency = currency
			}
			pos := r.position(isin, name, tradeCurrency)
			if strings.HasPrefix(isin, "XS") {
				qty /= nominalPerUnit
				pos.Warn(fmt.Sprintf("%s quoted in nominal; quantity divided by %d", isin, nominalPerUnit), 0)
			}
			id := orderID
			if id == "" {
				id = processors.GenerateHash(rec.Raw())
			}
			tx := models.ParsedTransaction{
				Symbol:      pos.Symbol,
				Name:        pos.Name,
				ISIN:        isin,
				Kind:        models.KindBuy,
				Quantity:    qty,
				Price:       price,
				Currency:    pos.Currency,
				Date:        date,
				RawDate:     rawDate,
				Platform:    platform,
				ExternalID:  r.ids.Next(id),
				Description: desc,
			}
			if sellWords[normalizer.FoldUpper(m[1])] {
				tx.Kind = models.KindSell
			}
			pos.Apply(tx)
			if _, seen := firstFill[orderID]; orderID != "" && !seen {
				firstFill[orderID] = len(r.res.Transactions)
			}
			r.res.Transactions = append(r.res.Transactions, tx)
			continue
		}

		kind, ok := classifyCash(desc)
		if !ok {
			r.res.Skip(rec.Line, "unclassified statement line %q", desc)
			continue
		}
		if kind == models.KindFee && orderID != "" {
			fees = append(fees, processors.OrderFee{OrderID: orderID, Amount: amount})
			continue
		}
		if amount == 0 {
			r.res.Skip(rec.Line, "zero amount for %q", desc)
			continue
		}
		tx := models.ParsedTransaction{
			Symbol:      currency,
			Name:        name,
			ISIN:        isin,
			Kind:        kind,
			Quantity:    math.Abs(amount),
			Price:       1,
			Currency:    currency,
			Date:        date,
			RawDate:     rawDate,
			Platform:    platform,
			ExternalID:  r.ids.Next(processors.GenerateHash(rec.Raw())),
			Description: desc,
		}
		if isin != "" && (kind == models.KindDividend || kind == models.KindTax) {
			if in, ok := r.p.resolver.ResolveISIN(isin); ok {
				tx.Symbol = in.Symbol
			} else {
				tx.Symbol = isin
			}
		}
		r.res.Transactions = append(r.res.Transactions, tx)
	}

	for orderID, fee := range processors.FeesByOrder(fees) {
		if i, ok := firstFill[orderID]; ok {
			r.res.Transactions[i].Fee += fee
		} else {
			logger.L.Warn("fee without matching trade", "orderId", orderID, "fee", fee)
		}
	}
}

func (r *run) emitRows() {
	for _, pos := range r.book.Positions() {
		if pos.Entries() == 0 {
			continue
		}
		if pos.Oversold() {
			r.res.Note(0, "%s: sold %.8g more than bought; treated as closed", pos.ISIN, -pos.NetQuantity())
		}
		if pos.IsClosed() {
			r.res.Close(pos.Symbol, pos.Platform)
			continue
		}
		r.res.Rows = append(r.res.Rows, pos.ToRow())
	}
}

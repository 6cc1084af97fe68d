// Package generic parses spreadsheets of unknown origin whose columns are
// found by fuzzy header matching.
package generic

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/mapper"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
	"github.com/username/taxfolio/importer/src/processors"
	"github.com/username/taxfolio/importer/src/resolver"
	"github.com/username/taxfolio/importer/src/tabular"
)

const defaultCurrency = "EUR"

type Parser struct {
	resolver *resolver.Resolver
}

func NewParser(r *resolver.Resolver) *Parser {
	return &Parser{resolver: r}
}

func (p *Parser) Parse(file io.Reader) (*models.ParseResult, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return p.ParseBytes(data), nil
}

// columns is the resolved header name per field; "" when unmapped.
type columns struct {
	symbol, isin, name, quantity, buyPrice, currency, typ, platform, date, valueEUR, localValue string
}

func (p *Parser) ParseBytes(data []byte) *models.ParseResult {
	res := models.NewParseResult(models.FormatGeneric)
	table, err := tabular.Decode(data)
	if err != nil {
		res.Fail("no tabular data found: %v", err)
		return res
	}

	mapped := mapper.MapColumns(table.Headers, mapper.GenericPriority)
	res.Mapping = mapped.Mapping
	res.UnmappedColumns = mapped.Unmapped
	m := mapped.Mapping.Columns
	cols := columns{
		symbol: m[models.FieldSymbol], isin: m[models.FieldISIN], name: m[models.FieldName],
		quantity: m[models.FieldQuantity], buyPrice: m[models.FieldBuyPrice], currency: m[models.FieldCurrency],
		typ: m[models.FieldType], platform: m[models.FieldPlatform], date: m[models.FieldDate],
		valueEUR: m[models.FieldValueEUR], localValue: m[models.FieldLocalValue],
	}
	if cols.symbol == "" && cols.isin == "" && cols.name == "" {
		res.Fail("no identifier column (symbol, ISIN or name) found in headers %v", table.Headers)
		return res
	}
	if cols.quantity == "" {
		res.Note(0, "no quantity column found; every row will be skipped")
	}

	book := processors.NewPositionBook()
	ids := processors.NewExternalIDs()
	merged := map[string]int{}

	for _, rec := range table.Records() {
		res.TotalRows++
		p.parseRow(rec, cols, book, ids, merged, res)
	}

	for _, pos := range book.Positions() {
		if pos.Oversold() {
			res.Note(0, "%s: sold %.8g more than bought", pos.Symbol, -pos.NetQuantity())
		}
		if pos.IsClosed() {
			res.Close(pos.Symbol, pos.Platform)
			continue
		}
		if n := merged[pos.Key]; n > 1 {
			pos.Warn(fmt.Sprintf("merged %d rows for %s", n, pos.Symbol), models.PenaltyMerged)
		}
		row := pos.ToRow()
		if mapped.Confidence < 100 {
			row.AddWarning("some columns were matched loosely", 100-mapped.Confidence)
		}
		res.Rows = append(res.Rows, row)
	}
	res.Transactions = processors.FinalizeTransactions(res.Transactions)
	logger.L.Debug("generic file parsed", "rows", len(res.Rows), "transactions", len(res.Transactions), "skipped", res.SkippedRows)
	return res
}

func (p *Parser) parseRow(rec tabular.Record, c columns, book *processors.PositionBook, ids *processors.ExternalIDs, merged map[string]int, res *models.ParseResult) {
	symbol := strings.ToUpper(rec.Get(c.symbol))
	isin := strings.ToUpper(strings.ReplaceAll(rec.Get(c.isin), " ", ""))
	name := rec.Get(c.name)
	if symbol == "" && isin == "" && name == "" {
		res.Skip(rec.Line, "no symbol, ISIN or name")
		return
	}

	qty, ok := normalizer.ParseLocaleDecimal(rec.Get(c.quantity), normalizer.HintNone)
	if !ok {
		res.Skip(rec.Line, "missing or unparseable quantity %q", rec.Get(c.quantity))
		return
	}
	quantity := qty.InexactFloat64()
	if quantity == 0 {
		res.Skip(rec.Line, "zero quantity")
		return
	}

	var warnings []warn
	instrument, resolved := resolver.Instrument{}, false
	if isin != "" {
		instrument, resolved = p.resolver.ResolveISIN(isin)
	} else if symbol != "" {
		instrument, resolved = p.resolver.ResolveAssetCode(symbol)
	}
	switch {
	case symbol != "":
	case resolved:
		symbol = instrument.Symbol
	case isin != "":
		symbol = isin
		warnings = append(warnings, warn{fmt.Sprintf("ISIN %s not found in lookup table; using ISIN as symbol", isin), models.PenaltyUnresolved})
	default:
		symbol = strings.ToUpper(name)
		warnings = append(warnings, warn{"no symbol or ISIN; using name as symbol", models.PenaltyUnresolved})
	}
	if name == "" && resolved {
		name = instrument.Name
	}

	price := normalizer.ParseLocaleNumber(rec.Get(c.buyPrice))
	if price <= 0 {
		value := normalizer.ParseLocaleNumber(rec.Get(c.localValue))
		if value == 0 {
			value = normalizer.ParseLocaleNumber(rec.Get(c.valueEUR))
		}
		if value != 0 {
			price = math.Abs(value) / math.Abs(quantity)
			warnings = append(warnings, warn{"buy price derived from value / quantity", models.PenaltyDerivedPrice})
		} else {
			price = 0
			warnings = append(warnings, warn{"no buy price found", models.PenaltyMissingPrice})
		}
	}

	currency := strings.ToUpper(rec.Get(c.currency))
	if currency == "" {
		currency = defaultCurrency
		warnings = append(warnings, warn{"currency missing; assumed " + defaultCurrency, models.PenaltyDefaultCurrency})
	}

	typeCell := rec.Get(c.typ)
	kind, isLedger := models.ParseTransactionKind(normalizer.FoldUpper(typeCell))
	assetType, typed := models.ParseAssetType(normalizer.FoldUpper(typeCell))
	if !typed {
		if resolved {
			assetType = instrument.Type
		} else {
			assetType = resolver.InferTypeFromName(name + " " + symbol)
			warnings = append(warnings, warn{"asset type inferred from name", models.PenaltyInferredType})
		}
	}

	platform := rec.Get(c.platform)
	tx := models.ParsedTransaction{
		Symbol:      symbol,
		Name:        name,
		ISIN:        isin,
		Kind:        kind,
		Quantity:    math.Abs(quantity),
		Price:       price,
		Currency:    currency,
		Platform:    platform,
		Description: typeCell,
	}
	if isLedger {
		// An undated event cannot be ordered against the rest of the ledger.
		raw := rec.Get(c.date)
		if raw == "" {
			res.Skip(rec.Line, "%s row without a date", kind)
			return
		}
		d, err := normalizer.ParseLocaleDate(raw, normalizer.DayFirst)
		if err != nil {
			res.Skip(rec.Line, "unparseable date %q", raw)
			return
		}
		tx.Date, tx.RawDate = d, raw
		tx.ExternalID = ids.Next(processors.GenerateHash(rec.Raw()))
		tx.NeedsCostInput = kind == models.KindBuy && price <= 0
		res.Transactions = append(res.Transactions, tx)
		if !movesHolding(kind) {
			return
		}
	}

	key := symbol + "|" + strings.ToUpper(platform)
	pos := book.Position(key)
	if pos.Entries() == 0 {
		pos.Symbol, pos.Name, pos.ISIN = symbol, name, isin
		pos.Currency, pos.Platform, pos.Type = currency, platform, assetType
	}
	for _, w := range warnings {
		pos.Warn(w.msg, w.penalty)
	}
	if !isLedger {
		// Several trades per symbol are normal in a ledger; only repeated
		// snapshot lines are merged.
		merged[key]++
	}

	switch {
	case isLedger:
		pos.Apply(tx)
	case quantity < 0:
		// A snapshot row with a negative holding is a sold lot.
		pos.Sell(-quantity)
	default:
		pos.Buy(quantity, price)
	}
}

func movesHolding(k models.TransactionKind) bool {
	switch k {
	case models.KindBuy, models.KindSell, models.KindDeposit, models.KindWithdrawal, models.KindStaking:
		return true
	}
	return false
}

type warn struct {
	msg     string
	penalty int
}

// Package kraken aggregates a Kraken ledger export. Each side of a trade is
// its own ledger line, joined by refid. Final balances come from the
// ledger's own balance column rather than from summing deltas.
package kraken

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
	"github.com/username/taxfolio/importer/src/processors"
	"github.com/username/taxfolio/importer/src/tabular"
	"github.com/username/taxfolio/importer/src/utils"
)

const platform = "KRAKEN"

const (
	minMovementValue = 1.0  // fiat deposits, withdrawals and trades below this are dropped
	fiatDustLimit    = 10.0 // fiat balances below this are cleared with a withdrawal
	cryptoDustValue  = 5.0  // crypto positions worth less than this are treated as closed
)

var fiat = map[string]bool{"EUR": true, "USD": true, "GBP": true, "CHF": true, "CAD": true, "JPY": true, "AUD": true}

var assetAliases = map[string]string{
	"XXBT": "BTC", "XBT": "BTC", "XETH": "ETH", "ETH2": "ETH", "XXRP": "XRP", "XLTC": "LTC",
	"XXLM": "XLM", "XXDG": "DOGE", "XDG": "DOGE", "XETC": "ETC", "XZEC": "ZEC", "XXMR": "XMR",
	"ZEUR": "EUR", "ZUSD": "USD", "ZGBP": "GBP", "ZCAD": "CAD", "ZJPY": "JPY", "ZAUD": "AUD",
}

// NormalizeAsset maps Kraken's legacy X/Z codes and staking suffixes to the
// plain ticker: "XXBT" is BTC and "DOT.S" is DOT.
func NormalizeAsset(code string) string {
	base, _ := splitAsset(code)
	return base
}

// walletOf keeps the staking suffix so spot and staked balances of one
// asset are tracked apart: "XETH" is ETH and "ETH2.S" is ETH.S.
func walletOf(code string) string {
	base, suffix := splitAsset(code)
	if suffix == "" {
		return base
	}
	return base + "." + suffix
}

func splitAsset(code string) (base, suffix string) {
	base = strings.ToUpper(strings.TrimSpace(code))
	if i := strings.IndexByte(base, '.'); i > 0 {
		switch base[i+1:] {
		case "S", "M", "F", "B", "P", "HOLD":
			base, suffix = base[:i], base[i+1:]
		}
	}
	if alias, ok := assetAliases[base]; ok {
		base = alias
	}
	return base, suffix
}

type KrakenParser struct{}

func NewParser() *KrakenParser {
	return &KrakenParser{}
}

func (p *KrakenParser) Parse(file io.Reader) (*models.ParseResult, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return p.ParseBytes(data), nil
}

// entry is one decoded ledger line.
type entry struct {
	line       int
	txid       string
	refid      string
	rawTime    string
	time       time.Time
	typ        string
	subtype    string
	wallet     string
	asset      string
	amount     float64
	fee        float64
	balance    float64
	hasBalance bool
}

var requiredHeaders = []string{"txid", "refid", "time", "type", "asset", "amount"}

// ledgerFields maps ledger columns onto the shared field names.
var ledgerFields = map[string]models.Field{
	"time":   models.FieldDate,
	"type":   models.FieldType,
	"asset":  models.FieldSymbol,
	"amount": models.FieldQuantity,
	"fee":    models.FieldFee,
	"refid":  models.FieldOrderID,
}

// ledgerOnly columns are read but have no shared field.
var ledgerOnly = map[string]bool{"txid": true, "subtype": true, "balance": true}

func (p *KrakenParser) ParseBytes(data []byte) *models.ParseResult {
	res := models.NewParseResult(models.FormatKraken)
	table, err := tabular.Decode(data)
	if err != nil {
		res.Fail("no tabular data found: %v", err)
		return res
	}
	cols := map[string]string{}
	for _, h := range table.Headers {
		cols[normalizer.NormalizeHeader(h)] = h
	}
	for _, h := range requiredHeaders {
		if _, ok := cols[h]; !ok {
			res.Fail("not a Kraken ledger: missing %q column", h)
			return res
		}
	}
	for _, h := range table.Headers {
		n := normalizer.NormalizeHeader(h)
		switch f, ok := ledgerFields[n]; {
		case ok:
			res.Mapping.Columns[f] = h
		case !ledgerOnly[n]:
			res.UnmappedColumns = append(res.UnmappedColumns, h)
		}
	}

	var entries []*entry
	for _, rec := range table.Records() {
		res.TotalRows++
		e := &entry{
			line:    rec.Line,
			txid:    rec.Get(cols["txid"]),
			refid:   rec.Get(cols["refid"]),
			rawTime: rec.Get(cols["time"]),
			typ:     strings.ToLower(rec.Get(cols["type"])),
			subtype: strings.ToLower(rec.Get(cols["subtype"])),
			wallet:  walletOf(rec.Get(cols["asset"])),
			asset:   NormalizeAsset(rec.Get(cols["asset"])),
		}
		t, err := normalizer.ParseLocaleDate(e.rawTime, normalizer.DayFirst)
		if err != nil {
			res.Skip(rec.Line, "invalid time %q", e.rawTime)
			continue
		}
		e.time = t
		e.amount = normalizer.ParseLocaleNumberHint(rec.Get(cols["amount"]), normalizer.HintUS)
		e.fee = normalizer.ParseLocaleNumberHint(rec.Get(cols["fee"]), normalizer.HintUS)
		if raw := rec.Get(cols["balance"]); raw != "" {
			e.balance = normalizer.ParseLocaleNumberHint(raw, normalizer.HintUS)
			e.hasBalance = true
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].time.Before(entries[j].time) })

	a := newAggregator(res)
	a.run(entries)
	a.finish()
	res.Transactions = processors.FinalizeTransactions(consolidateStaking(res.Transactions))
	logger.L.Debug("kraken ledger parsed", "rows", len(res.Rows), "transactions", len(res.Transactions),
		"closed", res.ClosedPositionCount, "skipped", res.SkippedRows)
	return res
}

type aggregator struct {
	res      *models.ParseResult
	book     *processors.PositionBook
	ids      *processors.ExternalIDs
	balances map[string]float64  // latest balance per wallet
	wallets  map[string][]string // normalised asset to its wallets
	assets   []string
	lastTime time.Time
}

func newAggregator(res *models.ParseResult) *aggregator {
	return &aggregator{
		res:      res,
		book:     processors.NewPositionBook(),
		ids:      processors.NewExternalIDs(),
		balances: map[string]float64{},
		wallets:  map[string][]string{},
	}
}

func isTradeLeg(typ string) bool {
	return typ == "trade" || typ == "spend" || typ == "receive"
}

func (a *aggregator) run(entries []*entry) {
	// Pass 1: both legs of a trade share a refid.
	legs := map[string][]*entry{}
	for _, e := range entries {
		if isTradeLeg(e.typ) {
			legs[e.refid] = append(legs[e.refid], e)
		}
	}

	// Pass 2.
	done := map[string]bool{}
	for _, e := range entries {
		if e.asset == "KFEE" {
			continue
		}
		a.trackBalance(e)
		switch {
		case e.typ == "deposit" || e.typ == "withdrawal":
			a.movement(e)
		case isTradeLeg(e.typ):
			if done[e.refid] {
				continue
			}
			done[e.refid] = true
			a.trade(e, legs[e.refid])
		case e.typ == "staking" || (e.typ == "earn" && e.subtype == "reward"):
			a.reward(e)
		case e.typ == "earn" || e.typ == "transfer":
			// Allocation, deallocation and spot/staking transfers move
			// funds between Kraken wallets only.
			logger.L.Debug("internal kraken transfer ignored", "refid", e.refid, "subtype", e.subtype)
		default:
			a.res.Skip(e.line, "unsupported ledger type %q", e.typ)
		}
	}
}

func (a *aggregator) trackBalance(e *entry) {
	if _, seen := a.wallets[e.asset]; !seen {
		a.assets = append(a.assets, e.asset)
	}
	if _, seen := a.balances[e.wallet]; !seen {
		a.wallets[e.asset] = append(a.wallets[e.asset], e.wallet)
		a.balances[e.wallet] = 0
	}
	if e.hasBalance {
		a.balances[e.wallet] = e.balance
	}
	if e.time.After(a.lastTime) {
		a.lastTime = e.time
	}
}

func (a *aggregator) position(asset string) *processors.Position {
	pos := a.book.Position(asset)
	if pos.Symbol == "" {
		pos.Symbol, pos.Currency, pos.Platform, pos.Type = asset, "EUR", platform, models.AssetCrypto
	}
	return pos
}

func (a *aggregator) id(e *entry) string {
	id := e.txid
	if id == "" {
		id = processors.GenerateHash(e.refid, e.rawTime, e.asset, fmt.Sprint(e.amount))
	}
	return a.ids.Next(id)
}

func (a *aggregator) movement(e *entry) {
	qty := math.Abs(e.amount)
	isFiat := fiat[e.asset]
	if isFiat && qty < minMovementValue {
		logger.L.Debug("fiat dust movement dropped", "refid", e.refid, "amount", e.amount)
		return
	}
	tx := models.ParsedTransaction{
		Symbol:     e.asset,
		Kind:       models.KindDeposit,
		Quantity:   qty,
		Currency:   "EUR",
		Date:       e.time,
		RawDate:    e.rawTime,
		Platform:   platform,
		ExternalID: a.id(e),
		Fee:        math.Abs(e.fee),
	}
	if e.typ == "withdrawal" {
		tx.Kind = models.KindWithdrawal
	}
	if isFiat {
		tx.Price, tx.Currency = 1, e.asset
	} else {
		a.position(e.asset).Apply(tx)
	}
	a.res.Transactions = append(a.res.Transactions, tx)
}

func (a *aggregator) trade(first *entry, legs []*entry) {
	var cash, coin *entry
	for _, l := range legs {
		switch {
		case fiat[l.asset] && (cash == nil || l.asset == "EUR"):
			cash = l
		case !fiat[l.asset]:
			coin = l
		}
	}
	switch {
	case len(legs) < 2:
		a.res.Skip(first.line, "trade %s has a single leg", first.refid)
		return
	case cash == nil:
		a.res.Skip(first.line, "crypto-to-crypto trade %s skipped", first.refid)
		return
	case coin == nil:
		a.res.Skip(first.line, "fiat conversion %s skipped", first.refid)
		return
	}

	value := math.Abs(cash.amount)
	qty := math.Abs(coin.amount)
	if value < minMovementValue || qty == 0 {
		logger.L.Debug("dust trade dropped", "refid", first.refid, "value", value)
		return
	}
	price := value / qty
	tx := models.ParsedTransaction{
		Symbol:     coin.asset,
		Kind:       models.KindBuy,
		Quantity:   qty,
		Price:      price,
		Currency:   cash.asset,
		Date:       coin.time,
		RawDate:    coin.rawTime,
		Platform:   platform,
		ExternalID: a.ids.Next(first.refid),
		Fee:        math.Abs(cash.fee) + math.Abs(coin.fee)*price,
	}
	if coin.amount < 0 {
		tx.Kind = models.KindSell
	}
	pos := a.position(coin.asset)
	pos.Currency = cash.asset
	pos.Apply(tx)
	a.res.Transactions = append(a.res.Transactions, tx)
}

func (a *aggregator) reward(e *entry) {
	if e.amount <= 0 {
		return
	}
	tx := models.ParsedTransaction{
		Symbol:      e.asset,
		Kind:        models.KindStaking,
		Quantity:    e.amount,
		Currency:    "EUR",
		Date:        e.time,
		RawDate:     e.rawTime,
		Platform:    platform,
		ExternalID:  a.id(e),
		Fee:         math.Abs(e.fee),
		Description: "staking reward",
	}
	if !fiat[e.asset] {
		a.position(e.asset).Apply(tx)
	}
	a.res.Transactions = append(a.res.Transactions, tx)
}

// balance is the latest ledger balance summed over the asset's wallets,
// so DOT and DOT.S count together.
func (a *aggregator) balance(asset string) float64 {
	var sum float64
	for _, w := range a.wallets[asset] {
		sum += a.balances[w]
	}
	return sum
}

// finish turns the trusted balances into rows. Small fiat balances are
// cleared with a synthetic withdrawal so the ledger still sums to zero.
func (a *aggregator) finish() {
	for _, asset := range a.assets {
		bal := a.balance(asset)
		if fiat[asset] {
			a.finishFiat(asset, bal)
			continue
		}
		pos, tracked := a.book.Get(asset)
		if !tracked {
			pos = a.position(asset)
		}
		if bal <= models.QuantityEpsilon {
			a.res.Close(pos.Symbol, pos.Platform)
			continue
		}
		avg := pos.AvgBuyPrice()
		if avg > 0 && bal*avg < cryptoDustValue {
			logger.L.Debug("crypto dust treated as closed", "asset", asset, "balance", bal, "value", bal*avg)
			a.res.Close(pos.Symbol, pos.Platform)
			continue
		}
		row := pos.ToRow()
		row.Quantity = utils.RoundQuantity(bal)
		if avg == 0 {
			row.AddWarning("no cost basis in ledger", models.PenaltyMissingPrice)
		}
		if drift, over := utils.Drift(pos.NetQuantity(), bal); pos.HasCostBasis() && over {
			row.AddWarning(fmt.Sprintf("ledger balance differs from traded quantity by %.8g", drift), models.PenaltyBalanceDrift)
		}
		a.res.Rows = append(a.res.Rows, row)
	}
}

func (a *aggregator) finishFiat(asset string, bal float64) {
	row := models.NewParsedRow(asset)
	row.Currency = asset
	row.AssetType = models.AssetCash
	row.Platform = platform
	row.AvgBuyPrice = 1
	switch {
	case bal <= models.QuantityEpsilon:
		a.res.Close(asset, platform)
		return
	case bal < fiatDustLimit:
		amount := utils.RoundQuantity(bal)
		a.res.Transactions = append(a.res.Transactions, models.ParsedTransaction{
			Symbol:      asset,
			Kind:        models.KindWithdrawal,
			Quantity:    amount,
			Price:       1,
			Currency:    asset,
			Date:        a.lastTime,
			RawDate:     a.lastTime.Format(time.RFC3339),
			Platform:    platform,
			ExternalID:  a.ids.Next("cleanup-" + asset + "-" + a.lastTime.Format("20060102150405")),
			Description: "balance clean-up",
		})
		row.Quantity = 0
		row.AddWarning(fmt.Sprintf("%s balance %.2f below %.0f cleared with a clean-up withdrawal", asset, amount, fiatDustLimit), 0)
	default:
		row.Quantity = utils.RoundQuantity(bal)
	}
	a.res.Rows = append(a.res.Rows, row)
}

// consolidateStaking merges rewards for the same asset and calendar month
// into one entry, keeping the last reward's metadata.
func consolidateStaking(txs []models.ParsedTransaction) []models.ParsedTransaction {
	out := make([]models.ParsedTransaction, 0, len(txs))
	index := map[string]int{}
	for _, tx := range txs {
		if tx.Kind != models.KindStaking {
			out = append(out, tx)
			continue
		}
		key := fmt.Sprintf("%s-%d-%02d", tx.Symbol, tx.Date.Year(), tx.Date.Month())
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, tx)
			continue
		}
		merged := tx
		merged.Quantity += out[i].Quantity
		merged.Fee += out[i].Fee
		out[i] = merged
	}
	return out
}

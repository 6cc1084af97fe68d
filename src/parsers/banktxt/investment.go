package banktxt

import (
	"fmt"
	"math"
	"strings"

	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
	"github.com/username/taxfolio/importer/src/processors"
)

// Transaction codes of the investment-account history.
const (
	codeDepositOpen = "QH"
	codeBuy         = "QN"
	codePendingSell = "IX"
	codeSell        = "MN"
	codeFeeOrTax    = "VG"
	codeTransferOut = "QP"
)

// investment holds the state of one investment-statement parse.
type investment struct {
	p        *Parser
	res      *models.ParseResult
	book     *processors.PositionBook
	ids      *processors.ExternalIDs
	snapshot map[string]bool
}

func (p *Parser) parseInvestment(text string) *models.ParseResult {
	res := models.NewParseResult(models.FormatBankInvestment)
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	folded := make([]string, len(lines))
	for i, l := range lines {
		folded[i] = normalizer.FoldUpper(l)
	}

	snapStart, hasSnap := sectionStart(folded, isSnapshotAnchor)
	txStart, hasTx := sectionStart(folded, isHistoryAnchor)
	if !hasSnap && !hasTx {
		res.Fail("no portfolio (KIYMET TANIMI) or transaction (ISLEM / FIS NO) section found")
		return res
	}

	inv := &investment{
		p:        p,
		res:      res,
		book:     processors.NewPositionBook(),
		ids:      processors.NewExternalIDs(),
		snapshot: map[string]bool{},
	}
	if hasSnap {
		for i := snapStart; i < len(lines); i++ {
			if strings.TrimSpace(lines[i]) == "" || isSeparator(lines[i]) || isHistoryAnchor(folded[i]) {
				break
			}
			res.TotalRows++
			inv.snapshotLine(i+1, lines[i])
		}
	}
	if hasTx {
		for i := txStart; i < len(lines); i++ {
			fields := strings.Fields(lines[i])
			if len(fields) == 0 || !strings.Contains(fields[0], "/") {
				continue
			}
			res.TotalRows++
			inv.historyLine(i+1, fields)
		}
	}
	inv.reconcile()
	res.Transactions = processors.FinalizeTransactions(res.Transactions)
	return res
}

func isSnapshotAnchor(folded string) bool {
	return strings.Contains(folded, "KIYMET TANIMI")
}

func isHistoryAnchor(folded string) bool {
	return strings.Contains(folded, "ISLEM") && strings.Contains(folded, "FIS NO")
}

// sectionStart finds the first line after an anchor and its separator. A
// missing separator starts the section right below the anchor.
func sectionStart(folded []string, anchor func(string) bool) (int, bool) {
	for i, l := range folded {
		if !anchor(l) {
			continue
		}
		for j := i + 1; j < len(folded) && j <= i+3; j++ {
			if isSeparator(folded[j]) {
				return j + 1, true
			}
		}
		return i + 1, true
	}
	return 0, false
}

// snapshotLine reads "NAME  CODE  NOMINAL  COST ...". The unit cost is the
// first later number below the nominal, else the number right after it.
func (inv *investment) snapshotLine(lineNo int, line string) {
	cols := splitColumns(line)
	if len(cols) < 3 {
		inv.res.Skip(lineNo, "unreadable portfolio line")
		return
	}
	name, code := cols[0], strings.ToUpper(cols[1])

	var values []float64
	for _, c := range cols[2:] {
		if isNumber(c) {
			if v := number(c); v > 0 {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		inv.res.Skip(lineNo, "no nominal quantity for %s", code)
		return
	}
	nominal, cost := values[0], 0.0
	for _, v := range values[1:] {
		if v < nominal {
			cost = v
			break
		}
	}
	if cost == 0 && len(values) > 1 {
		cost = values[1]
	}

	in, resolved := inv.p.instrument(code, name)
	row := models.NewParsedRow(in.Symbol)
	row.Name = in.Name
	row.ISIN = in.ISIN
	row.Quantity = nominal
	row.AvgBuyPrice = cost
	row.Currency = currency
	row.AssetType = in.Type
	row.Platform = platform
	if !resolved {
		row.AddWarning(fmt.Sprintf("asset code %s not found in lookup table", code), models.PenaltyUnresolved)
	}
	if cost == 0 {
		row.AddWarning("no unit cost in portfolio line", models.PenaltyMissingPrice)
	}
	inv.snapshot[code] = true
	inv.res.Rows = append(inv.res.Rows, row)
}

// historyLine reads "DATE [TIME] CODE FIS_NO [ASSET] numbers... description".
// Numbers are quantity, unit price and amount for trades, and the amount
// alone for cash events.
func (inv *investment) historyLine(lineNo int, fields []string) {
	i, clock := 1, ""
	if i < len(fields) && strings.Contains(fields[i], ":") {
		clock = fields[i]
		i++
	}
	if len(fields) < i+3 {
		inv.res.Skip(lineNo, "short transaction line")
		return
	}
	code, fis := strings.ToUpper(fields[i]), fields[i+1]
	j := i + 2
	asset := ""
	if !isNumber(fields[j]) {
		asset = strings.ToUpper(fields[j])
		j++
	}
	var nums []float64
	for ; j < len(fields) && isNumber(fields[j]); j++ {
		nums = append(nums, number(fields[j]))
	}
	desc := strings.Join(fields[j:], " ")

	if code == codePendingSell {
		logger.L.Debug("pending sell order ignored", "row", lineNo, "fis", fis)
		return
	}
	kind, ok := classify(code, desc)
	if !ok {
		inv.res.Skip(lineNo, "unrecognised transaction code %q", code)
		return
	}
	date, err := normalizer.ParseLocaleDateTime(fields[0], clock, normalizer.DayFirst)
	if err != nil {
		inv.res.Skip(lineNo, "invalid date %q", fields[0])
		return
	}
	if len(nums) == 0 {
		inv.res.Skip(lineNo, "no amount in transaction line")
		return
	}

	id := fis
	if !isNumber(fis) {
		id = processors.GenerateHash(fields...)
	}
	tx := models.ParsedTransaction{
		Kind:        kind,
		Currency:    currency,
		Date:        date,
		RawDate:     strings.TrimSpace(fields[0] + " " + clock),
		Platform:    platform,
		ExternalID:  inv.ids.Next(id),
		Description: desc,
	}

	switch kind {
	case models.KindBuy, models.KindSell, models.KindDeposit, models.KindWithdrawal:
		if asset == "" {
			inv.res.Skip(lineNo, "trade without asset code")
			return
		}
		qty := math.Abs(nums[0])
		if qty == 0 {
			inv.res.Skip(lineNo, "zero quantity")
			return
		}
		price := 0.0
		switch {
		case len(nums) >= 3:
			price = math.Abs(nums[1])
		case len(nums) == 2:
			price = math.Abs(nums[1]) / qty
		}
		in, resolved := inv.p.instrument(asset, asset)
		tx.Symbol, tx.Name, tx.ISIN = in.Symbol, in.Name, in.ISIN
		tx.Quantity, tx.Price = qty, price
		tx.NeedsCostInput = kind == models.KindBuy && price <= 0

		pos := inv.book.Position(asset)
		if pos.Entries() == 0 {
			pos.Symbol, pos.Name, pos.ISIN = in.Symbol, in.Name, in.ISIN
			pos.Currency, pos.Platform, pos.Type = currency, platform, in.Type
			if !resolved {
				pos.Warn(fmt.Sprintf("asset code %s not found in lookup table", asset), models.PenaltyUnresolved)
			}
		}
		if kind == models.KindBuy || kind == models.KindDeposit {
			pos.Buy(qty, price)
		} else {
			pos.Sell(qty)
		}
	default:
		tx.Symbol = currency
		if asset != "" && (kind == models.KindDividend || kind == models.KindTax) {
			in, _ := inv.p.instrument(asset, asset)
			tx.Symbol, tx.Name, tx.ISIN = in.Symbol, in.Name, in.ISIN
		}
		tx.Quantity = math.Abs(nums[len(nums)-1])
		tx.Price = 1
	}
	inv.res.Transactions = append(inv.res.Transactions, tx)
}

// classify maps a transaction code, or failing that the description, to a
// ledger kind.
func classify(code, desc string) (models.TransactionKind, bool) {
	up := normalizer.FoldUpper(desc)
	switch code {
	case codeDepositOpen:
		return models.KindDeposit, true
	case codeBuy:
		return models.KindBuy, true
	case codeSell:
		return models.KindSell, true
	case codeTransferOut:
		return models.KindWithdrawal, true
	case codeFeeOrTax:
		if strings.Contains(up, "VERGI") || strings.Contains(up, "STOPAJ") {
			return models.KindTax, true
		}
		return models.KindFee, true
	}
	switch {
	case strings.Contains(up, "TEMETTU"):
		return models.KindDividend, true
	case strings.Contains(up, "STOPAJ"), strings.Contains(up, "VERGI"):
		return models.KindTax, true
	case strings.Contains(up, "KOMISYON"):
		return models.KindFee, true
	case strings.Contains(up, "SATIS"):
		return models.KindSell, true
	case strings.Contains(up, "ALIS"):
		return models.KindBuy, true
	case strings.Contains(up, "FAIZ"):
		return models.KindInterest, true
	}
	return "", false
}

// reconcile adds rows for assets seen only in the history. The snapshot is
// trusted for everything it lists.
func (inv *investment) reconcile() {
	for _, pos := range inv.book.Positions() {
		if inv.snapshot[pos.Key] {
			continue
		}
		if pos.Oversold() {
			inv.res.Note(0, "%s: sold %.8g more than bought", pos.Symbol, -pos.NetQuantity())
		}
		row := pos.ToRow()
		if pos.IsClosed() {
			inv.res.Close(pos.Symbol, pos.Platform)
			row.Quantity = 0
			row.Closed = true
			row.AddWarning("Closed position: reconstructed from transaction history", 0)
		} else {
			row.AddWarning("not in portfolio snapshot; inferred from transaction history", models.PenaltyInferredRow)
		}
		inv.res.Rows = append(inv.res.Rows, row)
	}
}

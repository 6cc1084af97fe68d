package kraken

import (
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/username/taxfolio/importer/src/models"
)

const ledgerHeader = `"txid","refid","time","type","subtype","aclass","asset","amount","fee","balance"` + "\n"

func parse(t *testing.T, input string) *models.ParseResult {
	t.Helper()
	res, err := NewParser().Parse(strings.NewReader(input))
	assert.NoError(t, err)
	return res
}

func TestNormalizeAsset(t *testing.T) {
	for in, want := range map[string]string{
		"XXBT":  "BTC",
		"XBT":   "BTC",
		"XETH":  "ETH",
		"ETH2":  "ETH",
		"ZEUR":  "EUR",
		"DOT.S": "DOT",
		"ADA.M": "ADA",
		"sol":   "SOL",
		"USDC":  "USDC",
	} {
		assert.Equal(t, want, NormalizeAsset(in), in)
	}
}

func TestLedgerAggregation(t *testing.T) {
	res := parse(t, ledgerHeader+
		`"L1","D1","2024-01-02 10:00:00","deposit","","currency","ZEUR","1004.70","0","1004.70"`+"\n"+
		`"L2","R1","2024-01-03 12:00:00","trade","","currency","ZEUR","-500","1.5","503.20"`+"\n"+
		`"L3","R1","2024-01-03 12:00:00","trade","","currency","XXBT","0.5","0","0.5"`+"\n"+
		`"L4","R2","2024-01-10 09:00:00","trade","","currency","ZEUR","-500","0","3.20"`+"\n"+
		`"L5","R2","2024-01-10 09:00:00","trade","","currency","XETH","0.25","0","0.25"`+"\n"+
		`"L6","A1","2024-01-20 09:00:00","earn","allocation","currency","XETH","0","0","0.25"`+"\n"+
		`"L7","K1","2024-01-21 09:00:00","trade","","currency","KFEE","10","0","0"`+"\n"+
		`"L8","S1","2024-02-01 01:00:00","earn","reward","currency","ETH","0.125","0","0.375"`+"\n"+
		`"L9","S2","2024-02-15 01:00:00","earn","reward","currency","ETH","0.125","0","0.5"`+"\n")

	assert.True(t, res.Success)
	assert.Equal(t, models.FormatKraken, res.Format)
	assert.Equal(t, 9, res.TotalRows)
	assert.Equal(t, 0, res.SkippedRows)

	var kinds []models.TransactionKind
	for _, tx := range res.Transactions {
		kinds = append(kinds, tx.Kind)
	}
	assert.Equal(t, []models.TransactionKind{
		models.KindDeposit, models.KindBuy, models.KindBuy, models.KindStaking, models.KindWithdrawal,
	}, kinds)

	btc := res.Transactions[1]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, 1000.0, btc.Price)
	assert.Equal(t, 1.5, btc.Fee)
	assert.Equal(t, "EUR", btc.Currency)
	assert.Equal(t, "R1", btc.ExternalID)

	staking := res.Transactions[3]
	assert.Equal(t, "ETH", staking.Symbol)
	assert.Equal(t, 0.25, staking.Quantity)
	assert.Equal(t, "S2", staking.ExternalID)

	// The 3.20 EUR left over is cleared by a synthetic withdrawal.
	cleanup := res.Transactions[4]
	assert.Equal(t, "EUR", cleanup.Symbol)
	assert.Equal(t, 3.2, cleanup.Quantity)

	assert.Equal(t, 3, len(res.Rows))
	eur, btcRow, eth := res.Rows[0], res.Rows[1], res.Rows[2]
	assert.Equal(t, "EUR", eur.Symbol)
	assert.Equal(t, 0.0, eur.Quantity)
	assert.Equal(t, models.AssetCash, eur.AssetType)
	assert.Equal(t, 1, len(eur.Warnings))

	assert.Equal(t, 0.5, btcRow.Quantity)
	assert.Equal(t, 1000.0, btcRow.AvgBuyPrice)
	assert.Equal(t, models.AssetCrypto, btcRow.AssetType)
	assert.Equal(t, 100, btcRow.Confidence)

	assert.Equal(t, 0.5, eth.Quantity)
	assert.Equal(t, 2000.0, eth.AvgBuyPrice)
}

func TestDustPositionIsClosed(t *testing.T) {
	res := parse(t, ledgerHeader+
		`"L1","D1","2024-01-02 10:00:00","deposit","","currency","ZEUR","100","0","100"`+"\n"+
		`"L2","R1","2024-01-03 10:00:00","trade","","currency","ZEUR","-100","0","0"`+"\n"+
		`"L3","R1","2024-01-03 10:00:00","trade","","currency","XXBT","0.002","0","0.002"`+"\n"+
		`"L4","R2","2024-03-01 10:00:00","trade","","currency","XXBT","-0.00195","0","0.00005"`+"\n"+
		`"L5","R2","2024-03-01 10:00:00","trade","","currency","ZEUR","95","0","95"`+"\n")

	assert.Equal(t, 1, res.ClosedPositionCount)
	assert.Equal(t, 1, len(res.Rows))
	assert.Equal(t, "EUR", res.Rows[0].Symbol)
	assert.Equal(t, 95.0, res.Rows[0].Quantity)
	assert.Equal(t, models.KindSell, res.Transactions[2].Kind)
}

func TestCryptoToCryptoTradeIsSkipped(t *testing.T) {
	res := parse(t, ledgerHeader+
		`"L1","D1","2024-01-02 10:00:00","deposit","","currency","XXBT","1","0","1"`+"\n"+
		`"L2","R9","2024-01-03 10:00:00","trade","","currency","XXBT","-0.5","0","0.5"`+"\n"+
		`"L3","R9","2024-01-03 10:00:00","trade","","currency","XETH","8","0","8"`+"\n")

	assert.Equal(t, 1, res.SkippedRows)
	assert.Contains(t, res.Errors[0], "crypto-to-crypto")
	assert.Equal(t, 2, len(res.Rows))
	for _, row := range res.Rows {
		assert.Equal(t, 0.0, row.AvgBuyPrice)
		assert.Equal(t, 100-models.PenaltyMissingPrice, row.Confidence)
	}
	assert.Equal(t, 0.5, res.Rows[0].Quantity)
	assert.Equal(t, 8.0, res.Rows[1].Quantity)
}

func TestBalanceDriftLowersConfidence(t *testing.T) {
	res := parse(t, ledgerHeader+
		`"L1","R1","2024-01-03 10:00:00","trade","","currency","ZEUR","-500","0","0"`+"\n"+
		`"L2","R1","2024-01-03 10:00:00","trade","","currency","XXBT","0.5","0","0.5"`+"\n"+
		`"L3","R2","2024-02-01 10:00:00","trade","","currency","XXBT","-0.1","0","0.4"`+"\n"+
		`"L4","R2","2024-02-01 10:00:00","trade","","currency","XETH","2","0","2"`+"\n")

	var btc models.ParsedRow
	for _, row := range res.Rows {
		if row.Symbol == "BTC" {
			btc = row
		}
	}
	// The skipped crypto-to-crypto leg moved the balance but not the position.
	assert.Equal(t, 0.4, btc.Quantity)
	assert.Equal(t, 1000.0, btc.AvgBuyPrice)
	assert.Equal(t, 1, len(btc.Warnings))
	assert.Equal(t, 100-models.PenaltyBalanceDrift, btc.Confidence)
}

func TestStakingWalletsShareBalance(t *testing.T) {
	res := parse(t, ledgerHeader+
		`"L1","R1","2024-01-03 10:00:00","trade","","currency","ZEUR","-60","0","0"`+"\n"+
		`"L2","R1","2024-01-03 10:00:00","trade","","currency","DOT","10","0","10"`+"\n"+
		`"L3","T1","2024-01-04 10:00:00","transfer","spottostaking","currency","DOT","-10","0","0"`+"\n"+
		`"L4","T2","2024-01-04 10:00:05","transfer","stakingfromspot","currency","DOT.S","10","0","10"`+"\n"+
		`"L5","S1","2024-01-11 10:00:00","staking","","currency","DOT.S","0.5","0","10.5"`+"\n")

	assert.Equal(t, 1, len(res.Rows))
	dot := res.Rows[0]
	assert.Equal(t, "DOT", dot.Symbol)
	assert.Equal(t, 10.5, dot.Quantity)
	assert.Equal(t, 6.0, dot.AvgBuyPrice)
}

func TestLedgerColumnMapping(t *testing.T) {
	res := parse(t, ledgerHeader+
		`"L1","D1","2024-01-02 10:00:00","deposit","","currency","ZEUR","100","0","100"`+"\n")

	assert.Equal(t, map[models.Field]string{
		models.FieldDate:     "time",
		models.FieldType:     "type",
		models.FieldSymbol:   "asset",
		models.FieldQuantity: "amount",
		models.FieldFee:      "fee",
		models.FieldOrderID:  "refid",
	}, res.Mapping.Columns)
	assert.Equal(t, []string{"aclass"}, res.UnmappedColumns)
}

func TestLedgerRejectsOtherFiles(t *testing.T) {
	res := parse(t, "Symbol,Quantity\nAAPL,1\n")
	assert.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "missing")
}

func TestInvalidTimeIsSkipped(t *testing.T) {
	res := parse(t, ledgerHeader+
		`"L1","D1","soon","deposit","","currency","ZEUR","100","0","100"`+"\n")
	assert.Equal(t, 1, res.SkippedRows)
	assert.True(t, res.Success)
}

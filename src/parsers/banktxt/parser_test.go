package banktxt

import (
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/resolver"
)

const portfolioSection = `TÜRKİYE İŞ BANKASI A.Ş.
YATIRIM HESABI PORTFÖY RAPORU
KIYMET TANIMI            KIYMET KODU     NOMINAL        MALIYET       PIYASA DEGERI
--------------------------------------------------------------------------------
TURK HAVA YOLLARI        THYAO           150,000        245,50        280,00
GARANTI BANKASI          GARAN           2.000,000      55,20         60,10
BILINMEYEN FON           ZZF             1.000,000      1,2500        1,3000

`

const historySection = `İŞLEM TARİHİ  İŞLEM KODU  FİŞ NO  KIYMET  ADET  FİYAT  TUTAR  AÇIKLAMA
--------------------------------------------------------------------------------
02/01/2024 QN 100234 THYAO 100,000 240,00 24.000,00 HISSE ALIS
03/01/2024 QN 100240 ASELS 763.867,000 40,00 30.554.680,00 HISSE ALIS
05/01/2024 IX 100250 ASELS 500.000,000 45,00 22.500.000,00 SATIS EMRI
05/01/2024 MN 100251 ASELS 500.000,000 45,00 22.500.000,00 HISSE SATIS
08/01/2024 MN 100260 ASELS 263.867,000 46,00 12.137.882,00 HISSE SATIS
10/01/2024 VG 100270 ASELS 1.234,50 STOPAJ VERGISI
12/01/2024 QP 100280 GARAN 100,000 VIRMAN
15/01/2024 XX 100290 THYAO 1,00 BILINMEYEN
`

const goldStatement = `TÜRKİYE İŞ BANKASI A.Ş. HESAP ÖZETİ
IBAN: TR12 0006 4000 0011 2345 6789 01 ALTIN HESABI (GR)
02/01/2024-10:15:32 ALTIN ALIŞ 10,00 2.050,00 TL 10,00
05/01/2024-11:00:00 DÖVİZ KURU 2.075,50 0,00 10,00
05/01/2024-11:00:45 ALTIN ALIŞ 5,00 15,00
10/02/2024-09:00:00 ALTIN SATIŞ -3,00 2.200,00 TL 12,00
`

func parse(t *testing.T, input string) *models.ParseResult {
	t.Helper()
	res, err := NewParser(resolver.Default()).Parse(strings.NewReader(input))
	assert.NoError(t, err)
	return res
}

func rowBySymbol(t *testing.T, res *models.ParseResult, symbol string) models.ParsedRow {
	t.Helper()
	for _, r := range res.Rows {
		if r.Symbol == symbol {
			return r
		}
	}
	t.Fatalf("no row for %s in %v", symbol, res.Rows)
	return models.ParsedRow{}
}

func TestInvestmentStatement(t *testing.T) {
	res := parse(t, portfolioSection+historySection)

	assert.True(t, res.Success)
	assert.Equal(t, models.FormatBankInvestment, res.Format)
	assert.Equal(t, 11, res.TotalRows)
	assert.Equal(t, 1, res.SkippedRows)
	assert.Equal(t, 4, len(res.Rows))

	thyao := rowBySymbol(t, res, "THYAO")
	assert.Equal(t, 150.0, thyao.Quantity)
	assert.Equal(t, 245.5, thyao.AvgBuyPrice)
	assert.Equal(t, "TRY", thyao.Currency)
	assert.Equal(t, "ISBANK", thyao.Platform)
	assert.Equal(t, "TRATHYAO91M5", thyao.ISIN)
	assert.Equal(t, 100, thyao.Confidence)

	garan := rowBySymbol(t, res, "GARAN")
	assert.Equal(t, 2000.0, garan.Quantity)
	assert.Equal(t, 55.2, garan.AvgBuyPrice)

	unknown := rowBySymbol(t, res, "ZZF")
	assert.Equal(t, models.AssetFund, unknown.AssetType)
	assert.Equal(t, 100-models.PenaltyUnresolved, unknown.Confidence)
}

func TestInvestmentClosedPositionFromHistory(t *testing.T) {
	res := parse(t, portfolioSection+historySection)

	assert.Equal(t, 1, res.ClosedPositionCount)
	asels := rowBySymbol(t, res, "ASELS")
	assert.Equal(t, 0.0, asels.Quantity)
	assert.True(t, asels.Closed)
	assert.Equal(t, 40.0, asels.AvgBuyPrice)
	assert.Equal(t, 1, len(asels.Warnings))
	assert.True(t, strings.HasPrefix(asels.Warnings[0], "Closed position"))
}

func TestInvestmentTransactionCodes(t *testing.T) {
	res := parse(t, portfolioSection+historySection)

	var kinds []models.TransactionKind
	for _, tx := range res.Transactions {
		kinds = append(kinds, tx.Kind)
	}
	// IX is a pending order; only its MN execution counts.
	assert.Equal(t, []models.TransactionKind{
		models.KindBuy, models.KindBuy, models.KindSell, models.KindSell, models.KindTax, models.KindWithdrawal,
	}, kinds)

	buy := res.Transactions[1]
	assert.Equal(t, "ASELS", buy.Symbol)
	assert.Equal(t, 763867.0, buy.Quantity)
	assert.Equal(t, 40.0, buy.Price)
	assert.Equal(t, "100240", buy.ExternalID)

	tax := res.Transactions[4]
	assert.Equal(t, "ASELS", tax.Symbol)
	assert.Equal(t, 1234.5, tax.Quantity)
	assert.Equal(t, 1.0, tax.Price)
}

func TestInvestmentSectionsAreOptional(t *testing.T) {
	portfolioOnly := parse(t, portfolioSection)
	assert.True(t, portfolioOnly.Success)
	assert.Equal(t, 3, len(portfolioOnly.Rows))
	assert.Equal(t, 0, len(portfolioOnly.Transactions))

	historyOnly := parse(t, "YATIRIM HESABI\n"+historySection)
	assert.True(t, historyOnly.Success)
	assert.Equal(t, 6, len(historyOnly.Transactions))
	// THYAO is open and only known from history.
	thyao := rowBySymbol(t, historyOnly, "THYAO")
	assert.Equal(t, 100.0, thyao.Quantity)
	assert.Equal(t, 100-models.PenaltyInferredRow, thyao.Confidence)

	none := parse(t, "YATIRIM HESABI\nnothing to see here\n")
	assert.False(t, none.Success)
}

func TestInvestmentLegacyEncoding(t *testing.T) {
	encoded, err := charmap.Windows1254.NewEncoder().String(portfolioSection)
	assert.NoError(t, err)
	res := parse(t, encoded)
	assert.Equal(t, models.FormatBankInvestment, res.Format)
	assert.Equal(t, 3, len(res.Rows))
}

func TestPreciousMetalsStatement(t *testing.T) {
	res := parse(t, goldStatement)

	assert.True(t, res.Success)
	assert.Equal(t, models.FormatBankPreciousMetals, res.Format)
	assert.Equal(t, models.MetalGold, res.Metal)
	assert.Equal(t, 4, res.TotalRows)

	assert.Equal(t, 3, len(res.Transactions))
	first, hinted, sell := res.Transactions[0], res.Transactions[1], res.Transactions[2]
	assert.Equal(t, models.KindBuy, first.Kind)
	assert.Equal(t, 2050.0, first.Price)
	// No TL price in the line; the rate from the same minute applies.
	assert.Equal(t, 2075.5, hinted.Price)
	assert.False(t, hinted.NeedsCostInput)
	assert.Equal(t, models.KindSell, sell.Kind)
	assert.Equal(t, 3.0, sell.Quantity)

	assert.Equal(t, 1, len(res.Rows))
	row := res.Rows[0]
	assert.Equal(t, "XAU", row.Symbol)
	assert.Equal(t, models.AssetCommodity, row.AssetType)
	assert.Equal(t, 12.0, row.Quantity)
	assert.Equal(t, 2058.5, row.AvgBuyPrice)
	assert.Equal(t, 100, row.Confidence)
}

func TestPreciousMetalsBuyWithoutPrice(t *testing.T) {
	res := parse(t, `HESAP ÖZETİ ALTIN
02/01/2024-10:15:32 ALTIN ALIŞ 10,00 2.050,00 TL 10,00
05/01/2024-11:00:45 ALTIN ALIŞ 5,00 15,00
`)
	assert.True(t, res.Transactions[1].NeedsCostInput)
	row := res.Rows[0]
	assert.Equal(t, 15.0, row.Quantity)
	assert.Equal(t, 2050.0, row.AvgBuyPrice)
	assert.Equal(t, 100-models.PenaltyMissingPrice, row.Confidence)
}

func TestPreciousMetalsClosedAggregate(t *testing.T) {
	res := parse(t, `HESAP ÖZETİ PLATİN HESABI
02/01/2024-10:15:32 PLATİN ALIŞ 10,00 1.150,00 TL 10,00
03/03/2024-10:15:32 PLATİN SATIŞ -10,00 1.300,00 TL 0,00
`)
	assert.Equal(t, models.MetalPlatinum, res.Metal)
	assert.Equal(t, 0, len(res.Rows))
	assert.Equal(t, 1, res.ClosedPositionCount)
	assert.Equal(t, "XPT", res.Transactions[0].Symbol)
}

func TestPreciousMetalsFooterIsNotABalance(t *testing.T) {
	res := parse(t, goldStatement+"TOPLAM 2 ISLEM    Sayfa 1/1\n")

	assert.Equal(t, 3, len(res.Transactions))
	row := res.Rows[0]
	assert.Equal(t, 12.0, row.Quantity)
	assert.Equal(t, 0, len(row.Warnings))
	assert.Equal(t, 100, row.Confidence)
}

func TestPreciousMetalsBalanceDrift(t *testing.T) {
	res := parse(t, `HESAP ÖZETİ ALTIN
02/01/2024-10:15:32 ALTIN ALIŞ 10,00 2.050,00 TL 10,00
03/01/2024-10:15:32 ALTIN ALIŞ 5,00 2.060,00 TL 16,00
`)
	row := res.Rows[0]
	// The statement balance wins over the summed history.
	assert.Equal(t, 16.0, row.Quantity)
	assert.Equal(t, 1, len(row.Warnings))
	assert.Equal(t, 100-models.PenaltyBalanceDrift, row.Confidence)
}

func TestExtractUnitPrice(t *testing.T) {
	hints := map[string]float64{"05/01/2024-11:00": 2075.5}
	tests := []struct {
		name  string
		chunk string
		want  float64
		ok    bool
	}{
		{"tl token", "02/01/2024-10:15:32 ALTIN ALIS 10,00 2.050,00 TL 10,00", 2050, true},
		{"tl token out of range", "02/01/2024-10:15:32 ALTIN ALIS 50,00 102.500,00 TL 2.050,00 60,00", 2050, true},
		{"third token", "02/01/2024-10:15:32 ALTIN ALIS 50,00 0,00 2.100,00 60,00", 2100, true},
		{"third token is the balance", "02/01/2024-10:15:32 ALTIN ALIS 5,00 0,00 1.200,00", 0, false},
		{"hint for the same minute", "05/01/2024-11:00:45 ALTIN ALIS 5,00 15,00", 2075.5, true},
		{"hint for another minute", "05/01/2024-11:01:00 ALTIN ALIS 5,00 15,00", 0, false},
		{"mangled keyword", "05/01/2024-11:00:45 ALTIN ALIÅž 5,00 15,00", 2075.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractUnitPrice(tt.chunk, hints)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

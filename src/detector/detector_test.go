package detector

import (
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/username/taxfolio/importer/src/models"
)

func TestDetectTabular(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    models.Format
	}{
		{
			name:    "degiro transactions",
			headers: []string{"Date", "Time", "Product", "ISIN", "Reference exchange", "Venue", "Quantity", "Price"},
			want:    models.FormatDegiro,
		},
		{
			name:    "degiro with venue only",
			headers: []string{"Datum", "Produkt", "ISIN", "Venue", "Anzahl"},
			want:    models.FormatDegiro,
		},
		{
			name:    "degiro account statement",
			headers: []string{"Date", "Time", "Value date", "Product", "ISIN", "Description", "FX", "Change"},
			want:    models.FormatDegiro,
		},
		{
			name:    "isin and product alone are not degiro",
			headers: []string{"Product", "ISIN", "Quantity"},
			want:    models.FormatGeneric,
		},
		{
			name:    "kraken ledger",
			headers: []string{"txid", "refid", "time", "type", "subtype", "aclass", "asset", "amount", "fee", "balance"},
			want:    models.FormatKraken,
		},
		{
			name:    "generic",
			headers: []string{"Symbol", "Quantity", "Avg price"},
			want:    models.FormatGeneric,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.headers, "").Format)
		})
	}
}

func TestDetectNone(t *testing.T) {
	assert.Equal(t, models.FormatNone, Detect(nil, "  ").Format)
}

func TestDetectBankInvestment(t *testing.T) {
	d := Detect(nil, "T. IS BANKASI A.S.\nYATIRIM HESABI EKSTRESI\n")
	assert.Equal(t, models.FormatBankInvestment, d.Format)

	// Windows-1254 mojibake of "PORTFÖY" and "İŞLEM".
	d = Detect(nil, "PORTFÖY DURUMU\nÝÞLEM TARÝHÝ\n")
	assert.Equal(t, models.FormatBankInvestment, d.Format)

	d = Detect(nil, "Portföy durumu - Türkiye İş Bankası")
	assert.Equal(t, models.FormatBankInvestment, d.Format)
}

func TestDetectPreciousMetals(t *testing.T) {
	d := Detect(nil, "ALTIN HESABI\nHESAP ÖZETİ\n")
	assert.Equal(t, models.FormatBankPreciousMetals, d.Format)
	assert.Equal(t, models.MetalGold, d.Metal)

	d = Detect(nil, "PLATİN HESABI IBAN TR12 0006 4000 0011 2345 6789 01\n02/01/2024-10:15:32 ALIS 1,00 1,00")
	assert.Equal(t, models.FormatBankPreciousMetals, d.Format)
	assert.Equal(t, models.MetalPlatinum, d.Metal)

	// Timestamp without IBAN is not enough.
	d = Detect([]string{"a"}, "02/01/2024-10:15:32 something")
	assert.Equal(t, models.FormatGeneric, d.Format)
}

func TestDetectWithHint(t *testing.T) {
	assert.Equal(t, models.FormatKraken, DetectWithHint(models.FormatKraken, []string{"Symbol"}, "").Format)
	d := DetectWithHint(models.FormatBankPreciousMetals, nil, "PLATIN")
	assert.Equal(t, models.MetalPlatinum, d.Metal)
	assert.Equal(t, models.FormatDegiro, DetectWithHint("", []string{"Product", "ISIN", "Venue"}, "").Format)
}

func TestDetectFromFilename(t *testing.T) {
	f, ok := DetectFromFilename("/tmp/ledgers (3).csv")
	assert.True(t, ok)
	assert.Equal(t, models.FormatKraken, f)
	_, ok = DetectFromFilename("portfolio.csv")
	assert.False(t, ok)
	assert.True(t, IsTextStatement("ekstre.TXT"))
}

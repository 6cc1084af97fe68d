package models

import (
	"fmt"
	"strings"
)

// QuantityEpsilon is the threshold at or below which a position is closed.
const QuantityEpsilon = 1e-6

// Confidence penalties applied to a ParsedRow for every fallback taken.
const (
	PenaltyUnresolved      = 20 // identifier not in the lookup table
	PenaltyDerivedQuantity = 10 // quantity computed from value / price
	PenaltyDerivedPrice    = 10 // price computed from value / quantity
	PenaltyMissingPrice    = 25 // no unit cost could be found
	PenaltyDefaultCurrency = 5
	PenaltyInferredType    = 5
	PenaltyInferredRow     = 30 // position reconstructed from history only
	PenaltyMerged          = 5
	PenaltyBalanceDrift    = 15 // reported balance disagrees with the summed history
)

// AssetType is the broad instrument class of a position.
type AssetType string

const (
	AssetStock     AssetType = "STOCK"
	AssetFund      AssetType = "FUND"
	AssetBond      AssetType = "BOND"
	AssetCrypto    AssetType = "CRYPTO"
	AssetCash      AssetType = "CASH"
	AssetCommodity AssetType = "COMMODITY"
)

var assetAliases = map[string]AssetType{
	"STOCK": AssetStock, "STOCKS": AssetStock, "SHARE": AssetStock, "EQUITY": AssetStock, "AANDEEL": AssetStock, "ACAO": AssetStock, "HISSE": AssetStock, "STK": AssetStock,
	"FUND": AssetFund, "ETF": AssetFund, "FONDS": AssetFund, "FUNDO": AssetFund, "FON": AssetFund,
	"BOND": AssetBond, "OBLIGATIE": AssetBond, "OBRIGACAO": AssetBond, "TAHVIL": AssetBond, "CERTIFICATE": AssetBond,
	"CRYPTO": AssetCrypto, "CRYPTOCURRENCY": AssetCrypto, "KRIPTO": AssetCrypto,
	"CASH": AssetCash, "FIAT": AssetCash, "NAKIT": AssetCash,
	"COMMODITY": AssetCommodity, "METAL": AssetCommodity, "EMTIA": AssetCommodity,
}

// ParseAssetType maps a free-form type cell to an AssetType.
func ParseAssetType(s string) (AssetType, bool) {
	t, ok := assetAliases[strings.ToUpper(strings.TrimSpace(s))]
	return t, ok
}

// Format is the detected shape of an input file.
type Format string

const (
	FormatNone               Format = "none"
	FormatGeneric            Format = "generic"
	FormatDegiro             Format = "degiro"
	FormatKraken             Format = "kraken"
	FormatBankInvestment     Format = "bank-investment"
	FormatBankPreciousMetals Format = "bank-precious-metals"
)

// ParseFormat accepts the canonical names plus a couple of short forms.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "generic", "csv", "excel":
		return FormatGeneric, true
	case "degiro":
		return FormatDegiro, true
	case "kraken":
		return FormatKraken, true
	case "bank-investment", "bank", "isbank":
		return FormatBankInvestment, true
	case "bank-precious-metals", "metals":
		return FormatBankPreciousMetals, true
	}
	return FormatNone, false
}

// Metal distinguishes the precious-metals account variants.
type Metal string

const (
	MetalGold     Metal = "XAU"
	MetalPlatinum Metal = "XPT"
)

// ParsedRow is a reconciled position snapshot.
type ParsedRow struct {
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name,omitempty"`
	Quantity    float64   `json:"quantity"`
	AvgBuyPrice float64   `json:"avg_buy_price"`
	Currency    string    `json:"currency"`
	AssetType   AssetType `json:"asset_type,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	ISIN        string    `json:"isin,omitempty"`
	Confidence  int       `json:"confidence"`
	Warnings    []string  `json:"warnings"`
	Closed      bool      `json:"closed,omitempty"`
}

// NewParsedRow returns a row with full confidence.
func NewParsedRow(symbol string) ParsedRow {
	return ParsedRow{Symbol: symbol, Confidence: 100, Warnings: []string{}}
}

// AddWarning records a human-readable warning and lowers confidence.
func (r *ParsedRow) AddWarning(msg string, penalty int) {
	r.Warnings = append(r.Warnings, msg)
	r.Confidence -= penalty
	if r.Confidence < 0 {
		r.Confidence = 0
	}
}

// ParseResult is the top-level output of one parse call.
type ParseResult struct {
	ImportID            string              `json:"import_id"`
	Success             bool                `json:"success"`
	Format              Format              `json:"format"`
	Metal               Metal               `json:"metal,omitempty"`
	Rows                []ParsedRow         `json:"rows"`
	Transactions        []ParsedTransaction `json:"transactions"`
	Mapping             FieldMapping        `json:"mapping"`
	UnmappedColumns     []string            `json:"unmapped_columns"`
	Errors              []string            `json:"errors"`
	TotalRows           int                 `json:"total_rows"`
	SkippedRows         int                 `json:"skipped_rows"`
	ClosedPositionCount int                 `json:"closed_position_count"`
	// ClosedPositions names every position the file shows as closed, so a
	// stored position from an earlier import can be zeroed.
	ClosedPositions     []PositionKey       `json:"closed_positions"`
}

// PositionKey identifies a stored position.
type PositionKey struct {
	Symbol   string `json:"symbol"`
	Platform string `json:"platform"`
}

// NewParseResult returns an empty successful result for format f.
func NewParseResult(f Format) *ParseResult {
	return &ParseResult{
		Success:         true,
		Format:          f,
		Rows:            []ParsedRow{},
		Transactions:    []ParsedTransaction{},
		Mapping:         NewFieldMapping(),
		UnmappedColumns: []string{},
		Errors:          []string{},
		ClosedPositions: []PositionKey{},
	}
}

// Close counts a position that nets to zero.
func (r *ParseResult) Close(symbol, platform string) {
	r.ClosedPositionCount++
	r.ClosedPositions = append(r.ClosedPositions, PositionKey{Symbol: symbol, Platform: platform})
}

// Fail marks a file-level defect.
func (r *ParseResult) Fail(format string, args ...any) {
	r.Success = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Skip records a row-level defect that dropped the row. row is 1-based in
// the source file; zero omits the prefix.
func (r *ParseResult) Skip(row int, format string, args ...any) {
	r.SkippedRows++
	r.Note(row, format, args...)
}

// Note records a non-fatal defect without counting a skipped row.
func (r *ParseResult) Note(row int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if row > 0 {
		msg = fmt.Sprintf("row %d: %s", row, msg)
	}
	r.Errors = append(r.Errors, msg)
}

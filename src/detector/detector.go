// Package detector classifies an upload from weak signals: header names for
// tabular files and anchor phrases for bank text statements.
package detector

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
)

// Detection is the outcome of format detection.
type Detection struct {
	Format models.Format
	// Metal is set for FormatBankPreciousMetals only.
	Metal models.Metal
}

var (
	metalsTimestamp = regexp.MustCompile(`\d{2}/\d{2}/\d{4}-\d{2}:\d{2}:\d{2}`)
	ibanLike        = regexp.MustCompile(`\bTR\s?\d{2}(?:\s?\d{4}){5}\s?\d{2}\b`)
)

var bankNameFragments = []string{"IS BANKASI", "ISBANK", "TURKIYE IS", "ISCEP"}

// Detect classifies a file from its header row and, for text statements, a
// prefix of the document. Unknown tabular files fall back to generic.
func Detect(headers []string, text string) Detection {
	if d, ok := DetectText(text); ok {
		return d
	}
	if len(headers) == 0 {
		if strings.TrimSpace(text) == "" {
			return Detection{Format: models.FormatNone}
		}
		return Detection{Format: models.FormatGeneric}
	}
	norm := map[string]bool{}
	for _, h := range headers {
		norm[normalizer.NormalizeHeader(h)] = true
	}
	switch {
	case isKraken(norm):
		return Detection{Format: models.FormatKraken}
	case isDegiro(norm):
		return Detection{Format: models.FormatDegiro}
	}
	return Detection{Format: models.FormatGeneric}
}

// DetectWithHint honours a caller-selected format and only sniffs when the
// hint is empty or none. A bank hint still needs the metal sub-type.
func DetectWithHint(hint models.Format, headers []string, text string) Detection {
	switch hint {
	case "", models.FormatNone:
		return Detect(headers, text)
	case models.FormatBankPreciousMetals:
		return Detection{Format: hint, Metal: metalOf(normalizer.FoldUpper(normalizer.RepairEncoding(text)))}
	}
	return Detection{Format: hint}
}

// DetectText looks for bank statement anchors. The text is repaired and
// folded first, so mangled "YATIRIM HESABI" or "HESAP ÖZETİ" still match.
func DetectText(text string) (Detection, bool) {
	if strings.TrimSpace(text) == "" {
		return Detection{}, false
	}
	up := normalizer.FoldUpper(normalizer.RepairEncoding(text))

	if strings.Contains(up, "YATIRIM HESABI") {
		return Detection{Format: models.FormatBankInvestment}, true
	}
	if strings.Contains(up, "HESAP OZETI") || (metalsTimestamp.MatchString(up) && ibanLike.MatchString(up)) {
		return Detection{Format: models.FormatBankPreciousMetals, Metal: metalOf(up)}, true
	}
	if strings.Contains(up, "PORTFOY") {
		if strings.Contains(up, "ISLEM") {
			return Detection{Format: models.FormatBankInvestment}, true
		}
		for _, frag := range bankNameFragments {
			if strings.Contains(up, frag) {
				return Detection{Format: models.FormatBankInvestment}, true
			}
		}
	}
	return Detection{}, false
}

func metalOf(up string) models.Metal {
	if strings.Contains(up, "PLATIN") || strings.Contains(up, "XPT") {
		return models.MetalPlatinum
	}
	return models.MetalGold
}

// DetectFromFilename derives a format from caller context when the name is
// distinctive enough. Kraken ledgers are recognised by name because their
// content is also plain CSV.
func DetectFromFilename(name string) (models.Format, bool) {
	base := strings.ToLower(filepath.Base(name))
	switch {
	case strings.Contains(base, "kraken") || strings.HasPrefix(base, "ledgers"):
		return models.FormatKraken, true
	case strings.Contains(base, "degiro"):
		return models.FormatDegiro, true
	}
	return "", false
}

// IsTextStatement reports whether a file should be treated as free text
// rather than a table.
func IsTextStatement(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".txt")
}

func isKraken(h map[string]bool) bool {
	return h["txid"] && h["refid"] && h["asset"] && h["balance"]
}

func isDegiro(h map[string]bool) bool {
	isin := h["isin"]
	product := h["product"] || h["produkt"] || h["produto"]
	if !isin || !product {
		return false
	}
	if h["referenceexchange"] || h["venue"] || h["beurs"] || h["uitvoeringsplaats"] || h["bolsadereferencia"] || h["referenzborse"] || h["ausfuhrungsort"] {
		return true
	}
	// Account statement export: Date, Time, Value date, Product, ISIN, Description, ...
	description := h["description"] || h["omschrijving"] || h["descricao"] || h["beschreibung"]
	valueDate := h["valuedate"] || h["valutadatum"] || h["datavalor"] || h["valuta"]
	return description && valueDate
}

package normalizer

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Mojibake glyph -> Turkish letter. The left-hand glyphs never appear on
// the right-hand side, so the table can be applied in any order and a
// second pass is a no-op.
var mojibake = strings.NewReplacer(
	// UTF-8 bytes read as Latin-1 / Windows-1252.
	"Ä±", "ı", "Ä°", "İ",
	"ÅŸ", "ş", "Åž", "Ş",
	"ÄŸ", "ğ", "Äž", "Ğ",
	"Ã¼", "ü", "Ãœ", "Ü",
	"Ã¶", "ö", "Ã–", "Ö",
	"Ã§", "ç", "Ã‡", "Ç",
	// Windows-1254 bytes read as Latin-1 / Latin-9.
	"ý", "ı", "Ý", "İ",
	"þ", "ş", "Þ", "Ş",
	"ð", "ğ", "Ð", "Ğ",
)

// RepairEncoding fixes text that was written in a Turkish 8-bit code page
// but decoded as Latin-1, Latin-9 or as UTF-8 read byte-wise.
func RepairEncoding(text string) string {
	return mojibake.Replace(text)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeBytes turns raw file bytes into repaired UTF-8 text. Input that is
// not valid UTF-8 is assumed to be Windows-1254.
func DecodeBytes(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return RepairEncoding(string(data))
	}
	decoded, err := charmap.Windows1254.NewDecoder().Bytes(data)
	if err != nil {
		// Windows-1254 maps every byte, so this only guards future table changes.
		return RepairEncoding(strings.ToValidUTF8(string(data), "�"))
	}
	return RepairEncoding(string(decoded))
}

var turkishDotless = strings.NewReplacer("ı", "i", "İ", "I")

// Fold removes diacritics with the Turkish dotless/dotted i handled
// explicitly ("İŞLEM" -> "ISLEM", "ı" -> "i").
func Fold(s string) string {
	s = turkishDotless.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// FoldUpper folds diacritics and upper-cases, for keyword matching.
func FoldUpper(s string) string {
	return strings.ToUpper(Fold(s))
}

// NormalizeHeader folds, lower-cases and keeps only letters and digits, so
// "Value (EUR)", "value_eur" and "VALUE EUR" compare equal.
func NormalizeHeader(s string) string {
	folded := strings.ToLower(Fold(strings.TrimSpace(s)))
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

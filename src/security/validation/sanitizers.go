package validation

import (
	"path/filepath"
	"strings"
	"unicode"
)

const maxFilenameLength = 255

// formulaPrefixes make spreadsheet software evaluate a cell.
const formulaPrefixes = "=+-@\t\r"

// SanitizeForFormulaInjection prefixes a single quote when the trimmed value
// starts a formula, so spreadsheets show it as text.
func SanitizeForFormulaInjection(s string) string {
	trimmed := strings.TrimLeft(s, " ")
	if trimmed != "" && strings.ContainsRune(formulaPrefixes, rune(trimmed[0])) {
		return "'" + s
	}
	return s
}

// StripUnprintable removes non-printable characters, allowing common whitespace
// like space, tab, newline, and carriage return.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
}

// SanitizeCSVField prepares free text from a statement for a CSV export.
func SanitizeCSVField(s string) string {
	return SanitizeForFormulaInjection(StripUnprintable(s))
}

// SanitizeFilename reduces a client-supplied name to its base name without
// control characters. It is used for logging and for the stored import.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(StripUnprintable(strings.TrimSpace(name)))
	name = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}
	return name
}

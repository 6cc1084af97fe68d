package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestValidateExtension(t *testing.T) {
	for _, name := range []string{"ledgers.csv", "portfolio.XLSX", "hesap.txt"} {
		assert.NoError(t, ValidateExtension(name), name)
	}
	err := ValidateExtension("statement.pdf")
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestValidateClientContentType(t *testing.T) {
	assert.NoError(t, ValidateClientContentType("text/csv; charset=utf-8"))
	assert.NoError(t, ValidateClientContentType("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
	assert.Error(t, ValidateClientContentType("image/png"))
}

func TestValidateFileContentByMagicBytes(t *testing.T) {
	r := strings.NewReader("Symbol,Quantity\nAAPL,1\n")
	ct, err := ValidateFileContentByMagicBytes(r)
	assert.NoError(t, err)
	assert.Equal(t, "text/plain", ct)
	assert.Equal(t, int64(len("Symbol,Quantity\nAAPL,1\n")), r.Size())
	assert.Equal(t, r.Size(), int64(r.Len()))

	_, err = ValidateFileContentByMagicBytes(strings.NewReader("%PDF-1.7\n"))
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestSanitizeForFormulaInjection(t *testing.T) {
	assert.Equal(t, "'=SUM(A1)", SanitizeForFormulaInjection("=SUM(A1)"))
	assert.Equal(t, "'-5", SanitizeForFormulaInjection("-5"))
	assert.Equal(t, "AAPL", SanitizeForFormulaInjection("AAPL"))
}

func TestStripUnprintable(t *testing.T) {
	assert.Equal(t, "ab\tc", StripUnprintable("a\x00b\tc\x07"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ledgers.csv", "ledgers.csv"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\hesap.txt`, "hesap.txt"},
		{"bad\nname.csv", "badname.csv"},
		{"", "upload"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
	long := strings.Repeat("a", 300) + ".csv"
	got := SanitizeFilename(long)
	assert.Equal(t, maxFilenameLength, len(got))
	assert.True(t, strings.HasSuffix(got, ".csv"))
}

package tabular

import (
	"bytes"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/xuri/excelize/v2"
)

func TestDecodeCSVSemicolon(t *testing.T) {
	data := []byte("\uFEFFSymbol;Quantity;Price\nAAPL;10;150,5\n\nMSFT;2;300\n")
	table, err := Decode(data)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Symbol", "Quantity", "Price"}, table.Headers)
	recs := table.Records()
	assert.Equal(t, 2, len(recs))
	assert.Equal(t, "150,5", recs[0].Get("Price"))
	assert.Equal(t, 2, recs[0].Line)
	assert.Equal(t, "", recs[0].Get("Missing"))
}

func TestDecodeKeepsSourceLines(t *testing.T) {
	table, err := Decode([]byte("; ;\nSymbol;Qty\nAAPL;1\n;\n\nMSFT;2\n"))
	assert.NoError(t, err)
	recs := table.Records()
	assert.Equal(t, 2, len(recs))
	assert.Equal(t, 3, recs[0].Line)
	assert.Equal(t, "MSFT", recs[1].Get("Symbol"))
	assert.Equal(t, 6, recs[1].Line)
}

func TestDecodeNamesBlankAndDuplicateHeaders(t *testing.T) {
	data := []byte("Date,Price,,Local value,,Value\n01-02-2024,10,USD,-100,USD,-92\n")
	table, err := Decode(data)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Date", "Price", "column 3", "Local value", "column 5", "Value"}, table.Headers)
	next, ok := table.HeaderAfter("Price")
	assert.True(t, ok)
	assert.Equal(t, "column 3", next)
	assert.Equal(t, "USD", table.Records()[0].Get(next))

	dup, err := Decode([]byte("A,A\n1,2\n"))
	assert.NoError(t, err)
	assert.Equal(t, []string{"A", "A (2)"}, dup.Headers)
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   \n", "only,a,header\n"} {
		_, err := Decode([]byte(in))
		assert.IsError(t, err, ErrNoTable, "input %q", in)
	}
}

func TestDecodeShortRows(t *testing.T) {
	table, err := Decode([]byte("a,b,c\n1\n"))
	assert.NoError(t, err)
	assert.Equal(t, "", table.Records()[0].Get("c"))
}

func TestDecodeXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	assert.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"ISIN", "Quantity"}))
	assert.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"US0378331005", "10"}))
	var buf bytes.Buffer
	assert.NoError(t, f.Write(&buf))

	assert.True(t, IsSpreadsheet(buf.Bytes()))
	table, err := Decode(buf.Bytes())
	assert.NoError(t, err)
	assert.Equal(t, []string{"ISIN", "Quantity"}, table.Headers)
	assert.Equal(t, "US0378331005", table.Records()[0].Get("ISIN"))
}

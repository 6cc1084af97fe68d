// Package banktxt parses the plain-text statements a Turkish bank exports
// for investment and precious-metals accounts. The files are fixed-width
// text in a legacy code page, often already mangled by a wrong decode.
package banktxt

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/username/taxfolio/importer/src/detector"
	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
	"github.com/username/taxfolio/importer/src/resolver"
)

const (
	platform = "ISBANK"
	currency = "TRY"
)

var metalsTimestamp = regexp.MustCompile(`\d{2}/\d{2}/\d{4}-\d{2}:\d{2}:\d{2}`)

type Parser struct {
	resolver *resolver.Resolver
}

func NewParser(r *resolver.Resolver) *Parser {
	return &Parser{resolver: r}
}

func (p *Parser) Parse(file io.Reader) (*models.ParseResult, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return p.ParseText(normalizer.DecodeBytes(data)), nil
}

// ParseText picks the statement variant from the text itself. A file that
// carries no anchor at all is read as an investment statement when it has
// no metals timestamps.
func (p *Parser) ParseText(text string) *models.ParseResult {
	d, ok := detector.DetectText(text)
	if !ok {
		d.Format = models.FormatBankInvestment
		if metalsTimestamp.MatchString(text) {
			d = detector.DetectWithHint(models.FormatBankPreciousMetals, nil, text)
		}
	}
	var res *models.ParseResult
	if d.Format == models.FormatBankPreciousMetals {
		res = p.parseMetals(text, d.Metal)
	} else {
		res = p.parseInvestment(text)
	}
	logger.L.Debug("bank statement parsed", "format", res.Format, "rows", len(res.Rows),
		"transactions", len(res.Transactions), "closed", res.ClosedPositionCount, "skipped", res.SkippedRows)
	return res
}

// instrument resolves a bank asset code. Unknown codes keep the code as
// symbol and take their type from the name.
func (p *Parser) instrument(code, name string) (resolver.Instrument, bool) {
	if in, ok := p.resolver.ResolveAssetCode(code); ok {
		return in, true
	}
	return resolver.Instrument{Code: code, Symbol: code, Name: name, Type: resolver.InferTypeFromName(name + " " + code)}, false
}

var wideGap = regexp.MustCompile(`\s{2,}`)

// splitColumns splits a fixed-width line on runs of two or more spaces.
func splitColumns(line string) []string {
	var out []string
	for _, f := range wideGap.Split(strings.TrimSpace(line), -1) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

var numericToken = regexp.MustCompile(`^[-+]?\d[\d.,]*-?$`)

func isNumber(tok string) bool {
	return numericToken.MatchString(tok)
}

// number reads a Turkish-formatted amount: dot thousands, comma decimals.
func number(tok string) float64 {
	return normalizer.ParseLocaleNumberHint(tok, normalizer.HintEuropean)
}

func isSeparator(line string) bool {
	s := strings.TrimSpace(line)
	if len(s) < 5 {
		return false
	}
	return strings.Trim(s, "-=_ ") == ""
}

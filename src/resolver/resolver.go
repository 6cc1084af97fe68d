// Package resolver maps instrument identifiers (ISINs and bank asset codes)
// to display symbols. The table is loaded once and never mutated, so a
// Resolver is safe for concurrent use.
package resolver

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
)

//go:embed instruments.json
var defaultTable []byte

// Instrument is one entry of the lookup table.
type Instrument struct {
	ISIN   string           `json:"isin,omitempty"`
	Code   string           `json:"code,omitempty"`
	Symbol string           `json:"symbol"`
	Name   string           `json:"name"`
	Type   models.AssetType `json:"type"`
}

type Resolver struct {
	byISIN   map[string]Instrument
	byCode   map[string]Instrument
	bySymbol map[string]Instrument
}

// New builds a resolver from entries. Later entries win on duplicate keys.
func New(entries []Instrument) *Resolver {
	r := &Resolver{
		byISIN:   make(map[string]Instrument, len(entries)),
		byCode:   make(map[string]Instrument),
		bySymbol: make(map[string]Instrument, len(entries)),
	}
	for _, e := range entries {
		if e.Type == "" {
			e.Type = InferTypeFromName(e.Name)
		}
		if isin := strings.ToUpper(strings.TrimSpace(e.ISIN)); isin != "" {
			r.byISIN[isin] = e
		}
		if code := strings.ToUpper(strings.TrimSpace(e.Code)); code != "" {
			r.byCode[code] = e
		}
		if sym := strings.ToUpper(strings.TrimSpace(e.Symbol)); sym != "" {
			r.bySymbol[sym] = e
		}
	}
	return r
}

// Default returns a resolver over the built-in table.
func Default() *Resolver {
	r, err := parse(defaultTable)
	if err != nil {
		// The embedded table is part of the binary; a decode error is a build defect.
		panic(fmt.Sprintf("resolver: embedded table: %v", err))
	}
	return r
}

// LoadFile reads a JSON table in the same shape as the built-in one.
func LoadFile(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instrument table %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Resolver, error) {
	var entries []Instrument
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding instrument table: %w", err)
	}
	return New(entries), nil
}

// ResolveISIN looks isin up in the table.
func (r *Resolver) ResolveISIN(isin string) (Instrument, bool) {
	in, ok := r.byISIN[strings.ToUpper(strings.TrimSpace(isin))]
	return in, ok
}

// ResolveAssetCode looks up a bank asset code such as "THYAO", then falls
// back to ticker symbols.
func (r *Resolver) ResolveAssetCode(code string) (Instrument, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if in, ok := r.byCode[code]; ok {
		return in, true
	}
	in, ok := r.bySymbol[code]
	return in, ok
}

// Len is the number of distinct ISINs known.
func (r *Resolver) Len() int { return len(r.byISIN) }

var typeKeywords = []struct {
	words []string
	t     models.AssetType
}{
	{[]string{"BITCOIN", "ETHEREUM", "ETH", "XRP", "RIPPLE", "CRYPTO"}, models.AssetCrypto},
	{[]string{"ETF", "UCITS", "ISHARES", "VANGUARD", "FUND", "FON"}, models.AssetFund},
	{[]string{"CERTIF", "BOND", "TAHVIL", "BONO"}, models.AssetBond},
	{[]string{"ALTIN", "GOLD", "PLATIN", "SILVER", "GUMUS"}, models.AssetCommodity},
}

// InferTypeFromName guesses the asset class from an instrument name.
func InferTypeFromName(name string) models.AssetType {
	up := normalizer.FoldUpper(name)
	words := strings.FieldsFunc(up, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	for _, kw := range typeKeywords {
		for _, k := range kw.words {
			if hasWord(words, k) {
				return kw.t
			}
		}
	}
	return models.AssetStock
}

// hasWord matches k as a word prefix, so "CERTIF" catches "CERTIFICATE"
// without "ETH" catching "NETHERLANDS".
func hasWord(words []string, k string) bool {
	for _, w := range words {
		if strings.HasPrefix(w, k) {
			return true
		}
	}
	return false
}

var isinShape = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

// ValidISIN checks the ISIN shape and its Luhn check digit.
func ValidISIN(isin string) bool {
	if !isinShape.MatchString(isin) {
		return false
	}
	var digits strings.Builder
	for _, c := range isin[:11] {
		if c >= 'A' && c <= 'Z' {
			digits.WriteString(strconv.Itoa(int(c-'A') + 10))
		} else {
			digits.WriteRune(c)
		}
	}
	s := digits.String()
	sum := 0
	double := true
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if double {
			d *= 2
		}
		sum += d/10 + d%10
		double = !double
	}
	return (10-sum%10)%10 == int(isin[11]-'0')
}

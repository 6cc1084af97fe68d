package models

// Field is a semantic column a tabular file may carry.
type Field string

const (
	FieldSymbol       Field = "symbol"
	FieldISIN         Field = "isin"
	FieldName         Field = "name"
	FieldQuantity     Field = "quantity"
	FieldBuyPrice     Field = "buyPrice"
	FieldCurrency     Field = "currency"
	FieldType         Field = "type"
	FieldPlatform     Field = "platform"
	FieldDate         Field = "date"
	FieldLocalValue   Field = "localValue"
	FieldValueEUR     Field = "valueEur"
	FieldTime         Field = "time"
	FieldPrice        Field = "price"
	FieldFee          Field = "fee"
	FieldOrderID      Field = "orderId"
	FieldVenue        Field = "venue"
	FieldDescription  Field = "description"
	FieldTotal        Field = "total"
	FieldExchangeRate Field = "exchangeRate"
)

// MatchTier records how a header was matched to a field.
type MatchTier int

const (
	TierNone MatchTier = iota
	TierExact
	TierPrefix
	TierSubstring
)

func (t MatchTier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierPrefix:
		return "prefix"
	case TierSubstring:
		return "substring"
	}
	return "none"
}

// FieldMapping maps semantic fields to the header actually found in a file.
// Each header backs at most one field.
type FieldMapping struct {
	Columns map[Field]string    `json:"columns"`
	Tiers   map[Field]MatchTier `json:"-"`
}

func NewFieldMapping() FieldMapping {
	return FieldMapping{Columns: map[Field]string{}, Tiers: map[Field]MatchTier{}}
}

// Column returns the header mapped to f.
func (m FieldMapping) Column(f Field) (string, bool) {
	h, ok := m.Columns[f]
	return h, ok
}

// Has reports whether f was mapped.
func (m FieldMapping) Has(f Field) bool {
	_, ok := m.Columns[f]
	return ok
}

// Package mapper assigns semantic fields to the headers of a tabular file.
package mapper

import (
	"strings"

	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/normalizer"
)

// Priority is the order in which fields claim headers. Fields listed first
// win ambiguous headers.
type Priority struct {
	Fields []models.Field
	// exact holds profile-specific aliases that only match a whole header.
	exact map[models.Field][]string
}

// Result of a mapping run.
type Result struct {
	Mapping    models.FieldMapping
	Unmapped   []string
	Confidence int
}

// Aliases are stored already normalised (see normalizer.NormalizeHeader).
var aliases = map[models.Field][]string{
	models.FieldSymbol:       {"symbol", "ticker", "sembol", "simbolo", "tickersymbol", "kod", "code"},
	models.FieldISIN:         {"isin", "isincode", "isinkodu"},
	models.FieldName:         {"name", "product", "produkt", "produto", "naam", "instrument", "security", "kiymettanimi", "kiymet", "description"},
	models.FieldQuantity:     {"quantity", "qty", "aantal", "anzahl", "quantidade", "shares", "units", "adet", "nominal", "miktar", "stuks"},
	models.FieldBuyPrice:     {"avgbuyprice", "averagebuyprice", "avgprice", "averageprice", "buyprice", "gak", "gemiddeldeaankoopkoers", "aankoopprijs", "precomedio", "precodecompra", "einstandskurs", "maliyet", "ortalamamaliyet", "costbasis", "averagecost", "price", "koers", "kurs", "fiyat"},
	models.FieldCurrency:     {"currency", "ccy", "valuta", "wahrung", "moeda", "doviz", "parabirimi", "devise"},
	models.FieldType:         {"type", "assettype", "assetclass", "soort", "typ", "tipo", "islemturu", "side", "action"},
	models.FieldPlatform:     {"platform", "broker", "account", "exchange", "platforme", "plataforma", "aracikurum"},
	models.FieldDate:         {"date", "datum", "data", "tarih", "tradedate", "islemtarihi", "datetime"},
	models.FieldLocalValue:   {"localvalue", "lokalewaarde", "lokalerwert", "valorlocal", "value", "waarde", "wert", "valor", "marketvalue", "tutar"},
	models.FieldValueEUR:     {"valueeur", "eurvalue", "waardeeur", "werteur", "valoreur", "value", "waarde", "wert", "valor"},
	models.FieldTime:         {"time", "tijd", "zeit", "hora", "saat"},
	models.FieldPrice:        {"price", "koers", "kurs", "preco", "fiyat", "unitprice", "birimfiyat"},
	models.FieldFee:          {"transactionandorthirdpartyfees", "transactionfees", "transactioncosts", "transactiekosten", "transaktionskosten", "custosdetransacao", "fees", "fee", "commission", "kosten", "custos", "komisyon"},
	models.FieldOrderID:      {"orderid", "ordernummer", "idordem", "auftragsnummer", "order", "fisno"},
	models.FieldVenue:        {"venue", "uitvoeringsplaats", "ausfuhrungsort", "localdeexecucao", "referenceexchange", "beurs", "borse", "bolsa"},
	models.FieldDescription:  {"description", "omschrijving", "beschreibung", "descricao", "aciklama", "details"},
	models.FieldTotal:        {"total", "totaal", "gesamt", "totaleur"},
	models.FieldExchangeRate: {"exchangerate", "wisselkoers", "wechselkurs", "taxadecambio", "fx", "kur", "dovizkuru"},
}

var GenericPriority = Priority{Fields: []models.Field{
	models.FieldSymbol,
	models.FieldISIN,
	models.FieldName,
	models.FieldQuantity,
	models.FieldBuyPrice,
	models.FieldCurrency,
	models.FieldType,
	models.FieldPlatform,
	models.FieldDate,
	models.FieldValueEUR,
	models.FieldLocalValue,
}}

// DegiroPriority puts isin first: DeGiro exports carry no ticker column.
// The account statement keeps its currency under "Change".
var DegiroPriority = Priority{
	Fields: []models.Field{
		models.FieldISIN,
		models.FieldSymbol,
		models.FieldName,
		models.FieldDate,
		models.FieldTime,
		models.FieldQuantity,
		models.FieldPrice,
		models.FieldLocalValue,
		models.FieldValueEUR,
		models.FieldFee,
		models.FieldOrderID,
		models.FieldVenue,
		models.FieldDescription,
		models.FieldTotal,
		models.FieldExchangeRate,
		models.FieldCurrency,
	},
	exact: map[models.Field][]string{
		models.FieldCurrency: {"change", "mutatie", "mudanca", "anderung"},
	},
}

type header struct {
	raw  string
	norm string
	used bool
}

// MapColumns greedily assigns headers to fields. For each field in priority
// order it tries every tier from exact to substring and takes the first hit;
// a consumed header is never reused.
func MapColumns(headers []string, priority Priority) Result {
	hs := make([]*header, 0, len(headers))
	for _, h := range headers {
		hs = append(hs, &header{raw: h, norm: normalizer.NormalizeHeader(h)})
	}

	res := Result{Mapping: models.NewFieldMapping(), Unmapped: []string{}, Confidence: 100}
	for _, f := range priority.Fields {
		h, tier := claim(hs, aliases[f], priority.exact[f])
		if h == nil {
			continue
		}
		h.used = true
		res.Mapping.Columns[f] = h.raw
		res.Mapping.Tiers[f] = tier
		switch tier {
		case models.TierPrefix:
			res.Confidence -= 5
		case models.TierSubstring:
			res.Confidence -= 10
		}
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	for _, h := range hs {
		if !h.used {
			res.Unmapped = append(res.Unmapped, h.raw)
		}
	}
	return res
}

func claim(hs []*header, fuzzy, exact []string) (*header, models.MatchTier) {
	for _, tier := range []models.MatchTier{models.TierExact, models.TierPrefix, models.TierSubstring} {
		names := fuzzy
		if tier == models.TierExact {
			names = append(append([]string{}, fuzzy...), exact...)
		}
		for _, alias := range names {
			// Two-letter aliases like "fx" would match half the alphabet.
			if tier != models.TierExact && len([]rune(alias)) < 3 {
				continue
			}
			for _, h := range hs {
				if h.used || h.norm == "" {
					continue
				}
				if matches(h.norm, alias, tier) {
					return h, tier
				}
			}
		}
	}
	return nil, models.TierNone
}

func matches(h, alias string, tier models.MatchTier) bool {
	switch tier {
	case models.TierExact:
		return h == alias
	case models.TierPrefix:
		return len(h) > len(alias) && strings.HasPrefix(h, alias)
	case models.TierSubstring:
		return len(h) > len(alias) && strings.Contains(h, alias)
	}
	return false
}

package parsers

import (
	"fmt"

	"github.com/username/taxfolio/importer/src/models"
	"github.com/username/taxfolio/importer/src/parsers/banktxt"
	"github.com/username/taxfolio/importer/src/parsers/degiro"
	"github.com/username/taxfolio/importer/src/parsers/generic"
	"github.com/username/taxfolio/importer/src/parsers/kraken"
	"github.com/username/taxfolio/importer/src/resolver"
)

func GetParser(format models.Format, res *resolver.Resolver) (Parser, error) {
	switch format {
	case models.FormatGeneric:
		return generic.NewParser(res), nil
	case models.FormatDegiro:
		return degiro.NewParser(res), nil
	case models.FormatKraken:
		return kraken.NewParser(), nil
	case models.FormatBankInvestment, models.FormatBankPreciousMetals:
		return banktxt.NewParser(res), nil
	default:
		return nil, fmt.Errorf("no parser available for format: %s", format)
	}
}

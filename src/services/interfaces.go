package services

import (
	"context"
	"errors"

	"github.com/username/taxfolio/importer/src/models"
)

var (
	ErrEmptyInput        = errors.New("empty input")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrParsingFailed     = errors.New("parsing failed")
)

// ResultStore persists parse results. database.Store implements it.
type ResultStore interface {
	SaveResult(ctx context.Context, res *models.ParseResult, filename string) (int, error)
}

// Upload is one file handed to the service.
type Upload struct {
	Filename string
	Data     []byte
	Hint     models.Format
}

// ImportResult is a parse result plus what persisting it changed.
type ImportResult struct {
	Filename string              `json:"filename"`
	Result   *models.ParseResult `json:"result"`
	Inserted int                 `json:"inserted"`
	Error    string              `json:"error,omitempty"`
}

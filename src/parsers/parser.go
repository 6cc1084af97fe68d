package parsers

import (
	"io"

	"github.com/username/taxfolio/importer/src/models"
)

// Parser turns one uploaded file into a ParseResult. File-level defects are
// reported through ParseResult.Success and Errors; the error return is for
// I/O failures only.
type Parser interface {
	Parse(file io.Reader) (*models.ParseResult, error)
}

// src/parsers/parser.go
package parsers

import (
	"io"

	"github.com/williams2w4/tradej/src/models"
)

// Parser converts one broker statement file into the validated fill
// sequence consumed by the aggregation engine.
type Parser interface {
	Parse(file io.Reader) ([]models.NormalizedFill, error)
}

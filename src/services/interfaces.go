package services

import (
	"errors"
	"fmt"
	"io"

	"github.com/williams2w4/tradej/src/models"
)

var (
	// ErrParsingFailed wraps broker-file parse and validation failures.
	ErrParsingFailed = errors.New("file parsing failed")

	// ErrDuplicatesOnly is the distinguishable "nothing new to import"
	// outcome: skip-mode filtering removed 100% of the batch.
	ErrDuplicatesOnly = errors.New("all fills are already imported")

	// ErrOpenTradeConflict means a resulting trade's fills referenced more
	// than one existing open parent trade. The persisted state is itself
	// inconsistent, so the whole import aborts.
	ErrOpenTradeConflict = errors.New("existing open fills from multiple parent trades cannot be merged")

	// ErrProcessingFailed wraps internal aggregation/persistence failures.
	ErrProcessingFailed = errors.New("import processing failed")
)

// DuplicatesOnlyError carries the duplicate count behind ErrDuplicatesOnly.
type DuplicatesOnlyError struct {
	Count int
}

func (e *DuplicatesOnlyError) Error() string {
	return fmt.Sprintf("all %d fills are already imported, nothing new to import", e.Count)
}

func (e *DuplicatesOnlyError) Is(target error) bool {
	return target == ErrDuplicatesOnly
}

// DuplicatePolicy selects what an import does with fills already on record.
type DuplicatePolicy string

const (
	// DuplicateSkip drops duplicate fills and imports the remainder.
	DuplicateSkip DuplicatePolicy = "skip"
	// DuplicateOverride deletes every persisted parent trade owning a
	// duplicate fill, then re-imports the full batch fresh.
	DuplicateOverride DuplicatePolicy = "override"
)

// ImportService is the orchestration entry point for one broker-file import.
type ImportService interface {
	ProcessImport(broker, filename string, file io.Reader, policy DuplicatePolicy) (*models.ImportBatch, error)

	// InvalidateReports clears cached stats/calendar results after any
	// mutation of the trade tables.
	InvalidateReports()
}

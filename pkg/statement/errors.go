package statement

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFileType is returned for inputs that are not CSV files.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrUnrecognizedFormat is returned when no registered descriptor matches.
	ErrUnrecognizedFormat = errors.New("unrecognized statement format")

	ErrTooFewColumns = errors.New("too few columns")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrMalformedRow  = errors.New("malformed row")
)

// RowError describes a single row that could not be parsed.
type RowError struct {
	// Row is the 1-based line number in the file.
	Row    int
	Reason string
	Err    error
}

func newRowError(row int, err error, reason string) *RowError {
	return &RowError{Row: row, Reason: reason, Err: err}
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

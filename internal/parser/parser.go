package parser

import (
	"fmt"

	"github.com/mhodgson/fillbook/internal/types"
)

// Format identifies a supported broker export layout. The set is
// closed: selecting an unknown format is a request error, not a
// fallback to guessing.
type Format string

const (
	// FormatGenericCSV is the reference equities layout:
	// external_id,symbol,side,quantity,price,timestamp,currency[,fees,commission,product]
	FormatGenericCSV Format = "generic_csv"
	// FormatTradovateCSV is the Tradovate futures fill export:
	// orderId,contract,product,b/s,qty,price,fees,commission,timestamp,currency
	FormatTradovateCSV Format = "tradovate_csv"
)

// RowParser converts one raw broker record into a normalized
// ParsedExecution. Implementations are broker-specific and must
// normalize quantities to positive magnitudes, sides to BUY/SELL,
// timestamps to UTC instants and currencies to upper-case ISO codes.
type RowParser interface {
	// ParseRow parses the record at the given zero-based row index.
	// Failures are returned as *ParseError.
	ParseRow(index int, record []string) (types.ParsedExecution, error)

	// IsHeader reports whether the record is the format's column
	// header. Header rows are skipped without being counted.
	IsHeader(record []string) bool

	// LongOnly reports whether the format covers products that cannot
	// be sold short. For long-only formats a sell with no open
	// position is invalid input rather than a short entry.
	LongOnly() bool

	// Broker is the canonical broker name stamped on parsed fills.
	Broker() string
}

// ParseError describes a malformed row. It is recoverable: the
// orchestrator records it, counts the row as skipped and continues.
type ParseError struct {
	Row    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

func parseErrorf(row int, format string, args ...interface{}) *ParseError {
	return &ParseError{Row: row, Reason: fmt.Sprintf(format, args...)}
}

// ForFormat returns the parser for the given format.
func ForFormat(format Format) (RowParser, error) {
	switch format {
	case FormatGenericCSV:
		return NewGenericCSVParser(), nil
	case FormatTradovateCSV:
		return NewTradovateParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for format: %s", format)
	}
}

package parser

import (
	"strings"

	"github.com/mhodgson/fillbook/internal/types"
)

// GenericCSVParser handles the reference equities export:
//
//	external_id,symbol,side,quantity,price,timestamp,currency[,fees,commission,product]
//
// The trailing three columns are optional. Equities imported through
// this format are treated as long-only: a sell with no open position
// is a data problem, not a short entry.
type GenericCSVParser struct{}

func NewGenericCSVParser() *GenericCSVParser {
	return &GenericCSVParser{}
}

func (p *GenericCSVParser) Broker() string { return "generic" }

func (p *GenericCSVParser) LongOnly() bool { return true }

func (p *GenericCSVParser) IsHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "external_id")
}

func (p *GenericCSVParser) ParseRow(index int, record []string) (types.ParsedExecution, error) {
	var empty types.ParsedExecution

	if len(record) < 7 {
		return empty, parseErrorf(index, "expected at least 7 fields, got %d", len(record))
	}

	symbol := strings.ToUpper(strings.TrimSpace(record[1]))
	if symbol == "" {
		return empty, parseErrorf(index, "missing symbol")
	}

	side := normalizeSide(record[2])
	if side == "" {
		return empty, parseErrorf(index, "unknown side %q", record[2])
	}

	quantity, err := parsePositive(record[3])
	if err != nil {
		return empty, parseErrorf(index, "invalid quantity %q: %v", record[3], err)
	}

	price, err := parsePositive(record[4])
	if err != nil {
		return empty, parseErrorf(index, "invalid price %q: %v", record[4], err)
	}

	executedAt, err := parseTimestamp(record[5],
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	)
	if err != nil {
		return empty, parseErrorf(index, "%v", err)
	}

	currency, err := normalizeCurrency(record[6])
	if err != nil {
		return empty, parseErrorf(index, "%v", err)
	}

	var fees, commission float64
	if len(record) > 7 {
		if fees, err = parseOptionalAmount(record[7]); err != nil {
			return empty, parseErrorf(index, "invalid fees %q: %v", record[7], err)
		}
	}
	if len(record) > 8 {
		if commission, err = parseOptionalAmount(record[8]); err != nil {
			return empty, parseErrorf(index, "invalid commission %q: %v", record[8], err)
		}
	}
	var product string
	if len(record) > 9 {
		product = strings.TrimSpace(record[9])
	}

	return types.ParsedExecution{
		Broker:         p.Broker(),
		ExternalID:     strings.TrimSpace(record[0]),
		Symbol:         symbol,
		Product:        product,
		Side:           side,
		Quantity:       quantity,
		Price:          price,
		Fees:           fees,
		Commission:     commission,
		ExecutedAt:     executedAt,
		Currency:       currency,
		InstrumentType: "equity",
	}, nil
}

package parser

import (
	"strings"

	"github.com/mhodgson/fillbook/internal/types"
)

// TradovateParser handles the Tradovate futures fill export:
//
//	orderId,contract,product,b/s,qty,price,fees,commission,timestamp[,currency]
//
// Futures contracts can be sold to open, so the format is not
// long-only and a first sell starts a short trade.
type TradovateParser struct{}

func NewTradovateParser() *TradovateParser {
	return &TradovateParser{}
}

func (p *TradovateParser) Broker() string { return "tradovate" }

func (p *TradovateParser) LongOnly() bool { return false }

func (p *TradovateParser) IsHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "orderId")
}

func (p *TradovateParser) ParseRow(index int, record []string) (types.ParsedExecution, error) {
	var empty types.ParsedExecution

	if len(record) < 9 {
		return empty, parseErrorf(index, "expected at least 9 fields, got %d", len(record))
	}

	contract := strings.ToUpper(strings.TrimSpace(record[1]))
	if contract == "" {
		return empty, parseErrorf(index, "missing contract symbol")
	}

	side := normalizeSide(record[3])
	if side == "" {
		return empty, parseErrorf(index, "unknown side %q", record[3])
	}

	quantity, err := parsePositive(record[4])
	if err != nil {
		return empty, parseErrorf(index, "invalid quantity %q: %v", record[4], err)
	}

	price, err := parsePositive(record[5])
	if err != nil {
		return empty, parseErrorf(index, "invalid price %q: %v", record[5], err)
	}

	fees, err := parseOptionalAmount(record[6])
	if err != nil {
		return empty, parseErrorf(index, "invalid fees %q: %v", record[6], err)
	}

	commission, err := parseOptionalAmount(record[7])
	if err != nil {
		return empty, parseErrorf(index, "invalid commission %q: %v", record[7], err)
	}

	executedAt, err := parseTimestamp(record[8],
		"01/02/2006 15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
	)
	if err != nil {
		return empty, parseErrorf(index, "%v", err)
	}

	currency := "USD"
	if len(record) > 9 {
		if currency, err = normalizeCurrency(record[9]); err != nil {
			return empty, parseErrorf(index, "%v", err)
		}
	}

	return types.ParsedExecution{
		Broker:         p.Broker(),
		ExternalID:     strings.TrimSpace(record[0]),
		Symbol:         contract,
		Product:        strings.TrimSpace(record[2]),
		Side:           side,
		Quantity:       quantity,
		Price:          price,
		Fees:           fees,
		Commission:     commission,
		ExecutedAt:     executedAt,
		Currency:       currency,
		InstrumentType: "future",
	}, nil
}

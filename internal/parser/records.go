package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ReadRecords splits a raw CSV payload into records. Rows may have a
// variable number of fields; blank lines are dropped. Splitting is
// format-independent, interpretation belongs to the RowParser.
func ReadRecords(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv records: %w", err)
	}

	out := make([][]string, 0, len(records))
	for _, record := range records {
		if isBlank(record) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// normalizeSide maps broker side spellings onto BUY/SELL. Returns an
// empty string for unknown values.
func normalizeSide(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "B", "BOT", "BOUGHT":
		return "BUY"
	case "SELL", "S", "SLD", "SOLD":
		return "SELL"
	default:
		return ""
	}
}

// parsePositive parses a strictly positive decimal. Broker exports for
// sells often carry signed quantities; the sign is dropped because the
// side column is authoritative.
func parsePositive(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return 0, fmt.Errorf("value must be non-zero")
	}
	return v, nil
}

// parseOptionalAmount parses a fee-like field that may be empty or
// signed. Magnitude is kept, sign dropped: brokers disagree on whether
// charges are negative.
func parseOptionalAmount(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		v = -v
	}
	return v, nil
}

// parseTimestamp tries each layout in order. Layouts without a zone are
// interpreted as UTC; the result is always UTC.
func parseTimestamp(raw string, layouts ...string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

// normalizeCurrency upper-cases a currency code and validates its
// shape (three letters), defaulting empty input to USD.
func normalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "USD", nil
	}
	if len(code) != 3 {
		return "", fmt.Errorf("invalid currency code %q", raw)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid currency code %q", raw)
		}
	}
	return code, nil
}

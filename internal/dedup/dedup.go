// Package dedup decides whether a fill has already been ingested.
//
// The strong key is (broker, accountId, externalId). Some brokers omit
// stable fill identifiers; those fills fall back to a composite
// fingerprint of (broker, accountId, symbol, side, quantity, price,
// executedAt truncated to the second). The fallback is inherently
// weaker: two legitimate identical fills in the same second cannot be
// told apart from a true duplicate, and the second one is skipped.
package dedup

import (
	"fmt"
	"time"

	"github.com/mhodgson/fillbook/internal/types"
)

// KeySet is the set of dedup keys for one user's prior imports. It is
// loaded once per batch and treated as read-only by concurrent group
// workers; Add is only called from the single-threaded dedup pass.
type KeySet struct {
	keys map[string]struct{}
}

// NewKeySet builds the set from previously stored executions.
func NewKeySet(existing []types.Execution) *KeySet {
	s := &KeySet{keys: make(map[string]struct{}, len(existing))}
	for i := range existing {
		e := &existing[i]
		s.keys[keyFor(e.Broker, e.AccountID, e.ExternalID, e.Symbol, e.Side, e.Quantity, e.Price, e.ExecutedAt)] = struct{}{}
	}
	return s
}

// Has reports whether the parsed fill was already ingested for the
// given account.
func (s *KeySet) Has(accountID string, p *types.ParsedExecution) bool {
	_, ok := s.keys[parsedKey(accountID, p)]
	return ok
}

// Add marks the parsed fill as seen so later rows of the same batch
// dedupe against it.
func (s *KeySet) Add(accountID string, p *types.ParsedExecution) {
	s.keys[parsedKey(accountID, p)] = struct{}{}
}

// Len returns the number of known keys.
func (s *KeySet) Len() int {
	return len(s.keys)
}

func parsedKey(accountID string, p *types.ParsedExecution) string {
	return keyFor(p.Broker, accountID, p.ExternalID, p.Symbol, p.Side, p.Quantity, p.Price, p.ExecutedAt)
}

func keyFor(broker, accountID, externalID, symbol, side string, quantity, price float64, executedAt time.Time) string {
	if externalID != "" {
		return fmt.Sprintf("id|%s|%s|%s", broker, accountID, externalID)
	}
	return fmt.Sprintf("fp|%s|%s|%s|%s|%g|%g|%d",
		broker, accountID, symbol, side, quantity, price, executedAt.Truncate(time.Second).Unix())
}

// Package importer drives a batch import end to end: parse, dedupe,
// group, match, persist, report.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mhodgson/fillbook/internal/config"
	"github.com/mhodgson/fillbook/internal/dedup"
	"github.com/mhodgson/fillbook/internal/matcher"
	"github.com/mhodgson/fillbook/internal/parser"
	"github.com/mhodgson/fillbook/internal/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ImportRequest describes one batch of raw broker rows to ingest.
type ImportRequest struct {
	UserID    string
	AccountID string
	Format    parser.Format
	Rows      [][]string
}

// Service orchestrates batch imports.
type Service struct {
	db  *Database
	cfg config.ImportConfig
}

// NewService creates an import service with the given database
// connection and pipeline tuning.
func NewService(gormDB *gorm.DB, cfg config.ImportConfig) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		cfg: cfg,
	}
}

// groupResult carries one (account, symbol) group's outcome back to
// the batch aggregation step.
type groupResult struct {
	symbol             string
	executionsImported int
	tradesCreated      int
	tradesUpdated      int
	skippedRows        int
	errors             []string
}

// ImportBatch runs the full pipeline for one batch and returns the
// report. Row- and group-level problems are accumulated in the result;
// the returned error is reserved for batch-level failures (bad format
// selection, dedup key load failure) where no work could start.
func (s *Service) ImportBatch(ctx context.Context, req ImportRequest) (*types.ImportResult, error) {
	logger := log.With().
		Str("service", "importer").
		Str("user_id", req.UserID).
		Str("account_id", req.AccountID).
		Str("format", string(req.Format)).
		Logger()

	logger.Info().Int("rows", len(req.Rows)).Msg("starting import batch")

	rowParser, err := parser.ForFormat(req.Format)
	if err != nil {
		return nil, err
	}

	// The dedup key set is loaded once before fan-out and is read-only
	// for the rest of the batch.
	existing, err := s.db.ListExecutionsForDedup(ctx, req.UserID, req.AccountID, rowParser.Broker())
	if err != nil {
		logger.Error().Err(err).Msg("failed to load dedup keys")
		return nil, fmt.Errorf("failed to load dedup keys: %w", err)
	}
	keys := dedup.NewKeySet(existing)

	logger.Debug().Int("known_keys", keys.Len()).Msg("loaded dedup key set")

	result := &types.ImportResult{}
	parsed := s.parseAndDedupe(req, rowParser, keys, result)

	groups := s.groupBySymbol(req, parsed)

	groupResults := s.runGroups(ctx, req, groups, rowParser.LongOnly())
	for _, gr := range groupResults {
		result.ExecutionsImported += gr.executionsImported
		result.TradesCreated += gr.tradesCreated
		result.TradesUpdated += gr.tradesUpdated
		result.SkippedRows += gr.skippedRows
		result.Errors = append(result.Errors, gr.errors...)
	}

	result.Success = len(result.Errors) == 0

	logger.Info().
		Bool("success", result.Success).
		Int("executions_imported", result.ExecutionsImported).
		Int("trades_created", result.TradesCreated).
		Int("trades_updated", result.TradesUpdated).
		Int("skipped_rows", result.SkippedRows).
		Int("errors", len(result.Errors)).
		Msg("import batch completed")

	return result, nil
}

// parseAndDedupe converts raw rows into normalized fills, recording
// parse failures and dropping known duplicates. Duplicate skips are
// counted but are not errors.
func (s *Service) parseAndDedupe(req ImportRequest, rowParser parser.RowParser, keys *dedup.KeySet, result *types.ImportResult) []types.ParsedExecution {
	var parsed []types.ParsedExecution
	for i, record := range req.Rows {
		if rowParser.IsHeader(record) {
			continue
		}

		pe, err := rowParser.ParseRow(i, record)
		if err != nil {
			result.SkippedRows++
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		if keys.Has(req.AccountID, &pe) {
			result.SkippedRows++
			continue
		}
		keys.Add(req.AccountID, &pe)

		parsed = append(parsed, pe)
	}
	return parsed
}

// groupBySymbol stamps identities onto the surviving fills and splits
// them into per-symbol groups.
func (s *Service) groupBySymbol(req ImportRequest, parsed []types.ParsedExecution) map[string][]types.Execution {
	groups := make(map[string][]types.Execution)
	for _, pe := range parsed {
		e := types.Execution{
			ExecutionID:    uuid.New().String(),
			UserID:         req.UserID,
			AccountID:      req.AccountID,
			Broker:         pe.Broker,
			ExternalID:     pe.ExternalID,
			Symbol:         pe.Symbol,
			Product:        pe.Product,
			Side:           pe.Side,
			Quantity:       pe.Quantity,
			Price:          pe.Price,
			Fees:           pe.Fees,
			Commission:     pe.Commission,
			ExecutedAt:     pe.ExecutedAt,
			Currency:       pe.Currency,
			InstrumentType: pe.InstrumentType,
			CreatedAt:      time.Now(),
		}
		groups[e.Symbol] = append(groups[e.Symbol], e)
	}
	return groups
}

// runGroups processes every (account, symbol) group, in parallel up to
// the configured limit. Groups own disjoint state so they never
// contend; execution order inside a group is strictly sequential. A
// group failure is recorded on its own result and never aborts
// siblings. After cancellation no new group is started, but a running
// group finishes its sequence to avoid half-applied trade state.
func (s *Service) runGroups(ctx context.Context, req ImportRequest, groups map[string][]types.Execution, longOnly bool) []groupResult {
	symbols := make([]string, 0, len(groups))
	for symbol := range groups {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var (
		mu      sync.Mutex
		results []groupResult
	)

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	for _, symbol := range symbols {
		symbol := symbol
		execs := groups[symbol]

		g.Go(func() error {
			var gr groupResult
			if ctx.Err() != nil {
				gr = groupResult{
					symbol:      symbol,
					skippedRows: len(execs),
					errors:      []string{fmt.Sprintf("group %s: import canceled before start", symbol)},
				}
			} else {
				gr = s.processGroup(ctx, req, symbol, execs, longOnly)
			}

			mu.Lock()
			results = append(results, gr)
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; per-group failures live on their
	// results.
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].symbol < results[j].symbol })
	return results
}

// processGroup runs the matcher over one symbol's executions and
// persists the outcome transactionally with bounded retry.
func (s *Service) processGroup(ctx context.Context, req ImportRequest, symbol string, execs []types.Execution, longOnly bool) groupResult {
	logger := log.With().
		Str("service", "importer").
		Str("account_id", req.AccountID).
		Str("symbol", symbol).
		Logger()

	gr := groupResult{symbol: symbol}

	matcher.SortExecutions(execs)

	var open *types.StoredTrade
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var loadErr error
		open, loadErr = s.db.GetOpenTrade(ctx, req.UserID, req.AccountID, symbol)
		return loadErr
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to load open trade for group")
		gr.skippedRows += len(execs)
		gr.errors = append(gr.errors, fmt.Sprintf("group %s: failed to load open trade: %v", symbol, err))
		return gr
	}

	m := matcher.New(open, matcher.Options{LongOnly: longOnly})

	applied := make([]types.Execution, 0, len(execs))
	for i := range execs {
		if merr := m.Process(&execs[i]); merr != nil {
			gr.skippedRows++
			gr.errors = append(gr.errors, merr.Error())
			continue
		}
		applied = append(applied, execs[i])
	}

	res := m.Result()
	for _, merr := range res.Errors {
		gr.errors = append(gr.errors, merr.Error())
	}

	if len(applied) == 0 && len(res.Created) == 0 && len(res.Updated) == 0 {
		return gr
	}

	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.db.SaveGroup(ctx, applied, res.Created, res.Updated)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist group after retries")
		gr.skippedRows += len(applied)
		gr.errors = append(gr.errors, fmt.Sprintf("group %s: failed to persist: %v", symbol, err))
		return gr
	}

	gr.executionsImported = len(applied)
	gr.tradesCreated = len(res.Created)
	gr.tradesUpdated = len(res.Updated)

	logger.Debug().
		Int("executions", gr.executionsImported).
		Int("trades_created", gr.tradesCreated).
		Int("trades_updated", gr.tradesUpdated).
		Msg("group processed")

	return gr
}

// withRetry runs op up to the configured attempt count with doubling
// backoff, stopping early when the context is canceled. Each attempt
// gets its own deadline so a hung storage call cannot block a group
// indefinitely. Permanent errors (constraint violations) are returned
// without retrying; everything else is treated as transient until the
// budget is exhausted.
func (s *Service) withRetry(ctx context.Context, op func(context.Context) error) error {
	delay := time.Duration(s.cfg.RetryDelayMs) * time.Millisecond
	timeout := time.Duration(s.cfg.StorageTimeoutMs) * time.Millisecond
	var err error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err = op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if isPermanent(err) || attempt == s.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// isPermanent reports whether retrying can never succeed: duplicate-key
// and other constraint violations fail identically on every attempt.
func isPermanent(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

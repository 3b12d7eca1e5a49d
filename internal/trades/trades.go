package trades

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/mhodgson/fillbook/internal/types"
	"github.com/mhodgson/fillbook/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service exposes trade queries and the administrative bulk wipe.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetTrade retrieves a single trade with its contributing executions.
func (s *Service) GetTrade(userID, tradeID string) (*types.StoredTrade, []types.Execution, error) {
	trade, err := s.db.GetTrade(userID, tradeID)
	if err != nil || trade == nil {
		return nil, nil, err
	}

	executions, err := s.db.ListTradeExecutions(trade)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load trade executions: %w", err)
	}
	return trade, executions, nil
}

func (s *Service) ListTrades(userID, accountID, status string) ([]types.StoredTrade, error) {
	return s.db.ListTrades(userID, accountID, status)
}

func (s *Service) ListExecutions(userID, accountID string) ([]types.Execution, error) {
	return s.db.ListExecutions(userID, accountID)
}

// WipeUserData deletes all stored trades and executions for a user,
// trades first. When the trades delete succeeded but the executions
// delete fails the wipe is reported with a warning rather than as a
// failure: the primary domain objects are already gone.
func (s *Service) WipeUserData(userID string) (*types.WipeResult, error) {
	logger := log.With().
		Str("service", "trades").
		Str("user_id", userID).
		Logger()

	logger.Info().Msg("starting bulk user data wipe")

	tradesDeleted, err := s.db.DeleteTrades(userID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to delete trades")
		return nil, fmt.Errorf("failed to delete trades: %w", err)
	}

	result := &types.WipeResult{TradesDeleted: tradesDeleted}

	executionsDeleted, err := s.db.DeleteExecutions(userID)
	if err != nil {
		logger.Warn().Err(err).
			Int64("trades_deleted", tradesDeleted).
			Msg("trades wiped but execution delete failed")
		result.Warning = fmt.Sprintf("trades deleted but executions could not be removed: %v", err)
		return result, nil
	}
	result.ExecutionsDeleted = executionsDeleted

	logger.Info().
		Int64("trades_deleted", result.TradesDeleted).
		Int64("executions_deleted", result.ExecutionsDeleted).
		Msg("bulk user data wipe completed")

	return result, nil
}

// GinHandlers contains HTTP handlers for trade query and admin endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListTradesHandler handles GET requests for an account's trades.
// Query parameters: account_id (required), status (optional).
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("clientID")
		accountID := c.Query("account_id")
		if accountID == "" {
			response.BadRequest(c, "account_id is required")
			return
		}

		status := c.Query("status")
		if status != "" && status != types.StatusOpen && status != types.StatusClosed {
			response.BadRequest(c, "status must be open or closed")
			return
		}

		result, err := h.service.ListTrades(userID, accountID, status)
		response.Handle(c, result, err)
	}
}

// GetTradeHandler handles GET requests for one trade and its fills.
// URL parameter: trade_id.
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("clientID")
		tradeID := c.Param("trade_id")

		trade, executions, err := h.service.GetTrade(userID, tradeID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if trade == nil {
			response.NotFound(c, "Trade not found")
			return
		}

		response.Success(c, gin.H{
			"trade":      trade,
			"executions": executions,
		})
	}
}

// ListExecutionsHandler handles GET requests for an account's raw fills.
// Query parameter: account_id (required).
func (h *GinHandlers) ListExecutionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("clientID")
		accountID := c.Query("account_id")
		if accountID == "" {
			response.BadRequest(c, "account_id is required")
			return
		}

		result, err := h.service.ListExecutions(userID, accountID)
		response.Handle(c, result, err)
	}
}

// WipeUserDataHandler handles DELETE requests removing all of a user's
// trades and executions. Requires internal authentication.
// URL parameter: user_id.
func (h *GinHandlers) WipeUserDataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		if userID == "" {
			response.BadRequest(c, "user_id is required")
			return
		}

		result, err := h.service.WipeUserData(userID)
		response.Handle(c, result, err)
	}
}

package importer

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mhodgson/fillbook/internal/parser"
	"github.com/mhodgson/fillbook/pkg/response"
)

// GinHandlers contains HTTP handlers for import endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for import endpoints.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// importPayload is the request body for an import run. Rows may be
// provided pre-split or as a raw CSV document; exactly one is required.
type importPayload struct {
	AccountID string     `json:"account_id" binding:"required"`
	Format    string     `json:"format" binding:"required"`
	CSV       string     `json:"csv,omitempty"`
	Rows      [][]string `json:"rows,omitempty"`
}

// ImportHandler handles POST requests to ingest a batch of fills.
// Requires a valid JWT token; the user is taken from the token claims.
func (h *GinHandlers) ImportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("clientID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var payload importPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if _, err := parser.ForFormat(parser.Format(payload.Format)); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		rows := payload.Rows
		if len(rows) == 0 {
			if strings.TrimSpace(payload.CSV) == "" {
				response.BadRequest(c, "either rows or csv is required")
				return
			}
			var err error
			rows, err = parser.ReadRecords(strings.NewReader(payload.CSV))
			if err != nil {
				response.BadRequest(c, err.Error())
				return
			}
		}

		result, err := h.service.ImportBatch(c.Request.Context(), ImportRequest{
			UserID:    userID,
			AccountID: payload.AccountID,
			Format:    parser.Format(payload.Format),
			Rows:      rows,
		})
		response.Handle(c, result, err)
	}
}

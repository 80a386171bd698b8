package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orgstack/hrms/internal/api/middleware"
	"github.com/orgstack/hrms/internal/services"
)

// AuditHandler serves the read side of the ledger: listing, statistics
// and export.
type AuditHandler struct {
	Query *services.AuditQueryService
}

func NewAuditHandler(query *services.AuditQueryService) *AuditHandler {
	return &AuditHandler{Query: query}
}

func (h *AuditHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/records", h.List)
	r.GET("/statistics", h.Statistics)
	r.GET("/export", h.Export)
}

func (h *AuditHandler) List(c *gin.Context) {
	q, ok := parseQuery(c)
	if !ok {
		return
	}

	records, total, err := h.Query.List(q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   total,
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

func (h *AuditHandler) Statistics(c *gin.Context) {
	start, end, ok := parseWindow(c)
	if !ok {
		return
	}

	stats, err := h.Query.Statistics(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Export streams the matching records as CSV or JSON, selected by the
// format query param. CSV is the default.
func (h *AuditHandler) Export(c *gin.Context) {
	q, ok := parseQuery(c)
	if !ok {
		return
	}

	switch c.DefaultQuery("format", "csv") {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="audit_export.csv"`)
		c.Status(http.StatusOK)
		if err := h.Query.ExportCSV(q, c.Writer); err != nil {
			middleware.GetRequestLogger(c).WithError(err).Error("Audit CSV export failed mid-stream")
		}
	case "json":
		records, err := h.Query.ExportJSON(q)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported export format, expected csv or json"})
	}
}

func parseQuery(c *gin.Context) (services.AuditQuery, bool) {
	start, end, ok := parseWindow(c)
	if !ok {
		return services.AuditQuery{}, false
	}

	q := services.AuditQuery{
		ActorID:    c.Query("actor_id"),
		Module:     c.Query("module"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Action:     c.Query("action"),
		From:       start,
		To:         end,
	}

	var err error
	if q.Limit, err = intQuery(c, "limit", 100); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return services.AuditQuery{}, false
	}
	if q.Offset, err = intQuery(c, "offset", 0); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return services.AuditQuery{}, false
	}
	return q, true
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

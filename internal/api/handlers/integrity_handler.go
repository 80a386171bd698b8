package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orgstack/hrms/internal/audit"
)

// IntegrityHandler exposes the chain verification and repair surface. A
// broken chain is a finding, not a failure: every endpoint answers with a
// complete report instead of an error, except for malformed requests and
// infrastructure faults.
type IntegrityHandler struct {
	Engine *audit.Engine
}

func NewIntegrityHandler(engine *audit.Engine) *IntegrityHandler {
	return &IntegrityHandler{Engine: engine}
}

func (h *IntegrityHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/integrity/records/:id", h.VerifyRecord)
	r.GET("/integrity/chain", h.VerifyChain)
	r.POST("/integrity/repair", h.RepairChain)
	r.GET("/integrity/report", h.Report)
}

// VerifyRecord checks one record's integrity metadata.
func (h *IntegrityHandler) VerifyRecord(c *gin.Context) {
	res, err := h.Engine.VerifyOne(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit record not found"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// VerifyChain walks the chain over an optional date window.
func (h *IntegrityHandler) VerifyChain(c *gin.Context) {
	start, end, ok := parseWindow(c)
	if !ok {
		return
	}

	report, err := h.Engine.VerifyChain(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// RepairChain rebuilds integrity metadata over an optional date window.
func (h *IntegrityHandler) RepairChain(c *gin.Context) {
	start, end, ok := parseWindow(c)
	if !ok {
		return
	}

	report, err := h.Engine.RepairChain(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Report combines a chain walk with remediation recommendations.
func (h *IntegrityHandler) Report(c *gin.Context) {
	start, end, ok := parseWindow(c)
	if !ok {
		return
	}

	report, err := h.Engine.VerifyChain(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"generated_at":    time.Now().UTC(),
		"chain":           report,
		"recommendations": recommendations(report),
	})
}

func recommendations(report audit.ChainReport) []string {
	var recs []string

	if report.BrokenChainAt != "" {
		recs = append(recs, "Chain continuity is broken at record "+report.BrokenChainAt+": run a chain repair over the affected range.")
	}

	missing := 0
	tampered := 0
	for _, entry := range report.InvalidEntries {
		if entry.Reason == audit.ReasonNoMetadata {
			missing++
		} else {
			tampered++
		}
	}
	if missing > 0 {
		recs = append(recs, "Some records have no integrity metadata: run a chain repair to add it.")
	}
	if tampered > 0 {
		recs = append(recs, "Invalid entries detected: investigate potential tampering before repairing, a repair will re-sign the current contents.")
	}

	if len(recs) == 0 {
		recs = append(recs, "Chain verified, no action required.")
	}
	return recs
}

// parseWindow reads optional RFC3339 start/end query params. Malformed
// ranges are a caller error.
func parseWindow(c *gin.Context) (*time.Time, *time.Time, bool) {
	var start, end *time.Time

	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start date, expected RFC3339"})
			return nil, nil, false
		}
		start = &t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end date, expected RFC3339"})
			return nil, nil, false
		}
		end = &t
	}
	if start != nil && end != nil && end.Before(*start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end date before start date"})
		return nil, nil, false
	}

	return start, end, true
}

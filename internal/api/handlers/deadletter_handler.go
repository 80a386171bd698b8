package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgstack/hrms/internal/audit"
)

// DeadLetterHandler lists retained delivery failures and replays them on
// operator request.
type DeadLetterHandler struct {
	Queue *audit.QueueWorker
}

func NewDeadLetterHandler(queue *audit.QueueWorker) *DeadLetterHandler {
	return &DeadLetterHandler{Queue: queue}
}

func (h *DeadLetterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dead-letters", h.List)
	r.POST("/dead-letters/:id/reprocess", h.Reprocess)
}

func (h *DeadLetterHandler) List(c *gin.Context) {
	includeReprocessed := c.Query("include_reprocessed") == "true"

	letters, err := h.Queue.DeadLetters(includeReprocessed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dead_letters": letters,
		"count":        len(letters),
	})
}

func (h *DeadLetterHandler) Reprocess(c *gin.Context) {
	if err := h.Queue.ReprocessDeadLetter(c.Param("id")); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reprocessed"})
}

package delivery

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mailpilot-backend/internal/pipeline/usecase"
	"mailpilot-backend/internal/rule/repository"
)

// RuleHandler exposes read access to rules and execution history, plus
// the manual rerun endpoint. Rule CRUD belongs to the management
// surface, not this service.
type RuleHandler struct {
	rules    repository.RuleRepository
	executed repository.ExecutedRuleRepository
	pipeline *usecase.Pipeline
}

func NewRuleHandler(rules repository.RuleRepository, executed repository.ExecutedRuleRepository, pipeline *usecase.Pipeline) *RuleHandler {
	return &RuleHandler{rules: rules, executed: executed, pipeline: pipeline}
}

// ListRules returns the enabled rules of a mailbox in evaluation order.
func (h *RuleHandler) ListRules(c *gin.Context) {
	mailboxID := c.Param("id")

	rules, err := h.rules.ListEnabled(mailboxID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// ListExecutions returns recent execution records, newest first.
func (h *RuleHandler) ListExecutions(c *gin.Context) {
	mailboxID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.executed.ListByMailbox(mailboxID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records})
}

// RerunMessage forces re-evaluation of one message, replacing its
// existing execution record.
func (h *RuleHandler) RerunMessage(c *gin.Context) {
	mailboxID := c.Param("id")
	messageID := c.Param("messageId")

	if err := h.pipeline.Rerun(c.Request.Context(), mailboxID, messageID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reprocessed"})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	pipelineDelivery "mailpilot-backend/internal/pipeline/delivery"
	ruleDelivery "mailpilot-backend/internal/rule/delivery"
)

func SetupRoutes(r *gin.Engine, webhookHandler *pipelineDelivery.WebhookHandler, ruleHandler *ruleDelivery.RuleHandler) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Provider push endpoints. Graph validates new subscriptions with
		// a GET-style probe on the same URL, so both verbs are routed.
		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/gmail", webhookHandler.HandleGmail)
			webhooks.POST("/outlook", webhookHandler.HandleOutlook)
			webhooks.GET("/outlook", webhookHandler.HandleOutlook)
		}

		// Rules and execution history (read-only) plus manual rerun.
		mailboxes := api.Group("/mailboxes")
		{
			mailboxes.GET("/:id/rules", ruleHandler.ListRules)
			mailboxes.GET("/:id/executions", ruleHandler.ListExecutions)
			mailboxes.POST("/:id/messages/:messageId/rerun", ruleHandler.RerunMessage)
		}
	}
}

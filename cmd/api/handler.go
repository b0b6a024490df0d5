package api

import (
	"github.com/gin-gonic/gin"

	pipelineDelivery "mailpilot-backend/internal/pipeline/delivery"
	pipelineUsecase "mailpilot-backend/internal/pipeline/usecase"
	ruleDelivery "mailpilot-backend/internal/rule/delivery"
	ruleRepo "mailpilot-backend/internal/rule/repository"
	"mailpilot-backend/pkg/config"
)

type Handler struct {
	webhookHandler *pipelineDelivery.WebhookHandler
	ruleHandler    *ruleDelivery.RuleHandler
}

func NewHandler(
	cfg *config.Config,
	dispatcher *pipelineUsecase.Dispatcher,
	pipeline *pipelineUsecase.Pipeline,
	rules ruleRepo.RuleRepository,
	executed ruleRepo.ExecutedRuleRepository,
) *Handler {
	return &Handler{
		webhookHandler: pipelineDelivery.NewWebhookHandler(dispatcher, cfg.GmailPushToken, cfg.OutlookClientState),
		ruleHandler:    ruleDelivery.NewRuleHandler(rules, executed, pipeline),
	}
}

func (h *Handler) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	SetupRoutes(r, h.webhookHandler, h.ruleHandler)

	return r.Run(addr)
}

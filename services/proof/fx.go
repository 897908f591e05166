package proof

import (
	"veilpool/pkg/health"
	settletask "veilpool/services/proof/task"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("proof.service",
	fx.Provide(
		NewService,
		NewHandler,
	),
	fx.Invoke(
		registerRoutes,
		registerTaskHandlers,
	),
)

func registerRoutes(router *gin.Engine, handler *Handler, hc health.HealthService) {
	handler.Register(router, hc)
}

func registerTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.Handle(settletask.TypeSettlementTransfer, settletask.HandleSettlementTransfer(svc))
}

package proof

import (
	"net/http"

	"veilpool/pkg/errutil"
	"veilpool/pkg/health"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(router *gin.Engine, hc health.HealthService) {
	api := router.Group("/api")
	{
		api.POST("/zkproofs/generate", h.generate)
		api.GET("/zkproofs", h.list)
		api.POST("/deposits", h.deposit)
		api.POST("/withdrawals", h.withdraw)
		api.GET("/history", h.history)
	}

	router.GET("/health", hc.Liveness)
	router.GET("/readyz", hc.Readiness)
}

func (h *Handler) generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	resp, err := h.svc.Generate(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) list(c *gin.Context) {
	wallet := c.Query("wallet")

	resp, err := h.svc.List(c.Request.Context(), wallet)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	resp, err := h.svc.Deposit(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	resp, err := h.svc.Withdraw(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) history(c *gin.Context) {
	wallet := c.Query("wallet")

	resp, err := h.svc.History(c.Request.Context(), wallet)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

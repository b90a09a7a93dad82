package handler

import (
	"net/http"

	"corracoins/internal/monitoring"
	"corracoins/internal/service"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// SetupRouter wires middleware and routes. gatherer backs /metrics.
func SetupRouter(h *Handler, metrics monitoring.Recorder, gatherer prometheus.Gatherer) *gin.Engine {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := service.RegisterValidators(v); err != nil {
			logrus.WithError(err).Error("register request validators")
		}
	}

	r := gin.New()
	r.Use(requestid.New())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(MetricsMiddleware(metrics))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		coins := api.Group("/coins")
		{
			coins.POST("/rewards", UserOrSession(), h.CreateReward)
			coins.POST("/rewards/preview", UserOrSession(), h.PreviewReward)

			user := coins.Group("", RequireUser())
			user.GET("/balance", h.GetBalance)
			user.GET("/transactions", h.ListMyTransactions)
			user.GET("/pending", h.PendingSummary)
			user.POST("/claim", h.ClaimSession)
			user.POST("/welcome-bonus", h.WelcomeBonus)
		}

		admin := api.Group("/admin", RequireAdmin())
		{
			admin.GET("/transactions", h.ListTransactions)
			admin.POST("/transactions/:id/approve", h.Approve)
			admin.POST("/transactions/:id/reject", h.Reject)
			admin.POST("/transactions/:id/paid", h.MarkPaid)
			admin.POST("/transactions/:id/payout-failed", h.MarkPayoutFailed)
			admin.POST("/users/:id/adjust", h.AdjustBalance)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

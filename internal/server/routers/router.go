package routers

import (
	"github.com/gin-gonic/gin"

	"github.com/Tohoso/ai-fortune-service/internal/server/handlers/admin"
	"github.com/Tohoso/ai-fortune-service/internal/server/handlers/webhook"
	"github.com/Tohoso/ai-fortune-service/internal/server/handlers/workerapi"
	"github.com/Tohoso/ai-fortune-service/internal/server/middlewares"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// SetupRoutes 配置所有路由，使用 Route Group 分类
func SetupRoutes(
	webhookHandler *webhook.Handler,
	adminHandler *admin.Handler,
	workerHandler *workerapi.Handler,
	adminToken string,
	apiToken string,
	log logger.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middlewares.CORS())
	r.Use(middlewares.AccessLog(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "ai-fortune-service",
			"message": "Service is running",
		})
	})

	api := r.Group("/api")
	{
		wh := api.Group("/webhook")
		{
			wh.POST("/stores", webhookHandler.Stores)
		}

		form := api.Group("/form")
		{
			form.POST("/process", webhookHandler.FormResponse)
		}

		adm := api.Group("/admin")
		adm.Use(middlewares.AdminAuth(adminToken))
		{
			adm.POST("/fortune/edit", adminHandler.Edit)
			adm.POST("/fortune/regenerate", adminHandler.Regenerate)
			adm.GET("/fortunes", adminHandler.List)
			adm.GET("/fortune/:id", adminHandler.Detail)
			adm.GET("/orders", adminHandler.Orders)
			adm.GET("/order/:id", adminHandler.OrderDetail)
		}

		wrk := api.Group("/worker")
		wrk.Use(middlewares.APITokenAuth(apiToken))
		{
			wrk.POST("/run", workerHandler.Run)
			wrk.POST("/process/:orderId", workerHandler.ProcessOrder)
			wrk.GET("/status", workerHandler.Status)
		}
	}

	return r
}

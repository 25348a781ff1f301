package router

import (
	"github.com/blues/relief/internal/handler"
	"github.com/blues/relief/internal/logic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(campaignLogic *logic.CampaignLogic) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "disaster-relief-service",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API版本组
	v1 := r.Group("/api/v1")
	{
		// 活动相关路由
		campaignHandler := handler.NewCampaignHandler(campaignLogic)
		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("", campaignHandler.CreateCampaign)
			campaigns.GET("", campaignHandler.GetCampaigns)
			campaigns.GET("/:id", campaignHandler.GetCampaign)
			campaigns.GET("/:id/stats", campaignHandler.GetCampaignStats)
			campaigns.GET("/:id/donations", campaignHandler.GetCampaignDonations)
			campaigns.GET("/:id/withdrawals", campaignHandler.GetCampaignWithdrawals)
		}
		v1.GET("/donors/:address/donations", campaignHandler.GetDonorDonations)

		// 管理相关路由
		adminHandler := handler.NewAdminHandler(campaignLogic)
		admin := v1.Group("/admin")
		{
			admin.POST("/campaigns/:id/withdraw", adminHandler.Withdraw)
			admin.POST("/campaigns/:id/active", adminHandler.SetActive)
			admin.POST("/campaigns/:id/visibility", adminHandler.SetVisibility)
			admin.POST("/campaigns/:id/sync", adminHandler.SyncCampaign)
			admin.GET("/audit-logs", adminHandler.GetAuditLogs)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, "+handler.ActorHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

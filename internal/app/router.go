package app

import (
	"tinkerfai_backend/internal/middleware"
	"tinkerfai_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, s *services) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 本地存储的签名直传
	if c.upload.Local != nil {
		router.PUT("/uploads/*key", c.upload.ReceiveUpload)
	}

	// 3. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(s.auth))
	{
		a.registerProjectRoutes(authGroup, c)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/signup", c.auth.Signup)
		public.POST("/signin", c.auth.Signin)
		public.POST("/validate-token", c.auth.ValidateToken)
		public.POST("/forgot-password", c.auth.ForgotPassword)
		public.POST("/reset-password", c.auth.ResetPassword)
		public.POST("/confirm-signup", c.auth.ConfirmSignup)
		public.POST("/resend-confirmation", c.auth.ResendConfirmation)
		public.POST("/logout", c.auth.Logout)
	}
}

func (a *App) registerProjectRoutes(group *gin.RouterGroup, c *controllers) {
	projects := group.Group("/projects")
	{
		projects.POST("", c.project.CreateProject)
		projects.GET("", c.project.ListProjects)
		projects.GET("/:id", c.project.GetProject)
		projects.PUT("/:id", c.project.UpdateProject)
		projects.DELETE("/:id", c.project.DeleteProject)

		// 问答流程
		projects.GET("/:id/questions/:taskIndex/:subtaskIndex", c.question.GetQuestion)
		projects.POST("/:id/answers", c.question.SubmitAnswer)
		projects.GET("/:id/progress", c.question.GetProgress)

		// 数据集上传
		projects.POST("/:id/upload-url", c.upload.GetUploadURL)
		projects.POST("/:id/validate-file", c.upload.ValidateFile)
	}
}

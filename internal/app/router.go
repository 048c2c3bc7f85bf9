package app

import (
	"luma_backend/docs"
	"luma_backend/internal/config"
	"luma_backend/internal/middleware"
	"luma_backend/internal/model"

	"luma_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		a.registerUserRoutes(authGroup, c)
		a.registerCourseRoutes(authGroup, c)
		a.registerLearningRoutes(authGroup, c)
		a.registerQuotaRoutes(authGroup, c)
	}

	// 3. 管理员相关接口
	a.registerAdminRoutes(router, c, repos)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerUserRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/profile", c.auth.GetProfile)
	rg.PUT("/profile", c.user.UpdateProfile)
	rg.PUT("/profile/password", c.user.ChangePassword)
	rg.GET("/analytics/summary", c.analytics.UserSummary)
}

func (a *App) registerCourseRoutes(rg *gin.RouterGroup, c *controllers) {
	courses := rg.Group("/courses")
	{
		courses.POST("", c.course.CreateCourse)
		courses.GET("", c.course.ListCourses)
		courses.GET("/:id", c.course.GetCourse)
		courses.PUT("/:id", c.course.UpdateCourse)
		courses.DELETE("/:id", c.course.DeleteCourse)
		courses.POST("/:id/files", c.course.RegisterFile)
		courses.GET("/:id/files", c.course.ListFiles)
	}

	files := rg.Group("/files")
	{
		files.PUT("/:fileId/uploaded", c.course.MarkUploaded)
		files.GET("/:fileId/download", c.course.DownloadFile)
		files.DELETE("/:fileId", c.course.DeleteFile)
		files.POST("/:fileId/outline", c.course.ExtractOutline)
		files.GET("/:fileId/outline", c.course.GetOutline)
	}
}

func (a *App) registerLearningRoutes(rg *gin.RouterGroup, c *controllers) {
	sessions := rg.Group("/learning/sessions")
	{
		sessions.POST("", c.learning.StartSession)
		sessions.PUT("/:id/pause", c.learning.Pause)
		sessions.PUT("/:id/resume", c.learning.Resume)
		sessions.POST("/:id/explain", c.learning.Explain)
		sessions.POST("/:id/ask", c.learning.Ask)
		sessions.POST("/:id/confirm", c.learning.Confirm)
		sessions.POST("/:id/advance", c.learning.AdvanceTopic)
		sessions.GET("/:id/progress", c.learning.Progress)
		sessions.GET("/:id/weak-points", c.analytics.WeakPoints)

		sessions.GET("/:id/test", c.topicTest.GetTest)
		sessions.POST("/:id/test/answer", c.topicTest.SubmitAnswer)
		sessions.POST("/:id/test/skip", c.topicTest.SkipQuestion)
	}
}

func (a *App) registerQuotaRoutes(rg *gin.RouterGroup, c *controllers) {
	quota := rg.Group("/quota")
	{
		quota.GET("", c.quota.Overview)
		quota.GET("/logs", c.quota.ListLogs)
	}
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, repos *repositories) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(a.Config), middleware.ActivityMiddleware(repos.user))
	admin.Use(middleware.RoleMiddleware(model.Admin))
	{
		admin.GET("/users", c.user.ListUsers)
		admin.PUT("/users/:id/disable", c.user.DisableUser)
		admin.PUT("/users/:id/quota", c.quota.Adjust)
		admin.POST("/users/:id/quota/refund", c.quota.Refund)
		admin.GET("/users/:id/quota/logs", c.quota.ListUserLogs)
		admin.POST("/quota/reset", c.quota.RunReset)
		admin.PUT("/files/:fileId/reclassify", c.topicTest.Reclassify)
		admin.GET("/analytics", c.analytics.PlatformStats)
	}
}

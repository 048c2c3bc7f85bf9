package controller

import (
	"luma_backend/internal/service"
	"luma_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type AnalyticsController struct {
	AnalyticsService *service.AnalyticsService
}

func NewAnalyticsController(analyticsService *service.AnalyticsService) *AnalyticsController {
	return &AnalyticsController{AnalyticsService: analyticsService}
}

// UserSummary godoc
// @Summary 个人学习概览
// @Description 各配额桶用量、会话完成情况与薄弱点数量
// @Tags 统计
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=service.UserSummary}
// @Router /api/analytics/summary [get]
func (c *AnalyticsController) UserSummary(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	summary, err := c.AnalyticsService.UserSummary(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, summary)
}

// WeakPoints godoc
// @Summary 会话内的薄弱子主题
// @Tags 统计
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Success 200 {object} util.Response{data=[]model.SubtopicProgress}
// @Router /api/learning/sessions/{id}/weak-points [get]
func (c *AnalyticsController) WeakPoints(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid session id")
		return
	}

	points, err := c.AnalyticsService.WeakPoints(claims.UserID, uint(id))
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, points)
}

// PlatformStats godoc
// @Summary 平台级统计（管理员）
// @Tags 管理
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=service.PlatformStats}
// @Router /api/admin/analytics [get]
func (c *AnalyticsController) PlatformStats(ctx *gin.Context) {
	stats, err := c.AnalyticsService.PlatformStats()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}

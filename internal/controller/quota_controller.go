package controller

import (
	"luma_backend/internal/service"
	"luma_backend/internal/util"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type QuotaController struct {
	QuotaService *service.QuotaService
}

func NewQuotaController(quotaService *service.QuotaService) *QuotaController {
	return &QuotaController{QuotaService: quotaService}
}

// Overview godoc
// @Summary 当前用户各配额桶状态
// @Tags 配额
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]service.QuotaStatus}
// @Router /api/quota [get]
func (c *QuotaController) Overview(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	statuses, err := c.QuotaService.Overview(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, statuses)
}

// ListLogs godoc
// @Summary 当前用户的配额流水
// @Tags 配额
// @Produce  json
// @Security ApiKeyAuth
// @Param   bucket query string false "按桶筛选"
// @Param   page query int false "页码"
// @Param   limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/quota/logs [get]
func (c *QuotaController) ListLogs(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	logs, total, err := c.QuotaService.Repo.ListLogs(claims.UserID, ctx.Query("bucket"), page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: logs, Total: total, Page: page, Limit: limit})
}

// ListUserLogs godoc
// @Summary 指定用户的配额流水（管理员）
// @Tags 管理
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "用户ID"
// @Param   bucket query string false "按桶筛选"
// @Param   page query int false "页码"
// @Param   limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/admin/users/{id}/quota/logs [get]
func (c *QuotaController) ListUserLogs(ctx *gin.Context) {
	userID, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid user id")
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	logs, total, err := c.QuotaService.Repo.ListLogs(uint(userID), ctx.Query("bucket"), page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: logs, Total: total, Page: page, Limit: limit})
}

type AdjustQuotaRequest struct {
	Bucket       string `json:"bucket" binding:"required"`
	MonthlyLimit *int   `json:"monthlyLimit"`
	Used         *int   `json:"used"`
}

// Adjust godoc
// @Summary 调整用户配额（管理员）
// @Description 修改指定用户某个桶的月度限额或已用量，写入ADMIN_ADJUST流水
// @Tags 管理
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "用户ID"
// @Param   body body AdjustQuotaRequest true "调整内容"
// @Success 200 {object} util.Response{data=service.QuotaStatus}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/admin/users/{id}/quota [put]
func (c *QuotaController) Adjust(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	userID, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid user id")
		return
	}

	var req AdjustQuotaRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if req.MonthlyLimit == nil && req.Used == nil {
		util.BadRequest(ctx, "nothing to adjust")
		return
	}

	status, err := c.QuotaService.Adjust(claims.UserID, uint(userID), req.Bucket, service.AdjustRequest{
		MonthlyLimit: req.MonthlyLimit,
		Used:         req.Used,
	})
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, status)
}

type RefundQuotaRequest struct {
	Bucket string `json:"bucket" binding:"required"`
	Amount int    `json:"amount" binding:"required,min=1"`
}

// Refund godoc
// @Summary 返还用户配额（管理员）
// @Description 减少指定用户某个桶的已用量，不低于0，写入REFUND流水
// @Tags 管理
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "用户ID"
// @Param   body body RefundQuotaRequest true "返还内容"
// @Success 200 {object} util.Response{data=service.QuotaStatus}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/admin/users/{id}/quota/refund [post]
func (c *QuotaController) Refund(ctx *gin.Context) {
	userID, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid user id")
		return
	}

	var req RefundQuotaRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	status, err := c.QuotaService.Refund(uint(userID), req.Bucket, req.Amount)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, status)
}

// RunReset godoc
// @Summary 手动触发月度配额重置扫描（管理员）
// @Description 对所有到期台账执行归零并推进下一重置时间，与定时任务互为幂等
// @Tags 管理
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=object}
// @Router /api/admin/quota/reset [post]
func (c *QuotaController) RunReset(ctx *gin.Context) {
	count, err := c.QuotaService.RunMonthlyReset(time.Now())
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"reset": count})
}

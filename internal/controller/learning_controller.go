package controller

import (
	"luma_backend/internal/service"
	"luma_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

// LearningController 学习会话状态机的HTTP入口
type LearningController struct {
	SessionService *service.SessionService
}

func NewLearningController(sessionService *service.SessionService) *LearningController {
	return &LearningController{SessionService: sessionService}
}

type StartSessionRequest struct {
	FileID uint `json:"fileId" binding:"required"`
}

// StartSession godoc
// @Summary 开始或恢复学习会话
// @Description 同一用户同一课件只会有一个会话，重复调用幂等返回当前进度
// @Tags 学习
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body StartSessionRequest true "课件ID"
// @Success 200 {object} util.Response{data=service.SessionView}
// @Failure 404 {object} util.Response "课件不存在或未抽取大纲"
// @Router /api/learning/sessions [post]
func (c *LearningController) StartSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req StartSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	view, err := c.SessionService.StartOrResume(ctx.Request.Context(), claims.UserID, req.FileID)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// Pause godoc
// @Summary 暂停学习会话
// @Tags 学习
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Success 200 {object} util.Response{data=model.LearningSession}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "当前状态不允许暂停"
// @Router /api/learning/sessions/{id}/pause [put]
func (c *LearningController) Pause(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	session, err := c.SessionService.Pause(claims.UserID, id)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, session)
}

// Resume godoc
// @Summary 恢复已暂停的会话
// @Tags 学习
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Success 200 {object} util.Response{data=model.LearningSession}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "当前状态不允许恢复"
// @Router /api/learning/sessions/{id}/resume [put]
func (c *LearningController) Resume(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	session, err := c.SessionService.Resume(claims.UserID, id)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, session)
}

// Explain godoc
// @Summary 讲解当前子主题
// @Description AI讲解当前子主题，消耗学习互动配额；已有讲解缓存时直接返回不计费
// @Tags 学习
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Success 200 {object} util.Response{data=model.SubtopicProgress}
// @Failure 404 {object} util.Response
// @Failure 429 {object} util.Response "配额不足"
// @Failure 502 {object} util.Response "AI生成失败"
// @Router /api/learning/sessions/{id}/explain [post]
func (c *LearningController) Explain(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	progress, err := c.SessionService.ExplainSubtopic(ctx.Request.Context(), claims.UserID, id)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, progress)
}

type AskRequest struct {
	Question string `json:"question" binding:"required,max=2000"`
}

// Ask godoc
// @Summary 围绕当前子主题自由提问
// @Tags 学习
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Param   body body AskRequest true "问题"
// @Success 200 {object} util.Response{data=object}
// @Failure 404 {object} util.Response
// @Failure 429 {object} util.Response "配额不足"
// @Failure 502 {object} util.Response "AI生成失败"
// @Router /api/learning/sessions/{id}/ask [post]
func (c *LearningController) Ask(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	var req AskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	answer, err := c.SessionService.Ask(ctx.Request.Context(), claims.UserID, id, req.Question)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"answer": answer})
}

// Confirm godoc
// @Summary 确认已理解当前子主题
// @Description 确认后前进到下一子主题；主题内子主题全部确认后进入主题测验
// @Tags 学习
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Success 200 {object} util.Response{data=service.SessionView}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "子主题尚未讲解"
// @Router /api/learning/sessions/{id}/confirm [post]
func (c *LearningController) Confirm(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	view, err := c.SessionService.ConfirmSubtopic(claims.UserID, id)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// AdvanceTopic godoc
// @Summary 通过测验后进入下一主题
// @Tags 学习
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Success 200 {object} util.Response{data=service.SessionView}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "当前主题测验未通过"
// @Router /api/learning/sessions/{id}/advance [post]
func (c *LearningController) AdvanceTopic(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	view, err := c.SessionService.AdvanceTopic(claims.UserID, id)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// Progress godoc
// @Summary 会话进度总览
// @Tags 学习
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Success 200 {object} util.Response{data=service.ProgressOverview}
// @Failure 404 {object} util.Response
// @Router /api/learning/sessions/{id}/progress [get]
func (c *LearningController) Progress(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	overview, err := c.SessionService.Progress(claims.UserID, id)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, overview)
}

func sessionParams(ctx *gin.Context) (*util.Claims, uint, bool) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return nil, 0, false
	}
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid session id")
		return nil, 0, false
	}
	return claims, uint(id), true
}

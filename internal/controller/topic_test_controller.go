package controller

import (
	"luma_backend/internal/model"
	"luma_backend/internal/service"
	"luma_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type TopicTestController struct {
	TestService *service.TopicTestService
}

func NewTopicTestController(testService *service.TopicTestService) *TopicTestController {
	return &TopicTestController{TestService: testService}
}

// GetTest godoc
// @Summary 获取当前主题的测验
// @Description 首次调用生成题目并消耗测验生成配额，再次调用返回缓存题目不计费
// @Tags 测验
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Success 200 {object} util.Response{data=service.TestView}
// @Failure 404 {object} util.Response
// @Failure 429 {object} util.Response "配额不足"
// @Failure 502 {object} util.Response "AI生成失败"
// @Router /api/learning/sessions/{id}/test [get]
func (c *TopicTestController) GetTest(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	view, err := c.TestService.GetOrCreate(ctx.Request.Context(), claims.UserID, id)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

type SubmitAnswerRequest struct {
	TopicIndex    int    `json:"topicIndex"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer" binding:"required"`
}

// SubmitAnswer godoc
// @Summary 提交测验答案
// @Description 每题只判一次，答错会累计对应子主题的错误计数
// @Tags 测验
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Param   body body SubmitAnswerRequest true "题目定位与答案"
// @Success 200 {object} util.Response{data=service.AnswerFeedback}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "该题已作答"
// @Router /api/learning/sessions/{id}/test/answer [post]
func (c *TopicTestController) SubmitAnswer(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	var req SubmitAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	feedback, err := c.TestService.SubmitAnswer(claims.UserID, id, req.TopicIndex, req.QuestionIndex, req.Answer)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, feedback)
}

type SkipQuestionRequest struct {
	TopicIndex    int `json:"topicIndex"`
	QuestionIndex int `json:"questionIndex"`
}

// SkipQuestion godoc
// @Summary 跳过测验题目
// @Description 同一题答错满三次后才允许跳过
// @Tags 测验
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "会话ID"
// @Param   body body SkipQuestionRequest true "题目定位"
// @Success 200 {object} util.Response{data=service.QuestionResult}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "尝试次数不足，不允许跳过"
// @Router /api/learning/sessions/{id}/test/skip [post]
func (c *TopicTestController) SkipQuestion(ctx *gin.Context) {
	claims, id, ok := sessionParams(ctx)
	if !ok {
		return
	}

	var req SkipQuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.TestService.Skip(claims.UserID, id, req.TopicIndex, req.QuestionIndex)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

type ReclassifyRequest struct {
	TopicIndex int    `json:"topicIndex"`
	TopicType  string `json:"topicType" binding:"required,oneof=CORE SUPPORTING"`
}

// Reclassify godoc
// @Summary 重新划分主题类型（管理员）
// @Description 调整主题的核心/辅助分类，只改判分门槛，不重新生成题目
// @Tags 管理
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   fileId path int true "课件ID"
// @Param   body body ReclassifyRequest true "主题定位与新类型"
// @Success 200 {object} util.Response{data=model.TopicTest}
// @Failure 404 {object} util.Response
// @Router /api/admin/files/{fileId}/reclassify [put]
func (c *TopicTestController) Reclassify(ctx *gin.Context) {
	fileID, err := strconv.ParseUint(ctx.Param("fileId"), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid file id")
		return
	}

	var req ReclassifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	test, err := c.TestService.Reclassify(uint(fileID), req.TopicIndex, model.TopicType(req.TopicType))
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, test)
}

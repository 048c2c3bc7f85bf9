package controller

import (
	"luma_backend/internal/service"
	"luma_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type CourseController struct {
	CourseService  *service.CourseService
	OutlineService *service.OutlineService
}

func NewCourseController(courseService *service.CourseService, outlineService *service.OutlineService) *CourseController {
	return &CourseController{
		CourseService:  courseService,
		OutlineService: outlineService,
	}
}

// CreateCourse godoc
// @Summary 创建课程
// @Tags 课程
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.CreateCourseRequest true "课程信息"
// @Success 201 {object} util.Response{data=model.Course}
// @Failure 400 {object} util.Response
// @Router /api/courses [post]
func (c *CourseController) CreateCourse(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.CreateCourseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	course, err := c.CourseService.Create(claims.UserID, req)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, course)
}

// ListCourses godoc
// @Summary 我的课程列表
// @Tags 课程
// @Produce  json
// @Security ApiKeyAuth
// @Param   page query int false "页码"
// @Param   limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/courses [get]
func (c *CourseController) ListCourses(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	courses, total, err := c.CourseService.List(claims.UserID, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: courses, Total: total, Page: page, Limit: limit})
}

// GetCourse godoc
// @Summary 课程详情
// @Tags 课程
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "课程ID"
// @Success 200 {object} util.Response{data=model.Course}
// @Failure 404 {object} util.Response
// @Router /api/courses/{id} [get]
func (c *CourseController) GetCourse(ctx *gin.Context) {
	claims, id, ok := c.claimsAndID(ctx, "id")
	if !ok {
		return
	}

	course, err := c.CourseService.Get(claims.UserID, id)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, course)
}

// UpdateCourse godoc
// @Summary 更新课程
// @Tags 课程
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "课程ID"
// @Param   body body service.CreateCourseRequest true "课程信息"
// @Success 200 {object} util.Response{data=model.Course}
// @Failure 404 {object} util.Response
// @Router /api/courses/{id} [put]
func (c *CourseController) UpdateCourse(ctx *gin.Context) {
	claims, id, ok := c.claimsAndID(ctx, "id")
	if !ok {
		return
	}

	var req service.CreateCourseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	course, err := c.CourseService.Update(claims.UserID, id, req)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, course)
}

// DeleteCourse godoc
// @Summary 删除课程及其全部课件
// @Tags 课程
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "课程ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/courses/{id} [delete]
func (c *CourseController) DeleteCourse(ctx *gin.Context) {
	claims, id, ok := c.claimsAndID(ctx, "id")
	if !ok {
		return
	}

	if err := c.CourseService.Delete(claims.UserID, id); err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// RegisterFile godoc
// @Summary 登记课件并获取直传URL
// @Description 只接受PDF，返回预签名上传URL，客户端直传后回调完成接口
// @Tags 课件
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "课程ID"
// @Param   body body service.RegisterFileRequest true "文件元数据"
// @Success 201 {object} util.Response{data=service.UploadTicket}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/courses/{id}/files [post]
func (c *CourseController) RegisterFile(ctx *gin.Context) {
	claims, id, ok := c.claimsAndID(ctx, "id")
	if !ok {
		return
	}

	var req service.RegisterFileRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	ticket, err := c.CourseService.RegisterFile(ctx.Request.Context(), claims.UserID, id, req)
	if err != nil {
		if err == util.ErrNotFound {
			util.NotFound(ctx)
		} else {
			util.BadRequest(ctx, err.Error())
		}
		return
	}
	util.Created(ctx, ticket)
}

// ListFiles godoc
// @Summary 课程下的课件列表
// @Tags 课件
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "课程ID"
// @Success 200 {object} util.Response{data=[]model.CourseFile}
// @Failure 404 {object} util.Response
// @Router /api/courses/{id}/files [get]
func (c *CourseController) ListFiles(ctx *gin.Context) {
	claims, id, ok := c.claimsAndID(ctx, "id")
	if !ok {
		return
	}

	files, err := c.CourseService.ListFiles(claims.UserID, id)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, files)
}

// MarkUploaded godoc
// @Summary 课件上传完成回调
// @Tags 课件
// @Produce  json
// @Security ApiKeyAuth
// @Param   fileId path int true "课件ID"
// @Success 200 {object} util.Response{data=model.CourseFile}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "状态不允许"
// @Router /api/files/{fileId}/uploaded [put]
func (c *CourseController) MarkUploaded(ctx *gin.Context) {
	claims, fileID, ok := c.claimsAndID(ctx, "fileId")
	if !ok {
		return
	}

	file, err := c.CourseService.MarkUploaded(claims.UserID, fileID)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, file)
}

// DownloadFile godoc
// @Summary 获取课件下载URL
// @Tags 课件
// @Produce  json
// @Security ApiKeyAuth
// @Param   fileId path int true "课件ID"
// @Success 200 {object} util.Response{data=object}
// @Failure 404 {object} util.Response
// @Router /api/files/{fileId}/download [get]
func (c *CourseController) DownloadFile(ctx *gin.Context) {
	claims, fileID, ok := c.claimsAndID(ctx, "fileId")
	if !ok {
		return
	}

	url, err := c.CourseService.DownloadURL(ctx.Request.Context(), claims.UserID, fileID)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"url": url})
}

// DeleteFile godoc
// @Summary 删除课件
// @Tags 课件
// @Produce  json
// @Security ApiKeyAuth
// @Param   fileId path int true "课件ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/files/{fileId} [delete]
func (c *CourseController) DeleteFile(ctx *gin.Context) {
	claims, fileID, ok := c.claimsAndID(ctx, "fileId")
	if !ok {
		return
	}

	if err := c.CourseService.DeleteFile(ctx.Request.Context(), claims.UserID, fileID); err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ExtractOutline godoc
// @Summary 抽取课件知识大纲
// @Description 对已上传课件调用AI抽取两级知识大纲，会消耗测验生成配额；已有大纲直接返回不计费
// @Tags 课件
// @Produce  json
// @Security ApiKeyAuth
// @Param   fileId path int true "课件ID"
// @Success 200 {object} util.Response{data=model.Outline}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response "课件未完成上传"
// @Failure 429 {object} util.Response "配额不足"
// @Failure 502 {object} util.Response "AI生成失败"
// @Router /api/files/{fileId}/outline [post]
func (c *CourseController) ExtractOutline(ctx *gin.Context) {
	claims, fileID, ok := c.claimsAndID(ctx, "fileId")
	if !ok {
		return
	}

	outline, err := c.OutlineService.Extract(ctx.Request.Context(), claims.UserID, fileID)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, outline)
}

// GetOutline godoc
// @Summary 获取课件知识大纲
// @Tags 课件
// @Produce  json
// @Security ApiKeyAuth
// @Param   fileId path int true "课件ID"
// @Success 200 {object} util.Response{data=model.Outline}
// @Failure 404 {object} util.Response
// @Router /api/files/{fileId}/outline [get]
func (c *CourseController) GetOutline(ctx *gin.Context) {
	claims, fileID, ok := c.claimsAndID(ctx, "fileId")
	if !ok {
		return
	}

	outline, err := c.OutlineService.Get(ctx.Request.Context(), claims.UserID, fileID)
	if err != nil {
		util.DomainError(ctx, err)
		return
	}
	util.Success(ctx, outline)
}

func (c *CourseController) claimsAndID(ctx *gin.Context, param string) (*util.Claims, uint, bool) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return nil, 0, false
	}
	id, err := strconv.ParseUint(ctx.Param(param), 10, 32)
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return nil, 0, false
	}
	return claims, uint(id), true
}

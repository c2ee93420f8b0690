package controller

import (
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/service"
	"tinkerfai_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ProjectController struct {
	ProjectService *service.ProjectService
}

func NewProjectController(projectService *service.ProjectService) *ProjectController {
	return &ProjectController{ProjectService: projectService}
}

type CreateProjectRequest struct {
	ProjectName string `json:"projectName" binding:"required"`
	ProjectType string `json:"projectType" binding:"required"`
}

type UpdateProjectRequest struct {
	ProjectName *string `json:"projectName"`
	ProjectType *string `json:"projectType"`
}

// currentUser 认证中间件之后调用，缺失时直接返回 401
func currentUser(ctx *gin.Context) (*model.User, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return nil, false
	}
	return user, true
}

// CreateProject godoc
// @Summary 创建项目
// @Tags 项目
// @Accept json
// @Produce json
// @Param body body CreateProjectRequest true "项目信息"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Security ApiKeyAuth
// @Router /api/projects [post]
func (c *ProjectController) CreateProject(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req CreateProjectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	project, err := c.ProjectService.CreateProject(ctx.Request.Context(), user.Email, req.ProjectName, model.ProjectType(req.ProjectType))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Project created successfully", gin.H{"project": project})
}

// ListProjects godoc
// @Summary 当前用户的项目列表，最近更新的在前
// @Tags 项目
// @Produce json
// @Success 200 {object} util.Response
// @Security ApiKeyAuth
// @Router /api/projects [get]
func (c *ProjectController) ListProjects(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}

	projects, err := c.ProjectService.ListProjects(ctx.Request.Context(), user.Email)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"projects": projects})
}

// GetProject godoc
// @Summary 项目详情
// @Tags 项目
// @Produce json
// @Param id path string true "项目ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Security ApiKeyAuth
// @Router /api/projects/{id} [get]
func (c *ProjectController) GetProject(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}

	project, err := c.ProjectService.GetProject(ctx.Request.Context(), user.Email, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"project": project})
}

// UpdateProject godoc
// @Summary 修改项目名称或类型
// @Tags 项目
// @Accept json
// @Produce json
// @Param id path string true "项目ID"
// @Param body body UpdateProjectRequest true "需要修改的字段"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Security ApiKeyAuth
// @Router /api/projects/{id} [put]
func (c *ProjectController) UpdateProject(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req UpdateProjectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	update := model.ProjectUpdate{ProjectName: req.ProjectName}
	if req.ProjectType != nil {
		t := model.ProjectType(*req.ProjectType)
		update.ProjectType = &t
	}
	project, err := c.ProjectService.UpdateProject(ctx.Request.Context(), user.Email, ctx.Param("id"), update)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Project updated successfully", gin.H{"project": project})
}

// DeleteProject godoc
// @Summary 删除项目及其答案和上传文件
// @Tags 项目
// @Produce json
// @Param id path string true "项目ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Security ApiKeyAuth
// @Router /api/projects/{id} [delete]
func (c *ProjectController) DeleteProject(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}

	if err := c.ProjectService.DeleteProject(ctx.Request.Context(), user.Email, ctx.Param("id")); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Project deleted successfully", nil)
}

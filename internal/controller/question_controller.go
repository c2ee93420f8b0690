package controller

import (
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/service"
	"tinkerfai_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type QuestionController struct {
	QuestionService *service.QuestionService
	ProgressService *service.ProgressService
}

func NewQuestionController(questionService *service.QuestionService, progressService *service.ProgressService) *QuestionController {
	return &QuestionController{QuestionService: questionService, ProgressService: progressService}
}

// SubmitAnswerRequest projectId 和 userEmail 可省略，提供时必须与路径和令牌一致
type SubmitAnswerRequest struct {
	ProjectID    string `json:"projectId"`
	UserEmail    string `json:"userEmail"`
	TaskIndex    *int   `json:"taskIndex" binding:"required,min=0"`
	SubtaskIndex *int   `json:"subtaskIndex" binding:"required,min=0"`
	QuestionID   string `json:"questionId" binding:"required"`
	model.AnswerPayload
}

// GetQuestion godoc
// @Summary 获取某个 task/subtask 的问题，已作答时附带答案
// @Tags 问题
// @Produce json
// @Param id path string true "项目ID"
// @Param taskIndex path int true "任务序号"
// @Param subtaskIndex path int true "子任务序号"
// @Success 200 {object} util.Response{data=model.QuestionResult}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Security ApiKeyAuth
// @Router /api/projects/{id}/questions/{taskIndex}/{subtaskIndex} [get]
func (c *QuestionController) GetQuestion(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	taskIndex, ok := util.ParseIndex(ctx.Param("taskIndex"))
	if !ok {
		util.BadRequest(ctx, "Invalid task index")
		return
	}
	subtaskIndex, ok := util.ParseIndex(ctx.Param("subtaskIndex"))
	if !ok {
		util.BadRequest(ctx, "Invalid subtask index")
		return
	}

	result, err := c.QuestionService.GetOrCreateQuestion(ctx.Request.Context(), user.Email, ctx.Param("id"), taskIndex, subtaskIndex)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// SubmitAnswer godoc
// @Summary 提交答案
// @Tags 问题
// @Accept json
// @Produce json
// @Param id path string true "项目ID"
// @Param body body SubmitAnswerRequest true "答案"
// @Success 200 {object} util.Response{data=model.AnswerView}
// @Failure 400 {object} util.Response
// @Failure 403 {object} util.Response "项目或用户与请求不一致"
// @Security ApiKeyAuth
// @Router /api/projects/{id}/answers [post]
func (c *QuestionController) SubmitAnswer(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req SubmitAnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	projectID := ctx.Param("id")
	if (req.ProjectID != "" && req.ProjectID != projectID) || (req.UserEmail != "" && req.UserEmail != user.Email) {
		util.Error(ctx, 403, "Project or user does not match the request")
		return
	}

	answer, err := c.QuestionService.SubmitAnswer(ctx.Request.Context(), user.Email, projectID, service.SubmitAnswerRequest{
		TaskIndex:    *req.TaskIndex,
		SubtaskIndex: *req.SubtaskIndex,
		QuestionID:   req.QuestionID,
		Payload:      req.AnswerPayload,
	})
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Answer submitted successfully", gin.H{"answer": answer})
}

// GetProgress godoc
// @Summary 项目进度
// @Tags 问题
// @Produce json
// @Param id path string true "项目ID"
// @Success 200 {object} util.Response{data=model.Progress}
// @Failure 404 {object} util.Response
// @Security ApiKeyAuth
// @Router /api/projects/{id}/progress [get]
func (c *QuestionController) GetProgress(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}

	progress, err := c.ProgressService.GetProgress(ctx.Request.Context(), user.Email, ctx.Param("id"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, progress)
}

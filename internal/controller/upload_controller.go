package controller

import (
	"errors"
	"net/http"
	"strings"
	"tinkerfai_backend/internal/service"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UploadController struct {
	UploadService *service.UploadService
	// Local 仅本地存储模式下非空，用于接收签名上传
	Local   *service.LocalStorageProvider
	MaxSize int64
}

func NewUploadController(uploadService *service.UploadService, local *service.LocalStorageProvider, maxSize int64) *UploadController {
	return &UploadController{UploadService: uploadService, Local: local, MaxSize: maxSize}
}

// GetUploadURL godoc
// @Summary 获取数据集直传地址
// @Tags 上传
// @Accept x-www-form-urlencoded
// @Produce json
// @Param id path string true "项目ID"
// @Param taskIndex formData int true "任务序号"
// @Param subtaskIndex formData int true "子任务序号"
// @Param fileName formData string true "文件名，仅支持 .csv"
// @Success 200 {object} util.Response{data=model.UploadSlot}
// @Failure 400 {object} util.Response
// @Security ApiKeyAuth
// @Router /api/projects/{id}/upload-url [post]
func (c *UploadController) GetUploadURL(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	taskIndex, ok := util.ParseIndex(ctx.PostForm("taskIndex"))
	if !ok {
		util.BadRequest(ctx, "Invalid task index")
		return
	}
	subtaskIndex, ok := util.ParseIndex(ctx.PostForm("subtaskIndex"))
	if !ok {
		util.BadRequest(ctx, "Invalid subtask index")
		return
	}
	fileName := ctx.PostForm("fileName")
	if fileName == "" {
		util.BadRequest(ctx, "File name is required")
		return
	}

	slot, err := c.UploadService.IssueUploadURL(ctx.Request.Context(), user.Email, ctx.Param("id"), taskIndex, subtaskIndex, fileName)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.SuccessWithMessage(ctx, "Upload URL generated successfully", slot)
}

// ValidateFile godoc
// @Summary 校验已上传的数据集
// @Tags 上传
// @Accept x-www-form-urlencoded
// @Produce json
// @Param id path string true "项目ID"
// @Param fileKey formData string true "上传地址返回的 fileKey"
// @Success 200 {object} util.Response{data=model.FileValidation}
// @Security ApiKeyAuth
// @Router /api/projects/{id}/validate-file [post]
func (c *UploadController) ValidateFile(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}

	result, err := c.UploadService.ValidateFile(ctx.Request.Context(), user.Email, ctx.Param("id"), ctx.PostForm("fileKey"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// ReceiveUpload 本地存储模式下接收客户端的 PUT 上传，令牌由 upload-url 签发
func (c *UploadController) ReceiveUpload(ctx *gin.Context) {
	key := strings.TrimPrefix(ctx.Param("key"), "/")
	if err := c.Local.VerifyUpload(key, ctx.Query("token")); err != nil {
		logger.Log.Warn("Upload token rejected", zap.String("fileKey", key), zap.Error(err))
		util.Error(ctx, http.StatusForbidden, "Invalid or expired upload token")
		return
	}

	if ctx.Request.ContentLength > c.MaxSize {
		util.Error(ctx, http.StatusRequestEntityTooLarge, "File size exceeds 5MB limit")
		return
	}
	if err := c.Local.Put(ctx.Request.Context(), key, ctx.Request.Body, c.MaxSize); err != nil {
		if errors.Is(err, service.ErrUploadTooLarge) {
			util.Error(ctx, http.StatusRequestEntityTooLarge, "File size exceeds 5MB limit")
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	ctx.Status(http.StatusOK)
}

// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pai-resource-go/internal/model"
	"pai-resource-go/internal/repository"
	"pai-resource-go/internal/service"
	"pai-resource-go/pkg/log"
	"pai-resource-go/pkg/token"
)

// ResourceHandler 负责处理所有与资源上传管道相关的 API 请求。
type ResourceHandler struct {
	resourceService service.ResourceService
}

// NewResourceHandler 创建一个新的 ResourceHandler 实例。
func NewResourceHandler(resourceService service.ResourceService) *ResourceHandler {
	return &ResourceHandler{resourceService: resourceService}
}

// InitUploadRequest 定义了初始化上传 API 的请求体结构。
type InitUploadRequest struct {
	OriginalFilename string         `json:"originalFilename" binding:"required"`
	MimeType         string         `json:"mimeType"`
	Size             int64          `json:"size" binding:"required"`
	Type             string         `json:"type" binding:"required"`
	Etag             string         `json:"etag"`
	Metadata         model.Metadata `json:"metadata"`
}

// InitUpload 处理初始化上传的请求。
func (h *ResourceHandler) InitUpload(c *gin.Context) {
	var req InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	result, err := h.resourceService.InitUpload(c.Request.Context(), service.InitUploadInput{
		OriginalFilename: req.OriginalFilename,
		MimeType:         req.MimeType,
		Size:             req.Size,
		Type:             req.Type,
		Etag:             req.Etag,
		Metadata:         req.Metadata,
	}, userIDFrom(c))
	if err != nil {
		respondError(c, "初始化上传失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "初始化上传成功", "data": result})
}

// UploadFile 处理单次直传的请求。
func (h *ResourceHandler) UploadFile(c *gin.Context) {
	resourceID := c.PostForm("resourceId")
	if resourceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少必要的参数"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "未能获取上传的文件"})
		return
	}
	defer file.Close()

	result, err := h.resourceService.UploadFile(c.Request.Context(), resourceID, file,
		header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		respondError(c, "文件上传失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "文件上传成功", "data": result})
}

// UploadChunk 处理分片上传的请求。
func (h *ResourceHandler) UploadChunk(c *gin.Context) {
	resourceID := c.PostForm("resourceId")
	chunkIndexStr := c.PostForm("chunkIndex")
	if resourceID == "" || chunkIndexStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少必要的参数"})
		return
	}
	chunkIndex, err := strconv.Atoi(chunkIndexStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的分片索引"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "未能获取上传的分片"})
		return
	}
	defer file.Close()

	result, err := h.resourceService.UploadChunk(c.Request.Context(), service.ChunkUploadInput{
		ResourceID: resourceID,
		ChunkIndex: chunkIndex,
		ChunkSize:  header.Size,
		File:       file,
	})
	if err != nil {
		respondError(c, "分片上传失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "分片上传成功", "data": result})
}

// MergeChunksRequest 定义了分片合并 API 的请求体结构。
type MergeChunksRequest struct {
	ResourceID string `json:"resourceId" binding:"required"`
}

// MergeChunks 处理分片合并的请求。
func (h *ResourceHandler) MergeChunks(c *gin.Context) {
	var req MergeChunksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	result, err := h.resourceService.MergeChunks(c.Request.Context(), req.ResourceID)
	if err != nil {
		respondError(c, "分片合并失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "分片合并成功", "data": result})
}

// DeleteResource 处理资源删除的请求。
func (h *ResourceHandler) DeleteResource(c *gin.Context) {
	resourceID := c.Param("id")
	if err := h.resourceService.DeleteResource(c.Request.Context(), resourceID); err != nil {
		respondError(c, "资源删除失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "资源删除成功", "data": gin.H{"success": true}})
}

// GetResourceDetail 处理资源详情查询的请求。
func (h *ResourceHandler) GetResourceDetail(c *gin.Context) {
	resource, err := h.resourceService.GetResourceDetail(c.Param("id"))
	if err != nil {
		respondError(c, "资源详情获取失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "资源详情获取成功", "data": resource})
}

// GetResourceList 处理资源列表查询的请求。
func (h *ResourceHandler) GetResourceList(c *gin.Context) {
	query := repository.ResourceQuery{
		ID:               c.Query("id"),
		OriginalFilename: c.Query("originalFilename"),
		Type:             c.Query("type"),
		Status:           c.Query("status"),
	}
	query.Current, _ = strconv.Atoi(c.DefaultQuery("current", "1"))
	query.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "10"))
	if start := c.Query("createdTimeStart"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			query.CreatedTimeStart = &t
		}
	}
	if end := c.Query("createdTimeEnd"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			query.CreatedTimeEnd = &t
		}
	}

	list, total, err := h.resourceService.GetResourceList(query)
	if err != nil {
		respondError(c, "资源列表获取失败", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "资源列表获取成功",
		"data": gin.H{
			"list":     list,
			"total":    total,
			"current":  query.Current,
			"pageSize": query.PageSize,
		},
	})
}

// respondError 将管道错误分类映射为 HTTP 状态码并返回统一的错误响应。
func respondError(c *gin.Context, prefix string, err error) {
	status := http.StatusInternalServerError
	var missing *service.MissingChunkError

	switch {
	case errors.Is(err, service.ErrResourceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConcurrencyLimit):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrSizeMismatch),
		errors.Is(err, service.ErrChecksumMismatch),
		errors.Is(err, service.ErrIncompleteChunks),
		errors.Is(err, service.ErrUnsupportedFormat),
		errors.Is(err, service.ErrChunkConfig),
		errors.Is(err, service.ErrChunkIndexOutOfRange),
		errors.As(err, &missing):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Error(prefix, err)
	}
	c.JSON(status, gin.H{"code": status, "message": prefix + ": " + err.Error()})
}

// userIDFrom 从认证中间件注入的 claims 中取出用户ID。
func userIDFrom(c *gin.Context) string {
	claimsValue, exists := c.Get("claims")
	if !exists {
		return ""
	}
	claims, ok := claimsValue.(*token.CustomClaims)
	if !ok {
		return ""
	}
	return claims.UserID
}

package handler

import (
	"errors"
	"io"
	"net/http"
	"protoforge/internal/repository"
	"protoforge/internal/service"
	"protoforge/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxTemplateSize 是单个模板文件的大小上限。
const maxTemplateSize = 5 << 20

// TemplateHandler 提供模板目录的管理接口，仅管理员可用。
type TemplateHandler struct {
	templateService service.TemplateService
}

// NewTemplateHandler 创建一个新的 TemplateHandler。
func NewTemplateHandler(templateService service.TemplateService) *TemplateHandler {
	return &TemplateHandler{templateService: templateService}
}

// Upload 处理 multipart 表单上传：name、description、file。
func (h *TemplateHandler) Upload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	name := c.PostForm("name")
	description := c.PostForm("description")
	fileHeader, err := c.FormFile("file")
	if err != nil || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "name 和 file 不能为空", "data": nil})
		return
	}
	if fileHeader.Size > maxTemplateSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": http.StatusRequestEntityTooLarge, "message": "模板文件过大", "data": nil})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无法读取上传文件", "data": nil})
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, maxTemplateSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无法读取上传文件", "data": nil})
		return
	}

	tpl, err := h.templateService.Upload(c.Request.Context(), name, description, fileHeader.Filename, content, user.ID)
	switch {
	case errors.Is(err, service.ErrTemplateExists):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error(), "data": nil})
		return
	case errors.Is(err, service.ErrInvalidTemplate):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	case err != nil && tpl != nil:
		// 已登记但索引任务投递失败，可通过 reindex 接口重试
		log.Warnf("[TemplateHandler] 模板已保存但索引任务投递失败, id: %s, error: %v", tpl.ID, err)
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "模板已保存，索引任务投递失败，请稍后重新索引", "data": tpl})
		return
	case err != nil:
		log.Errorf("[TemplateHandler] 上传模板失败, name: %s, error: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "上传模板失败", "data": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": tpl})
}

// List 列出全部模板。
func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.templateService.List(c.Request.Context())
	if err != nil {
		log.Errorf("[TemplateHandler] 查询模板列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询模板列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": templates})
}

// Delete 删除模板及其对象与索引。
func (h *TemplateHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.templateService.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "模板不存在", "data": nil})
			return
		}
		log.Errorf("[TemplateHandler] 删除模板失败, id: %s, error: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除模板失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "删除成功", "data": nil})
}

// Reindex 重新投递模板的索引任务。
func (h *TemplateHandler) Reindex(c *gin.Context) {
	id := c.Param("id")
	if err := h.templateService.Reindex(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "模板不存在", "data": nil})
			return
		}
		log.Errorf("[TemplateHandler] 重新索引失败, id: %s, error: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "重新索引失败", "data": nil})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "索引任务已投递", "data": nil})
}

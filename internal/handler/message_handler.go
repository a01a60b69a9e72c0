package handler

import (
	"errors"
	"net/http"
	"protoforge/internal/model"
	"protoforge/internal/repository"
	"protoforge/internal/service"
	"protoforge/pkg/log"

	"github.com/gin-gonic/gin"
)

// MessageHandler 提供聊天记录的查询、保存与删除接口。
type MessageHandler struct {
	chatService service.ChatService
}

// NewMessageHandler 创建一个新的 MessageHandler。
func NewMessageHandler(chatService service.ChatService) *MessageHandler {
	return &MessageHandler{chatService: chatService}
}

// ConversationMessages 按时间升序返回会话中的消息。
func (h *MessageHandler) ConversationMessages(c *gin.Context) {
	limit, offset := pageParams(c)
	messages, err := h.chatService.History(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		log.Errorf("[MessageHandler] 查询会话消息失败, conversation: %s, error: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询会话消息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// MyMessages 返回当前用户发送的消息。
func (h *MessageHandler) MyMessages(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c)
	messages, err := h.chatService.UserMessages(c.Request.Context(), user.Username, limit, offset)
	if err != nil {
		log.Errorf("[MessageHandler] 查询用户消息失败, user: %s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询用户消息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// GetMessage 根据 ID 返回一条消息。
func (h *MessageHandler) GetMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	msg, ok := h.loadOwned(c, user)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": msg})
}

// DeleteMessage 删除一条消息；普通用户只能删除自己发送的消息或回复给自己的消息。
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	msg, ok := h.loadOwned(c, user)
	if !ok {
		return
	}
	deleted, err := h.chatService.DeleteMessage(c.Request.Context(), msg.ID)
	if err != nil {
		log.Errorf("[MessageHandler] 删除消息失败, id: %s, error: %v", msg.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除消息失败", "data": nil})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "消息不存在", "data": nil})
		return
	}
	log.Infof("[MessageHandler] 消息已删除, id: %s, by: %s", msg.ID, user.Username)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "删除成功", "data": nil})
}

// SaveMessageRequest 是直接保存消息的请求体。
type SaveMessageRequest struct {
	ConversationID string                 `json:"conversationId"`
	Content        string                 `json:"content" binding:"required"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// SaveMessage 以当前用户作为发送者保存一条消息。
func (h *MessageHandler) SaveMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req SaveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：content 不能为空", "data": nil})
		return
	}
	msg, err := h.chatService.SaveMessage(c.Request.Context(), &model.ChatMessage{
		ConversationID: req.ConversationID,
		SenderID:       user.Username,
		Content:        req.Content,
		Metadata:       req.Metadata,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		log.Errorf("[MessageHandler] 保存消息失败, user: %s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "保存消息失败", "data": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": msg})
}

func (h *MessageHandler) loadOwned(c *gin.Context, user *model.User) (*model.ChatMessage, bool) {
	msg, err := h.chatService.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "消息不存在", "data": nil})
			return nil, false
		}
		log.Errorf("[MessageHandler] 查询消息失败, id: %s, error: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询消息失败", "data": nil})
		return nil, false
	}
	if !user.IsAdmin() && !ownsMessage(user.Username, msg) {
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "无权访问该消息", "data": nil})
		return nil, false
	}
	return msg, true
}

func ownsMessage(username string, msg *model.ChatMessage) bool {
	if msg.SenderID == username {
		return true
	}
	if msg.Metadata == nil {
		return false
	}
	replyTo, _ := msg.Metadata["in_reply_to"].(string)
	return replyTo == username
}

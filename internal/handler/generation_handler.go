package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"protoforge/internal/model"
	"protoforge/internal/sanitizer"
	"protoforge/internal/service"
	"protoforge/pkg/llm"
	"protoforge/pkg/log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// statusClientClosedRequest 表示客户端在生成完成前断开。
	statusClientClosedRequest = 499

	wsReadLimit      = 64 << 10
	wsPromptDeadline = 30 * time.Second
	wsWriteDeadline  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// GenerationHandler 暴露原型生成接口。
type GenerationHandler struct {
	chatService service.ChatService
}

// NewGenerationHandler 创建一个新的 GenerationHandler。
func NewGenerationHandler(chatService service.ChatService) *GenerationHandler {
	return &GenerationHandler{chatService: chatService}
}

// Generate 处理 POST /api/v1/generate，同步返回生成结果。
func (h *GenerationHandler) Generate(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req model.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[GenerationHandler] 无效的请求体: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：userID 和 prompt 不能为空", "data": nil})
		return
	}
	if req.UserID != user.Username {
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "userID 与当前登录用户不一致", "data": nil})
		return
	}

	resp, err := h.chatService.Respond(c.Request.Context(), req, nil)
	if err != nil {
		status, message := generationStatus(err)
		log.Warnf("[GenerationHandler] 生成失败, user: %s, status: %d, error: %v", user.Username, status, err)
		c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": resp})
}

// wsFrame 是 WebSocket 上推送给客户端的消息。
type wsFrame struct {
	Type    string              `json:"type"`
	State   service.State       `json:"state,omitempty"`
	Data    *model.ChatResponse `json:"data,omitempty"`
	Code    int                 `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
}

// Stream 处理 GET /api/v1/generate/ws。
// 连接建立后客户端发送一帧 GenerateRequest JSON，服务端依次推送状态帧，最后推送 result 或 error 帧后关闭连接。
func (h *GenerationHandler) Stream(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[GenerationHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	send := func(frame wsFrame) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		if err := conn.WriteJSON(frame); err != nil {
			log.Warnf("[GenerationHandler] 写入 WebSocket 失败, user: %s, error: %v", user.Username, err)
		}
	}
	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteDeadline))
	}

	req, err := readPromptFrame(conn, user.Username)
	if err != nil {
		send(wsFrame{Type: "error", Code: http.StatusBadRequest, Message: err.Error()})
		closeWith(websocket.CloseUnsupportedData, "invalid prompt frame")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// 客户端断开时取消生成
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	observer := func(state service.State) {
		send(wsFrame{Type: "state", State: state})
	}
	resp, err := h.chatService.Respond(ctx, *req, observer)
	if err != nil {
		status, message := generationStatus(err)
		log.Warnf("[GenerationHandler] WebSocket 生成失败, user: %s, status: %d, error: %v", user.Username, status, err)
		if status != statusClientClosedRequest {
			send(wsFrame{Type: "error", Code: status, Message: message})
			closeWith(websocket.CloseNormalClosure, "")
		}
		return
	}
	send(wsFrame{Type: "result", Data: resp})
	closeWith(websocket.CloseNormalClosure, "")
}

func readPromptFrame(conn *websocket.Conn, username string) (*model.GenerateRequest, error) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPromptDeadline))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, errors.New("未收到提示词帧")
	}
	_ = conn.SetReadDeadline(time.Time{})
	if msgType != websocket.TextMessage {
		return nil, errors.New("提示词帧必须是文本消息")
	}

	var req model.GenerateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.New("无效的请求负载：无法解析 JSON")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("无效的请求负载：prompt 不能为空")
	}
	if req.UserID == "" {
		req.UserID = username
	}
	if req.UserID != username {
		return nil, errors.New("userID 与当前登录用户不一致")
	}
	return &req, nil
}

// generationStatus 将生成错误映射为 HTTP 状态码与提示信息。
func generationStatus(err error) (int, string) {
	switch {
	case errors.Is(err, sanitizer.ErrEmptyPrompt):
		return http.StatusBadRequest, "提示词在清洗后为空"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "请求已取消"
	case llm.IsKind(err, llm.Timeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "模型服务响应超时"
	case errors.Is(err, service.ErrMalformedRequirements),
		llm.IsKind(err, llm.Unreachable),
		llm.IsKind(err, llm.MalformedResponse):
		return http.StatusBadGateway, "模型服务调用失败"
	default:
		return http.StatusInternalServerError, "生成失败"
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"recetario-go/internal/middleware"
	"recetario-go/internal/model"
	"recetario-go/internal/service"
	"recetario-go/pkg/log"
	"recetario-go/pkg/token"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 跨域由 CORS 中间件统一控制
		},
	}
)

// WebSocket 帧类型
const (
	frameTypePrompt     = "prompt"
	frameTypeDecision   = "decision"
	frameTypeTranscript = "transcript"
	frameTypeError      = "error"
)

// clientFrame 是客户端通过 WebSocket 发来的指令。
type clientFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Decision  string `json:"decision,omitempty"`
}

// serverFrame 是服务端推送给客户端的消息。
type serverFrame struct {
	Type    string              `json:"type"`
	Data    []model.ChatMessage `json:"data"`
	Saved   *service.SaveResult `json:"saved,omitempty"`
	Message string              `json:"message,omitempty"`
}

// SendMessageRequest 是发送聊天消息的请求体。
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// DecisionRequest 是对建议做出决定的请求体。
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// ChatHandler 负责处理聊天请求，同时支持 REST 与 WebSocket。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
	limiter     *middleware.SessionLimiter
}

// NewChatHandler 创建一个新的 ChatHandler。limiter 为 nil 时 WebSocket 上不限流。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager, limiter *middleware.SessionLimiter) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		jwtManager:  jwtManager,
		limiter:     limiter,
	}
}

// SendMessage 追加用户消息并返回包含助手回复的完整会话记录。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	result, err := h.chatService.Send(c.Request.Context(), middleware.SessionID(c), req.Content)
	if err != nil {
		fail(c, service.ActionChat, err)
		return
	}
	ok(c, result)
}

// Decide 处理用户对某条建议的决定（accept、modify 或 reject）。
func (h *ChatHandler) Decide(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	result, err := h.chatService.Resolve(c.Request.Context(), middleware.SessionID(c), c.Param("messageId"), model.Decision(req.Decision))
	if err != nil {
		fail(c, service.ActionDecide, err)
		return
	}
	ok(c, result)
}

// Handle 处理一个传入的 WebSocket 连接。连接建立后先推送当前会话记录，之后每条指令都回推最新记录。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的会话令牌", "data": nil})
		return
	}
	sessionID := claims.SessionID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] WebSocket 连接已建立, session: %s", sessionID)

	ctx := c.Request.Context()
	history, err := h.chatService.History(ctx, sessionID)
	if err != nil {
		h.writeError(conn, service.UserMessage(service.ActionHistory, err))
	} else {
		h.write(conn, serverFrame{Type: frameTypeTranscript, Data: history})
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.writeError(conn, "无法解析的消息")
			continue
		}

		var (
			result *service.ChatResult
			action string
		)
		switch frame.Type {
		case frameTypePrompt:
			if h.limiter != nil && !h.limiter.Allow(sessionID) {
				h.writeError(conn, "请求过于频繁，请稍后再试")
				continue
			}
			action = service.ActionChat
			result, err = h.chatService.Send(ctx, sessionID, frame.Content)
		case frameTypeDecision:
			action = service.ActionDecide
			result, err = h.chatService.Resolve(ctx, sessionID, frame.MessageID, model.Decision(frame.Decision))
		default:
			h.writeError(conn, "未知的消息类型: "+frame.Type)
			continue
		}
		if err != nil {
			log.Warnf("[ChatHandler] 处理 WebSocket 指令失败, session: %s, type: %s, error: %v", sessionID, frame.Type, err)
			h.writeError(conn, service.UserMessage(action, err))
			continue
		}
		h.write(conn, serverFrame{Type: frameTypeTranscript, Data: result.Messages, Saved: result.Saved})
	}
}

func (h *ChatHandler) writeError(conn *websocket.Conn, message string) {
	h.write(conn, serverFrame{Type: frameTypeError, Message: message})
}

func (h *ChatHandler) write(conn *websocket.Conn, frame serverFrame) {
	if err := conn.WriteJSON(frame); err != nil {
		log.Warnf("[ChatHandler] 写入 WebSocket 消息失败: %v", err)
	}
}

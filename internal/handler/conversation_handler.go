package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"recetario-go/internal/middleware"
	"recetario-go/internal/service"
	"recetario-go/pkg/log"
	"recetario-go/pkg/token"
)

// ConversationHandler 处理聊天会话的创建与历史查询。
type ConversationHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ConversationHandler {
	return &ConversationHandler{chatService: chatService, jwtManager: jwtManager}
}

// CreateSession 签发一个新的聊天会话及其令牌。
func (h *ConversationHandler) CreateSession(c *gin.Context) {
	sessionID, tokenString, err := h.jwtManager.NewSession()
	if err != nil {
		log.Error("[ConversationHandler] 签发会话令牌失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法创建会话", "data": nil})
		return
	}
	log.Infof("[ConversationHandler] 新会话已创建, session: %s", sessionID)
	ok(c, gin.H{"sessionId": sessionID, "token": tokenString})
}

// GetConversation 返回当前会话的完整记录。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	history, err := h.chatService.History(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		log.Errorf("[ConversationHandler] 获取会话记录失败: %v", err)
		fail(c, service.ActionHistory, err)
		return
	}
	ok(c, history)
}

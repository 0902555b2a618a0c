package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"recetario-go/internal/model"
	"recetario-go/internal/repository"
	"recetario-go/pkg/apperr"
	"recetario-go/pkg/log"
	"recetario-go/pkg/metrics"
)

// 助手的固定回复。
const (
	ReplySuggestion = "¡Aquí tienes una receta encantadora que preparé para ti!"
	ReplyAccepted   = "¡Maravilloso! La he guardado en tu recetario. ¡Que la disfrutes! ❤️"
	ReplyModify     = "¡Claro! ¿Qué te gustaría cambiar?"
	ReplyRejected   = "No hay problema. ¡Avísame si quieres otra idea!"
)

// Suggester 根据用户输入生成食谱建议。
type Suggester interface {
	Suggest(ctx context.Context, prompt string) (*model.RecipeSuggestion, error)
}

// SuggestionSaver 保存被接受的建议。
type SuggestionSaver interface {
	SaveSuggestion(ctx context.Context, suggestion model.RecipeSuggestion) (*SaveResult, error)
}

// ChatResult 是一次聊天操作之后的完整会话记录。
type ChatResult struct {
	Messages []model.ChatMessage `json:"messages"`
	Saved    *SaveResult         `json:"saved,omitempty"`
}

// ChatService 定义了聊天会话的操作接口。
type ChatService interface {
	History(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	// Send 追加用户消息并请求建议；成功时追加一条等待决定的助手消息，失败时追加错误提示。
	Send(ctx context.Context, sessionID, text string) (*ChatResult, error)
	// Resolve 处理用户对某条建议的决定。同一会话中可以有多条建议同时等待决定，互不影响。
	Resolve(ctx context.Context, sessionID, messageID string, decision model.Decision) (*ChatResult, error)
}

type chatService struct {
	suggester        Suggester
	saver            SuggestionSaver
	conversationRepo repository.ConversationRepository
	metrics          *metrics.Metrics
	failureText      string
	locks            *sessionLocks
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(suggester Suggester, saver SuggestionSaver, conversationRepo repository.ConversationRepository, m *metrics.Metrics, failureText string) ChatService {
	return &chatService{
		suggester:        suggester,
		saver:            saver,
		conversationRepo: conversationRepo,
		metrics:          m,
		failureText:      failureText,
		locks:            newSessionLocks(),
	}
}

func (s *chatService) History(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	return s.conversationRepo.GetTranscript(ctx, sessionID)
}

func (s *chatService) Send(ctx context.Context, sessionID, text string) (*ChatResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.KindValidation, "chat.Send", "消息不能为空")
	}
	userMsg := newMessage(model.RoleUser, text)
	if _, err := s.apply(ctx, sessionID, func(msgs []model.ChatMessage) ([]model.ChatMessage, error) {
		return append(msgs, userMsg), nil
	}); err != nil {
		return nil, err
	}

	// 建议请求一旦发出就不随调用方取消，结果总会写回会话
	suggestion, err := s.suggester.Suggest(context.WithoutCancel(ctx), text)
	s.metrics.ObserveSuggestion(err == nil)

	var reply model.ChatMessage
	if err != nil {
		log.Warnf("[ChatService] 获取建议失败, session: %s, error: %v", sessionID, err)
		reply = newMessage(model.RoleAssistant, s.failureMessage(err))
	} else {
		reply = newMessage(model.RoleAssistant, ReplySuggestion)
		reply.Recipe = suggestion
		reply.State = model.StateAwaitingDecision
	}

	msgs, err := s.apply(context.WithoutCancel(ctx), sessionID, func(msgs []model.ChatMessage) ([]model.ChatMessage, error) {
		return append(msgs, reply), nil
	})
	if err != nil {
		return nil, err
	}
	return &ChatResult{Messages: msgs}, nil
}

func (s *chatService) Resolve(ctx context.Context, sessionID, messageID string, decision model.Decision) (*ChatResult, error) {
	if _, ok := model.ParseDecision(string(decision)); !ok {
		return nil, apperr.New(apperr.KindValidation, "chat.Resolve", "无效的决定: "+string(decision))
	}

	// 先清除待决状态，之后不会再进入该状态
	var suggestion model.RecipeSuggestion
	if _, err := s.apply(ctx, sessionID, func(msgs []model.ChatMessage) ([]model.ChatMessage, error) {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if !msgs[i].Awaiting() || msgs[i].Recipe == nil {
				return nil, apperr.New(apperr.KindValidation, "chat.Resolve", "该建议已处理")
			}
			suggestion = *msgs[i].Recipe
			msgs[i].State = model.StateNone
			return msgs, nil
		}
		return nil, apperr.New(apperr.KindNotFound, "chat.Resolve", "消息不存在")
	}); err != nil {
		return nil, err
	}
	s.metrics.ObserveDecision(string(decision))

	result := &ChatResult{}
	var reply string
	switch decision {
	case model.DecisionAccept:
		// 调用方断开后保存仍然提交，避免丢失用户已确认的食谱
		saved, err := s.saver.SaveSuggestion(context.WithoutCancel(ctx), suggestion)
		if err != nil {
			log.Errorf("[ChatService] 保存建议失败, session: %s, message: %s, error: %v", sessionID, messageID, err)
			reply = UserMessage(ActionSave, err)
		} else {
			reply = ReplyAccepted
			result.Saved = saved
		}
	case model.DecisionModify:
		reply = ReplyModify
	case model.DecisionReject:
		reply = ReplyRejected
	}

	msgs, err := s.apply(context.WithoutCancel(ctx), sessionID, func(msgs []model.ChatMessage) ([]model.ChatMessage, error) {
		return append(msgs, newMessage(model.RoleAssistant, reply)), nil
	})
	if err != nil {
		return nil, err
	}
	result.Messages = msgs
	return result, nil
}

// apply 在会话锁内读取、修改并写回会话记录。锁不会跨越建议或保存等网络调用。
func (s *chatService) apply(ctx context.Context, sessionID string, mutate func([]model.ChatMessage) ([]model.ChatMessage, error)) ([]model.ChatMessage, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	msgs, err := s.conversationRepo.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err = mutate(msgs)
	if err != nil {
		return nil, err
	}
	if err := s.conversationRepo.SaveTranscript(ctx, sessionID, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *chatService) failureMessage(err error) string {
	if msg := apperr.Message(err); msg != "" {
		return msg
	}
	return s.failureText
}

func newMessage(role model.Role, content string) model.ChatMessage {
	// UUIDv7 按时间递增，保证消息 ID 的顺序
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return model.ChatMessage{
		ID:        id.String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// sessionLocks 为每个会话提供一把互斥锁，无人持有时自动回收。
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (l *sessionLocks) lock(key string) func() {
	l.mu.Lock()
	sl, ok := l.locks[key]
	if !ok {
		sl = &sessionLock{}
		l.locks[key] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

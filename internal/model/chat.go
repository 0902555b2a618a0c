package model

import "time"

// Role 表示消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DecisionState 是单条消息上的待决状态。
type DecisionState string

const (
	StateNone             DecisionState = ""
	StateAwaitingDecision DecisionState = "awaiting_decision"
)

// Decision 是用户对一条建议的处理方式。
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionModify Decision = "modify"
	DecisionReject Decision = "reject"
)

// ParseDecision 校验并转换客户端传入的决定。
func ParseDecision(s string) (Decision, bool) {
	switch d := Decision(s); d {
	case DecisionAccept, DecisionModify, DecisionReject:
		return d, true
	}
	return "", false
}

// ChatMessage 代表存储在 Redis 中的单条对话消息。
type ChatMessage struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Recipe    *RecipeSuggestion `json:"recipe,omitempty"`
	State     DecisionState     `json:"state,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Awaiting 判断消息是否仍在等待用户决定。
func (m ChatMessage) Awaiting() bool {
	return m.State == StateAwaitingDecision
}

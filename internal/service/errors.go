package service

import (
	"recetario-go/pkg/apperr"
)

// 用户操作，用于拼接“<操作>失败”提示。
const (
	ActionLoad    = "加载食谱"
	ActionSave    = "保存食谱"
	ActionDelete  = "删除食谱"
	ActionSearch  = "搜索食谱"
	ActionChat    = "发送消息"
	ActionDecide  = "处理建议"
	ActionHistory = "加载会话"
)

// MsgPermissionDenied 是存储后端的访问策略拒绝请求时展示给用户的提示。
const MsgPermissionDenied = "操作被后端存储的访问策略拒绝，请检查存储权限配置"

// UserMessage 把错误转换为展示给用户的提示。
// 权限错误有单独的提示；校验错误直接展示原因；其他错误统一为“<操作>失败”并附带底层信息。
func UserMessage(action string, err error) string {
	if err == nil {
		return ""
	}
	switch apperr.KindOf(err) {
	case apperr.KindPermissionDenied:
		return MsgPermissionDenied
	case apperr.KindValidation:
		if msg := apperr.Message(err); msg != "" {
			return msg
		}
	}
	return action + "失败: " + detail(err)
}

// detail 优先使用错误链中面向用户的描述，没有时退回到错误本身。
func detail(err error) string {
	if msg := apperr.Message(err); msg != "" {
		return msg
	}
	return err.Error()
}

// Package apperr 定义了应用内统一的错误类别，替代基于字符串匹配的错误判断。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 表示错误类别。
type Kind int

const (
	// KindInternal 未分类的内部错误。
	KindInternal Kind = iota
	// KindValidation 用户输入缺失或非法，在任何网络调用之前拦截。
	KindValidation
	// KindStoreUnavailable 存储后端不可达或返回了传输层错误。
	KindStoreUnavailable
	// KindPermissionDenied 存储后端的访问策略拒绝了请求。
	KindPermissionDenied
	// KindNotFound 目标记录不存在。
	KindNotFound
	// KindSuggestionFailed 食谱建议生成失败（传输、解析或校验）。
	KindSuggestionFailed
	// KindImageGenerationFailed 配图生成失败。
	KindImageGenerationFailed
	// KindFallbackExhausted 所有图片来源均失败，非致命。
	KindFallbackExhausted
)

var kindNames = map[Kind]string{
	KindInternal:              "INTERNAL",
	KindValidation:            "VALIDATION_FAILED",
	KindStoreUnavailable:      "STORE_UNAVAILABLE",
	KindPermissionDenied:      "PERMISSION_DENIED",
	KindNotFound:              "NOT_FOUND",
	KindSuggestionFailed:      "SUGGESTION_FAILED",
	KindImageGenerationFailed: "IMAGE_GENERATION_FAILED",
	KindFallbackExhausted:     "FALLBACK_EXHAUSTED",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// StatusCode 返回该类别对应的 HTTP 状态码。
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case KindSuggestionFailed, KindImageGenerationFailed, KindFallbackExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error 是携带类别信息的错误。
type Error struct {
	Kind Kind
	Op   string // 发生错误的操作，例如 "repository.Create"
	Msg  string // 可直接展示给用户的描述，可为空
	Err  error  // 底层错误
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建一个不带底层错误的分类错误。
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap 用指定类别包装底层错误。err 为 nil 时返回 nil。
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf 与 Wrap 相同，但附带用户可读的描述。
func Wrapf(kind Kind, op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf 返回错误链中第一个 *Error 的类别，没有则返回 KindInternal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is 判断错误链中是否包含指定类别的错误。
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Message 返回错误链中第一个非空的用户描述。
func Message(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Msg != "" {
			return e.Msg
		}
		err = e.Err
	}
	return ""
}

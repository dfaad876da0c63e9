package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误分类（决定重试策略与 HTTP 状态码）
type Kind string

const (
	KindValidation       Kind = "VALIDATION"         // 输入不完整/不合法，不可重试
	KindTemplateNotFound Kind = "TEMPLATE_NOT_FOUND" // 配置/数据错误，不可重试，需运营修复
	KindGeneration       Kind = "GENERATION"         // 鉴定文本生成失败（外部 LLM），可重试
	KindRender           Kind = "RENDER"             // PDF 渲染失败，可重试
	KindDelivery         Kind = "DELIVERY"           // 邮件投递失败，可重试
	KindNotFound         Kind = "NOT_FOUND"          // 注文不存在，不可重试
	KindAlreadyExists    Kind = "ALREADY_EXISTS"     // 重复创建（幂等守卫）
	KindInternal         Kind = "INTERNAL"           // 其他内部错误
)

// Error 业务错误结构（包含可重试标记）
type Error struct {
	Kind      Kind   `json:"kind"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 暴露底层错误（支持 errors.Is/As）
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation 创建输入校验错误
func Validation(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// TemplateNotFound 创建模板缺失错误
func TemplateNotFound(fortuneType string) *Error {
	return &Error{
		Kind:    KindTemplateNotFound,
		Code:    http.StatusInternalServerError,
		Message: fmt.Sprintf("prompt template not found for fortune type: %s", fortuneType),
	}
}

// Generation 创建文本生成错误（可重试）
func Generation(message string, cause error) *Error {
	return &Error{
		Kind:      KindGeneration,
		Code:      http.StatusInternalServerError,
		Message:   message,
		Retryable: true,
		Err:       cause,
	}
}

// Render 创建文档渲染错误（可重试）
func Render(message string, cause error) *Error {
	return &Error{
		Kind:      KindRender,
		Code:      http.StatusInternalServerError,
		Message:   message,
		Retryable: true,
		Err:       cause,
	}
}

// Delivery 创建邮件投递错误（可重试）
func Delivery(message string, cause error) *Error {
	return &Error{
		Kind:      KindDelivery,
		Code:      http.StatusInternalServerError,
		Message:   message,
		Retryable: true,
		Err:       cause,
	}
}

// NotFound 创建资源不存在错误
func NotFound(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// AlreadyExists 创建重复创建错误
func AlreadyExists(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindAlreadyExists,
		Code:    http.StatusConflict,
		Message: fmt.Sprintf(format, args...),
	}
}

// Internal 创建内部错误
func Internal(message string, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    http.StatusInternalServerError,
		Message: message,
		Err:     cause,
	}
}

// KindOf 获取错误分类（非 Error 类型归为 INTERNAL）
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否为指定分类
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable 判断错误是否可重试
// 只有 GENERATION/RENDER/DELIVERY 可重试，VALIDATION/NOT_FOUND 永不重试
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// HTTPStatus 获取错误对应的 HTTP 状态码
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return http.StatusInternalServerError
}

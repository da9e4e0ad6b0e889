package common

import (
	"errors"
	"fmt"
)

// AppError 应用级错误结构
// Title 和 Message 面向展示层，展示层不需要解析 Err 就能渲染
type AppError struct {
	Code    string
	Title   string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，配合下面的哨兵错误使用 errors.Is
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WrapError 包装错误
func WrapError(code, message string, err error) error {
	return &AppError{
		Code:    code,
		Title:   titleFor(code),
		Message: message,
		Err:     err,
	}
}

// NewError 创建新错误
func NewError(code, message string) error {
	return &AppError{
		Code:    code,
		Title:   titleFor(code),
		Message: message,
	}
}

// 错误码常量
const (
	ErrCodeRateLimited             = "RATE_LIMITED"
	ErrCodeAccountNotFound         = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidAPIToken         = "INVALID_API_TOKEN"
	ErrCodeServiceNotSupported     = "SERVICE_NOT_SUPPORTED"
	ErrCodeRepositoryNotFound      = "REPOSITORY_NOT_FOUND"
	ErrCodeScorecardNotFound       = "SCORECARD_NOT_FOUND"
	ErrCodeMinimumAccountViolation = "MINIMUM_ACCOUNT_VIOLATION"
	ErrCodeDuplicateAccount        = "DUPLICATE_ACCOUNT"
	ErrCodeDatabase                = "DATABASE_ERROR"
	ErrCodeNotification            = "NOTIFICATION_ERROR"
	ErrCodeInvalidInput            = "INVALID_INPUT"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

var titles = map[string]string{
	ErrCodeRateLimited:             "请求过于频繁",
	ErrCodeAccountNotFound:         "账号不存在",
	ErrCodeInvalidAPIToken:         "API Token 无效",
	ErrCodeServiceNotSupported:     "不支持的平台",
	ErrCodeRepositoryNotFound:      "仓库不存在",
	ErrCodeScorecardNotFound:       "没有 Scorecard",
	ErrCodeMinimumAccountViolation: "无法删除账号",
	ErrCodeDuplicateAccount:        "账号已存在",
	ErrCodeDatabase:                "数据库错误",
	ErrCodeNotification:            "推送失败",
	ErrCodeInvalidInput:            "参数错误",
	ErrCodeInternal:                "内部错误",
}

func titleFor(code string) string {
	if title, ok := titles[code]; ok {
		return title
	}
	return "错误"
}

// 哨兵错误，只用于 errors.Is 比较
var (
	ErrRateLimited             = &AppError{Code: ErrCodeRateLimited}
	ErrAccountNotFound         = &AppError{Code: ErrCodeAccountNotFound}
	ErrInvalidAPIToken         = &AppError{Code: ErrCodeInvalidAPIToken}
	ErrServiceNotSupported     = &AppError{Code: ErrCodeServiceNotSupported}
	ErrRepositoryNotFound      = &AppError{Code: ErrCodeRepositoryNotFound}
	ErrScorecardNotFound       = &AppError{Code: ErrCodeScorecardNotFound}
	ErrMinimumAccountViolation = &AppError{Code: ErrCodeMinimumAccountViolation}
	ErrDuplicateAccount        = &AppError{Code: ErrCodeDuplicateAccount}
	ErrInvalidInput            = &AppError{Code: ErrCodeInvalidInput}
)

// RateLimited 平台限流 (HTTP 429 / 403)
func RateLimited(service string, err error) error {
	return WrapError(ErrCodeRateLimited,
		fmt.Sprintf("%s API 调用次数已达上限，请配置 API Token 或稍后再试", service), err)
}

// AccountNotFound 平台上找不到该账号 (HTTP 404)
func AccountNotFound(service, tag string, err error) error {
	return WrapError(ErrCodeAccountNotFound,
		fmt.Sprintf("在 %s 上找不到账号 %q", service, tag), err)
}

// InvalidAPIToken 平台拒绝了 Token (HTTP 401)
func InvalidAPIToken(service string, err error) error {
	return WrapError(ErrCodeInvalidAPIToken,
		fmt.Sprintf("%s 拒绝了配置的 API Token", service), err)
}

// ServiceNotSupported 未知的平台标识
func ServiceNotSupported(service string) error {
	return NewError(ErrCodeServiceNotSupported,
		fmt.Sprintf("不支持的平台 %q，可选值: github, gitlab", service))
}

// RepositoryNotFound 当前账号下没有该仓库
func RepositoryNotFound(repo string) error {
	return NewError(ErrCodeRepositoryNotFound,
		fmt.Sprintf("当前账号下找不到仓库 %q", repo))
}

// ScorecardNotFound 仓库没有 scorecard
func ScorecardNotFound(repo string, err error) error {
	return WrapError(ErrCodeScorecardNotFound,
		fmt.Sprintf("仓库 %s 没有 OpenSSF Scorecard", repo), err)
}

// MinimumAccountViolation 不能删除最后一个账号
func MinimumAccountViolation() error {
	return NewError(ErrCodeMinimumAccountViolation, "至少需要保留一个关注的账号")
}

// DuplicateAccount 账号已经在关注列表中
func DuplicateAccount(service, tag string) error {
	return NewError(ErrCodeDuplicateAccount,
		fmt.Sprintf("已经关注了 %s 账号 %q", service, tag))
}

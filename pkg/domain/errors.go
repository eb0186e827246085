package domain

import (
	"errors"
	"fmt"
)

// 拦截与等待子系统的错误分类。调用方使用 errors.Is / errors.As 判别。
var (
	// ErrInterceptionNotEnabled 请求创建时拦截未启用，终结操作被拒绝
	ErrInterceptionNotEnabled = errors.New("interception not enabled")

	// ErrAlreadyHandled 同一请求的第二次终结操作
	ErrAlreadyHandled = errors.New("request already handled")

	// ErrFrameDetached 目标框架已在等待完成前分离
	ErrFrameDetached = errors.New("frame detached")

	// ErrWatchTimeout 等待在期限内未满足
	ErrWatchTimeout = errors.New("wait timeout")

	// ErrNavigationTimeout 导航在期限内未完成
	ErrNavigationTimeout = errors.New("navigation timeout")

	// ErrRedirectOverride 对重定向跳转请求携带覆盖参数放行（行为未定义，保守拒绝）
	ErrRedirectOverride = errors.New("cannot apply overrides to a redirected request")
)

// EvaluationError 页面内谓词求值失败
type EvaluationError struct {
	Message string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed: %s", e.Message)
}

// NavigationError 导航失败，携带底层网络错误码
type NavigationError struct {
	URL  string
	Code string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %s", e.URL, e.Code)
}

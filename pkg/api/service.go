// Package api 定义对外服务接口
package api

import (
	"context"
	"time"

	"cdpdriver/internal/dom"
	"cdpdriver/internal/intercept"
	"cdpdriver/internal/logger"
	"cdpdriver/internal/rules"
	"cdpdriver/internal/service"
	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// Service 服务接口
type Service interface {
	// StartSession 连接 DevTools 目标并启动会话
	StartSession(ctx context.Context, cfg domain.SessionConfig) (domain.SessionID, error)

	// StopSession 停止会话
	StopSession(id domain.SessionID) error

	// EnableInterception 启用拦截
	EnableInterception(ctx context.Context, id domain.SessionID) error

	// DisableInterception 禁用拦截
	DisableInterception(ctx context.Context, id domain.SessionID) error

	// OnRequest 注册请求处理器
	OnRequest(id domain.SessionID, h intercept.Handler) (domain.HandlerID, error)

	// RemoveHandler 注销请求处理器
	RemoveHandler(id domain.SessionID, hid domain.HandlerID) error

	// SetExtraHTTPHeaders 设置页面级附加头部
	SetExtraHTTPHeaders(id domain.SessionID, headers map[string]string) error

	// LoadRules 加载规则集
	LoadRules(id domain.SessionID, rs rules.RuleSet) error

	// RuleStats 获取规则统计信息
	RuleStats(id domain.SessionID) (rules.Stats, error)

	// SubscribeEvents 订阅拦截事件流
	SubscribeEvents(id domain.SessionID) (<-chan domain.InterceptEvent, func(), error)

	// Goto 导航主框架
	Goto(ctx context.Context, id domain.SessionID, url string, timeout time.Duration) (*traffic.Response, error)

	// WaitForSelector 在主框架上等待选择器
	WaitForSelector(ctx context.Context, id domain.SessionID, selector string, opts dom.WaitOptions) (*domain.ElementHandle, error)
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger) Service {
	return service.New(l)
}

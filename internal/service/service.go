// Package service 对外服务门面：管理会话生命周期，
// 并把拦截、规则、导航与选择器等待的能力按会话聚合暴露。
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdpdriver/internal/adapter/cdp"
	"cdpdriver/internal/dom"
	"cdpdriver/internal/intercept"
	"cdpdriver/internal/logger"
	"cdpdriver/internal/rules"
	"cdpdriver/internal/session"
	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// Service 服务实现
type Service struct {
	log      logger.Logger
	sessions *session.Manager

	mu    sync.Mutex
	rules map[domain.SessionID]*ruleBinding
}

type ruleBinding struct {
	engine  *rules.Engine
	handler domain.HandlerID
}

// New 创建服务
func New(l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{
		log:      l,
		sessions: session.NewManager(l),
		rules:    make(map[domain.SessionID]*ruleBinding),
	}
}

// StartSession 连接 DevTools 目标并启动会话
func (s *Service) StartSession(ctx context.Context, cfg domain.SessionConfig) (domain.SessionID, error) {
	driver := cdp.Dial(cfg.DevToolsURL, s.log)
	if err := driver.Attach(ctx, ""); err != nil {
		return "", fmt.Errorf("attach target: %w", err)
	}
	sess := s.sessions.Create(cfg, driver)
	if err := sess.Start(ctx); err != nil {
		s.sessions.Delete(sess.ID())
		return "", fmt.Errorf("start session: %w", err)
	}
	return sess.ID(), nil
}

// StopSession 停止并销毁会话
func (s *Service) StopSession(id domain.SessionID) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.mu.Lock()
	delete(s.rules, id)
	s.mu.Unlock()
	err := sess.Close()
	s.sessions.Delete(id)
	return err
}

// EnableInterception 启用请求拦截
func (s *Service) EnableInterception(ctx context.Context, id domain.SessionID) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	return sess.SetInterception(ctx, true)
}

// DisableInterception 禁用请求拦截
func (s *Service) DisableInterception(ctx context.Context, id domain.SessionID) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	return sess.SetInterception(ctx, false)
}

// OnRequest 注册请求处理器
func (s *Service) OnRequest(id domain.SessionID, h intercept.Handler) (domain.HandlerID, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return 0, fmt.Errorf("session %s not found", id)
	}
	return sess.OnRequest(h), nil
}

// RemoveHandler 注销请求处理器
func (s *Service) RemoveHandler(id domain.SessionID, hid domain.HandlerID) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	if !sess.RemoveHandler(hid) {
		return fmt.Errorf("handler %d not found", hid)
	}
	return nil
}

// SetExtraHTTPHeaders 设置页面级附加头部
func (s *Service) SetExtraHTTPHeaders(id domain.SessionID, headers map[string]string) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	sess.SetExtraHTTPHeaders(headers)
	return nil
}

// LoadRules 加载（整体替换）会话的声明式规则集
func (s *Service) LoadRules(id domain.SessionID, rs rules.RuleSet) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.rules[id]; ok {
		b.engine.Update(rs)
		return nil
	}
	engine := rules.New(rs)
	hid := sess.OnRequest(rules.ToHandler(engine, s.log))
	s.rules[id] = &ruleBinding{engine: engine, handler: hid}
	return nil
}

// RuleStats 返回会话规则命中统计
func (s *Service) RuleStats(id domain.SessionID) (rules.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rules[id]
	if !ok {
		return rules.Stats{}, fmt.Errorf("session %s has no rules", id)
	}
	return b.engine.Stats(), nil
}

// SubscribeEvents 订阅拦截事件流
func (s *Service) SubscribeEvents(id domain.SessionID) (<-chan domain.InterceptEvent, func(), error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("session %s not found", id)
	}
	ch, cancel := sess.SubscribeEvents()
	return ch, cancel, nil
}

// Goto 导航会话主框架并等待文档请求终结
func (s *Service) Goto(ctx context.Context, id domain.SessionID, url string, timeout time.Duration) (*traffic.Response, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return sess.Goto(ctx, url, timeout)
}

// WaitForSelector 在会话主框架上等待选择器
func (s *Service) WaitForSelector(ctx context.Context, id domain.SessionID, selector string, opts dom.WaitOptions) (*domain.ElementHandle, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return sess.WaitForSelector(ctx, selector, opts)
}

// Session 返回底层会话，供需要框架级操作的调用方使用
func (s *Service) Session(id domain.SessionID) (*session.Session, bool) {
	return s.sessions.Get(id)
}

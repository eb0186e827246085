// Package session 组装单页面的全部子系统：框架树、网络事件源、
// 拦截控制器、变更观察、选择器等待与导航驱动。
package session

import (
	"context"
	"sync"
	"time"

	"cdpdriver/internal/ctxkeys"
	"cdpdriver/internal/dom"
	"cdpdriver/internal/frames"
	"cdpdriver/internal/intercept"
	"cdpdriver/internal/logger"
	"cdpdriver/internal/nav"
	"cdpdriver/internal/netsource"
	"cdpdriver/internal/watch"
	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// Driver 页面底座：由 CDP 适配器或测试桩实现。
// 负责终结操作的传输回放、导航原语，以及向事件总线泵入网络事件。
type Driver interface {
	MainFrameID() domain.FrameID
	Transport() intercept.Transport
	Navigate(ctx context.Context, f *frames.Frame, url string) error
	// Start 开始把底层事件泵入总线并维护框架树
	Start(ctx context.Context, bus *netsource.Bus, tree *frames.Tree) error
	Close() error
}

// Session 单页面会话
type Session struct {
	id     domain.SessionID
	driver Driver
	log    logger.Logger

	tree      *frames.Tree
	bus       *netsource.Bus
	intercept *intercept.Manager
	selector  *dom.Engine
	navigator *nav.Navigator

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New 创建会话并装配子系统
func New(id domain.SessionID, cfg domain.SessionConfig, driver Driver, l logger.Logger) *Session {
	if l == nil {
		l = logger.NewNop()
	}
	l = l.With("session", string(id))

	tree := frames.NewTree(driver.MainFrameID(), l)
	mgr := intercept.NewManager(intercept.Config{
		Transport:      driver.Transport(),
		Tree:           tree,
		ProcessTimeout: time.Duration(cfg.ProcessTimeoutMS) * time.Millisecond,
		Logger:         l,
	})
	watcher := watch.NewWatcher(l)
	selector := dom.NewEngine(watcher, time.Duration(cfg.WaitTimeoutMS)*time.Millisecond, l)
	navigator := nav.New(mgr, driver.Navigate, time.Duration(cfg.NavTimeoutMS)*time.Millisecond, l)

	return &Session{
		id:        id,
		driver:    driver,
		log:       l,
		tree:      tree,
		bus:       netsource.NewBus(0),
		intercept: mgr,
		selector:  selector,
		navigator: navigator,
	}
}

// ID 返回会话标识
func (s *Session) ID() domain.SessionID { return s.id }

// Tree 返回框架树
func (s *Session) Tree() *frames.Tree { return s.tree }

// Intercept 返回拦截控制器
func (s *Session) Intercept() *intercept.Manager { return s.intercept }

// Start 启动事件泵与控制器消费
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	// 处理器经由分发上下文可取回所属会话
	runCtx, cancel := context.WithCancel(context.WithValue(ctx, ctxkeys.SessionIDKey{}, s.id))
	if err := s.driver.Start(runCtx, s.bus, s.tree); err != nil {
		cancel()
		return err
	}
	go s.intercept.Run(runCtx, s.bus)
	s.cancel = cancel
	s.started = true
	s.log.Info("会话已启动")
	return nil
}

// SetInterception 启停拦截
func (s *Session) SetInterception(ctx context.Context, enabled bool) error {
	return s.intercept.SetEnabled(ctx, enabled)
}

// OnRequest 注册请求处理器
func (s *Session) OnRequest(h intercept.Handler) domain.HandlerID {
	return s.intercept.OnRequest(h)
}

// RemoveHandler 注销请求处理器
func (s *Session) RemoveHandler(id domain.HandlerID) bool {
	return s.intercept.RemoveHandler(id)
}

// SetExtraHTTPHeaders 设置页面级附加头部
func (s *Session) SetExtraHTTPHeaders(h map[string]string) {
	s.intercept.SetExtraHTTPHeaders(h)
}

// SubscribeEvents 订阅拦截事件流
func (s *Session) SubscribeEvents() (<-chan domain.InterceptEvent, func()) {
	return s.intercept.Subscribe()
}

// Goto 导航主框架
func (s *Session) Goto(ctx context.Context, url string, timeout time.Duration) (*traffic.Response, error) {
	return s.navigator.GoTo(ctx, s.tree.MainFrame(), url, timeout)
}

// GotoFrame 导航指定框架
func (s *Session) GotoFrame(ctx context.Context, f *frames.Frame, url string, timeout time.Duration) (*traffic.Response, error) {
	return s.navigator.GoTo(ctx, f, url, timeout)
}

// WaitForSelector 在主框架上等待选择器。页面级等待与主框架等待同义。
func (s *Session) WaitForSelector(ctx context.Context, selector string, opts dom.WaitOptions) (*domain.ElementHandle, error) {
	return s.selector.WaitForSelector(ctx, s.tree.MainFrame(), selector, opts)
}

// WaitForSelectorIn 在指定框架上等待选择器
func (s *Session) WaitForSelectorIn(ctx context.Context, f *frames.Frame, selector string, opts dom.WaitOptions) (*domain.ElementHandle, error) {
	return s.selector.WaitForSelector(ctx, f, selector, opts)
}

// DetachFrame 分离框架子树：取消其名下全部挂起等待，并清理挂账请求
func (s *Session) DetachFrame(id domain.FrameID) error {
	if err := s.tree.Detach(id); err != nil {
		return err
	}
	s.intercept.PruneFrame(id)
	return nil
}

// Close 停止会话并释放底座
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.bus.Close()
	s.started = false
	s.log.Info("会话已关闭")
	return s.driver.Close()
}

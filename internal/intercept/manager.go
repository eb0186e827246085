// Package intercept 实现请求拦截控制器：消费网络事件源，
// 为每个事件构造可拦截的 Request 实体，分发给客户端注册的处理器，
// 并向传输层回放 Continue / Abort / Respond 终结操作。
package intercept

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdpdriver/internal/frames"
	"cdpdriver/internal/logger"
	"cdpdriver/internal/netsource"
	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// Handler 客户端注册的请求处理器。处理器之间并发触发、互不等待；
// 控制器保证同一请求只有第一个终结操作生效。
type Handler func(ctx context.Context, req *Intercepted)

// ContinueDirective 放行指令：终结裁决后交给传输层的最终画面。
// Headers 为 nil 表示头部未被修改。
type ContinueDirective struct {
	URL      *string
	Method   *string
	Headers  traffic.Header
	PostData []byte
}

// Transport 底层传输回放接口，由 CDP 适配器或测试桩实现
type Transport interface {
	SetEnabled(ctx context.Context, enabled bool) error
	ContinueRequest(ctx context.Context, id domain.RequestID, d *ContinueDirective) error
	FailRequest(ctx context.Context, id domain.RequestID, reason domain.AbortReason) error
	FulfillRequest(ctx context.Context, id domain.RequestID, mock *traffic.MockResponse) error
}

type handlerSlot struct {
	id domain.HandlerID
	fn Handler
}

// Manager 拦截控制器
type Manager struct {
	mu       sync.Mutex
	enabled  bool
	extra    traffic.Header
	handlers []handlerSlot
	nextID   domain.HandlerID

	// registry 拦截ID → Request，是处理器并发调用间唯一的共享可变结构
	registry map[domain.RequestID]*traffic.Request

	subsMu sync.Mutex
	subs   map[int64]chan domain.InterceptEvent
	nextSb int64

	transport      Transport
	tree           *frames.Tree
	processTimeout time.Duration
	log            logger.Logger
}

// Config 控制器配置
type Config struct {
	Transport Transport
	Tree      *frames.Tree
	// ProcessTimeout 单个处理器分发的最长时限；零值不设限，
	// 允许处理器跨请求相互协调时长时间挂起。
	ProcessTimeout time.Duration
	Logger         logger.Logger
}

// NewManager 创建拦截控制器
func NewManager(cfg Config) *Manager {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		extra:          make(traffic.Header),
		registry:       make(map[domain.RequestID]*traffic.Request),
		subs:           make(map[int64]chan domain.InterceptEvent),
		transport:      cfg.Transport,
		tree:           cfg.Tree,
		processTimeout: cfg.ProcessTimeout,
		log:            l,
	}
}

// SetEnabled 启停拦截。幂等：状态未变化时不触达传输层。
// 停用不会取消已分发的在途请求，只影响其后创建的请求。
func (m *Manager) SetEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	if m.enabled == enabled {
		m.mu.Unlock()
		return nil
	}
	m.enabled = enabled
	m.mu.Unlock()

	if m.transport != nil {
		if err := m.transport.SetEnabled(ctx, enabled); err != nil {
			return fmt.Errorf("set interception %v: %w", enabled, err)
		}
	}
	m.log.Info("拦截开关变更", "enabled", enabled)
	return nil
}

// Enabled 返回当前开关状态
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// SetExtraHTTPHeaders 设置页面级附加头部，合并进其后每个发出的请求。
// 优先级低于 Continue 的按次覆盖，高于原始头部。
func (m *Manager) SetExtraHTTPHeaders(h map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extra = make(traffic.Header, len(h))
	m.extra.Merge(h)
}

// OnRequest 注册请求处理器，按注册顺序排列
func (m *Manager) OnRequest(h Handler) domain.HandlerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.handlers = append(m.handlers, handlerSlot{id: id, fn: h})
	return id
}

// RemoveHandler 注销处理器。处理器可在自身执行期间注销自己：
// 分发迭代发生在注册表的稳定快照上，不受中途移除影响。
func (m *Manager) RemoveHandler(id domain.HandlerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.handlers {
		if s.id == id {
			m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// RequestByID 按拦截标识查找请求
func (m *Manager) RequestByID(id domain.RequestID) (*traffic.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registry[id]
	return r, ok
}

// Subscribe 订阅拦截事件流。通道缓冲有限，消费不及时会丢弃并告警。
func (m *Manager) Subscribe() (<-chan domain.InterceptEvent, func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextSb
	m.nextSb++
	ch := make(chan domain.InterceptEvent, 512)
	m.subs[id] = ch
	cancel := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.subs, id)
	}
	return ch, cancel
}

func (m *Manager) publish(evt domain.InterceptEvent) {
	evt.Timestamp = time.Now().UnixMilli()
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- evt:
		default:
			m.log.Warn("事件订阅者消费滞后，丢弃事件", "type", string(evt.Type), "request", string(evt.Request))
		}
	}
}

// Run 持续消费事件源直到总线关闭或上下文取消
func (m *Manager) Run(ctx context.Context, bus *netsource.Bus) {
	m.log.Info("开始消费网络事件流")
	for {
		select {
		case ev, ok := <-bus.Events():
			if !ok {
				m.log.Info("网络事件流已关闭")
				return
			}
			m.handleEvent(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev netsource.Event) {
	switch e := ev.(type) {
	case netsource.RequestWillBeSent:
		m.onWillBeSent(ctx, e)
	case netsource.ResponseReceived:
		m.onResponse(e)
	case netsource.LoadingFailed:
		m.onFailed(e)
	default:
		m.log.Warn("未知网络事件类型")
	}
}

// onWillBeSent 构造 Request 实体并分发
func (m *Manager) onWillBeSent(ctx context.Context, ev netsource.RequestWillBeSent) {
	req := traffic.NewRequest()
	req.ID = ev.ID
	req.URL = ev.URL
	req.Method = ev.Method
	req.PostData = ev.PostData
	req.ResourceType = ev.ResourceType
	req.FrameID = ev.FrameID
	req.Headers.Merge(ev.Headers)

	m.mu.Lock()
	if ev.RedirectsFromID != "" {
		if prev, ok := m.registry[ev.RedirectsFromID]; ok {
			chain := make([]*traffic.Request, 0, len(prev.RedirectChain)+1)
			chain = append(chain, prev.RedirectChain...)
			chain = append(chain, prev)
			req.RedirectChain = chain
			// 资源类型在整条重定向链上保持首跳的分类
			req.ResourceType = chain[0].ResourceType
		}
	}
	req.InterceptionEnabled = m.enabled
	m.registry[req.ID] = req
	snapshot := make([]handlerSlot, len(m.handlers))
	copy(snapshot, m.handlers)
	m.mu.Unlock()

	m.publish(domain.InterceptEvent{
		Type:         domain.EventRequestWillBeSent,
		Request:      req.ID,
		Frame:        req.FrameID,
		URL:          req.URL,
		Method:       req.Method,
		ResourceType: req.ResourceType,
		RedirectFrom: ev.RedirectsFromID,
	})

	if !req.InterceptionEnabled {
		// 拦截未启用：请求不经暂停直接流过，处理器不参与
		return
	}
	if len(snapshot) == 0 {
		// 无处理器时降级放行，避免请求悬挂在暂停态
		m.log.Warn("拦截已启用但无处理器，直接放行", "request", string(req.ID), "url", req.URL)
		if err := m.Continue(ctx, req, nil); err != nil {
			m.log.Err(err, "降级放行失败", "request", string(req.ID))
		}
		return
	}
	m.dispatch(ctx, req, snapshot)
}

// dispatch 在稳定快照上并发触发全部处理器
func (m *Manager) dispatch(ctx context.Context, req *traffic.Request, snapshot []handlerSlot) {
	dctx := ctx
	var cancel context.CancelFunc
	if m.processTimeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, m.processTimeout)
	}

	ireq := &Intercepted{Request: req, mgr: m}
	var wg sync.WaitGroup
	for _, slot := range snapshot {
		wg.Add(1)
		fn := slot.fn
		go func() {
			defer wg.Done()
			fn(dctx, ireq)
		}()
	}
	go func() {
		wg.Wait()
		if cancel != nil {
			cancel()
		}
	}()
}

// onResponse 挂载响应并发布事件
func (m *Manager) onResponse(ev netsource.ResponseReceived) {
	m.mu.Lock()
	req, ok := m.registry[ev.ID]
	m.mu.Unlock()
	if !ok {
		m.log.Debug("响应事件找不到对应请求", "request", string(ev.ID))
		return
	}

	res := traffic.NewResponse()
	res.StatusCode = ev.StatusCode
	res.URL = ev.URL
	if res.URL == "" {
		res.URL = req.URL
	}
	res.Headers.Merge(ev.Headers)
	req.SetResponse(res)

	m.publish(domain.InterceptEvent{
		Type:         domain.EventResponseReceived,
		Request:      req.ID,
		Frame:        req.FrameID,
		URL:          res.URL,
		Method:       req.Method,
		ResourceType: req.ResourceType,
		StatusCode:   res.StatusCode,
	})
}

// onFailed 记录底层失败并发布请求失败通知
func (m *Manager) onFailed(ev netsource.LoadingFailed) {
	m.mu.Lock()
	req, ok := m.registry[ev.ID]
	m.mu.Unlock()
	if !ok {
		m.log.Debug("失败事件找不到对应请求", "request", string(ev.ID))
		return
	}
	req.SetFailure(ev.ErrorText)

	m.publish(domain.InterceptEvent{
		Type:         domain.EventRequestFailed,
		Request:      req.ID,
		Frame:        req.FrameID,
		URL:          req.URL,
		Method:       req.Method,
		ResourceType: req.ResourceType,
		ErrorCode:    ev.ErrorText,
	})
}

// PruneFrame 框架拆除后清理其名下仍挂账的请求
func (m *Manager) PruneFrame(id domain.FrameID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for rid, req := range m.registry {
		if req.FrameID == id {
			delete(m.registry, rid)
		}
	}
}

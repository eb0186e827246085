// Package dom 实现选择器等待引擎：把 (选择器, 可见性模式, 超时)
// 翻译为变更观察原语的一次调用。
package dom

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cdpdriver/internal/frames"
	"cdpdriver/internal/logger"
	"cdpdriver/internal/watch"
	"cdpdriver/pkg/domain"
)

// selectorPredicate 页面内求值的谓词：查询选择器并按模式检查可见性。
// 返回节点表示带句柄命中，true 表示无节点命中（hidden 模式下节点缺席），
// null 表示未满足。
const selectorPredicate = `(selector, waitForVisible, waitForHidden) => {
	const node = document.querySelector(selector);
	if (!node) {
		return waitForHidden ? true : null;
	}
	if (!waitForVisible && !waitForHidden) {
		return node;
	}
	const style = window.getComputedStyle(node);
	const hasBox = (() => {
		const rect = node.getBoundingClientRect();
		return !!(rect.top || rect.bottom || rect.width || rect.height);
	})();
	const visible = style && style.display !== 'none' && style.visibility !== 'hidden' && hasBox;
	if (waitForVisible) {
		return visible ? node : null;
	}
	return visible ? null : node;
}`

// WaitOptions 选择器等待选项
type WaitOptions struct {
	// Visible 要求节点渲染盒非空且样式可见
	Visible bool
	// Hidden 节点缺席或样式不可见均算满足
	Hidden bool
	// Timeout 为零时使用引擎默认超时
	Timeout time.Duration
}

// Mode 返回选项对应的可见性模式
func (o WaitOptions) Mode() domain.VisibilityMode {
	switch {
	case o.Visible:
		return domain.VisibilityVisible
	case o.Hidden:
		return domain.VisibilityHidden
	default:
		return domain.VisibilityAny
	}
}

// WaitHandle 一次挂起的选择器等待。resolved 与 failed 至多设置其一，
// 完成后不再变化。
type WaitHandle struct {
	ID        string
	Frame     domain.FrameID
	Selector  string
	Mode      domain.VisibilityMode
	CreatedAt time.Time
	Timeout   time.Duration

	inner *watch.Handle
}

// Done 返回完成信号
func (h *WaitHandle) Done() <-chan struct{} { return h.inner.Done() }

// Wait 阻塞直到等待完成或调用方上下文取消
func (h *WaitHandle) Wait(ctx context.Context) (*domain.ElementHandle, error) {
	return h.inner.Wait(ctx)
}

// Pending 判断等待是否仍在挂起
func (h *WaitHandle) Pending() bool {
	_, done := h.inner.Result()
	return !done
}

// Engine 选择器等待引擎
type Engine struct {
	watcher        *watch.Watcher
	defaultTimeout time.Duration
	log            logger.Logger
}

// NewEngine 创建等待引擎
func NewEngine(w *watch.Watcher, defaultTimeout time.Duration, l logger.Logger) *Engine {
	if l == nil {
		l = logger.NewNop()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Engine{watcher: w, defaultTimeout: defaultTimeout, log: l}
}

// WaitForSelectorAsync 发起等待并立即返回句柄
func (e *Engine) WaitForSelectorAsync(ctx context.Context, f *frames.Frame, selector string, opts WaitOptions) (*WaitHandle, error) {
	if selector == "" {
		return nil, fmt.Errorf("wait for selector: empty selector")
	}
	if opts.Visible && opts.Hidden {
		return nil, fmt.Errorf("wait for selector %q: visible and hidden are mutually exclusive", selector)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	args := []any{selector, opts.Visible, opts.Hidden}
	h := &WaitHandle{
		ID:        uuid.NewString(),
		Frame:     f.ID(),
		Selector:  selector,
		Mode:      opts.Mode(),
		CreatedAt: time.Now(),
		Timeout:   timeout,
		inner:     e.watcher.Watch(ctx, f, selectorPredicate, args, timeout),
	}
	e.log.Debug("发起选择器等待", "wait", h.ID, "frame", string(f.ID()), "selector", selector, "mode", h.Mode.String())
	return h, nil
}

// WaitForSelector 阻塞等待选择器满足。hidden 模式下节点缺席时
// 返回的句柄为 nil 且无错误。
func (e *Engine) WaitForSelector(ctx context.Context, f *frames.Frame, selector string, opts WaitOptions) (*domain.ElementHandle, error) {
	h, err := e.WaitForSelectorAsync(ctx, f, selector, opts)
	if err != nil {
		return nil, err
	}
	el, err := h.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for selector %q: %w", selector, err)
	}
	return el, nil
}

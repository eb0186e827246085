// Package watch 实现变更观察原语：在框架执行上下文中反复求值谓词，
// 直到命中、超时、框架分离或求值失败。
package watch

import (
	"context"
	"errors"
	"time"

	"cdpdriver/internal/frames"
	"cdpdriver/internal/logger"
	"cdpdriver/pkg/domain"
)

// Result 观察结果。Handle 与 Err 恰有其一非零。
type Result struct {
	Handle *domain.ElementHandle
	Err    error
}

// Handle 一次进行中的观察。观察自行运行：即使无人等待，
// 也会在命中或失败后自行终止（fire and forget 合法）。
type Handle struct {
	done chan struct{}
	res  Result
}

// Done 返回完成信号
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result 返回观察结果；未完成时返回 pending=false
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.res, true
	default:
		return Result{}, false
	}
}

// Wait 阻塞直到观察完成或调用方上下文取消
func (h *Handle) Wait(ctx context.Context) (*domain.ElementHandle, error) {
	select {
	case <-h.done:
		return h.res.Handle, h.res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) resolve(r Result) {
	h.res = r
	close(h.done)
}

// Watcher 变更观察器
type Watcher struct {
	log logger.Logger
}

// NewWatcher 创建观察器
func NewWatcher(l logger.Logger) *Watcher {
	if l == nil {
		l = logger.NewNop()
	}
	return &Watcher{log: l}
}

// Watch 安装观察：先立即求值一次（零变更即满足的场景），
// 之后在每次文档变更通知上重新求值。timeout 为零表示不设期限。
//
// 失败分类：超时 → domain.ErrWatchTimeout；框架分离或跨文档导航
// 使代际前进 → domain.ErrFrameDetached；谓词求值抛错 → domain.EvaluationError。
func (w *Watcher) Watch(ctx context.Context, f *frames.Frame, predicate string, args []any, timeout time.Duration) *Handle {
	h := &Handle{done: make(chan struct{})}
	go w.run(ctx, f, predicate, args, timeout, h)
	return h
}

func (w *Watcher) run(ctx context.Context, f *frames.Frame, predicate string, args []any, timeout time.Duration, h *Handle) {
	if f.Detached() {
		h.resolve(Result{Err: domain.ErrFrameDetached})
		return
	}

	ec, gen, invalidated := f.Context()
	if ec == nil {
		h.resolve(Result{Err: &domain.EvaluationError{Message: "no execution context"}})
		return
	}

	// 先订阅再求值，避免初次求值与变更通知之间的窗口丢失
	mutations, cancel := f.SubscribeMutations()
	defer cancel()

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	w.log.Debug("安装观察", "frame", string(f.ID()), "gen", gen)

	for {
		matched, hit, err := w.evaluate(ctx, ec, predicate, args)
		if err != nil {
			h.resolve(Result{Err: err})
			return
		}
		if matched {
			// 变更通知与代际失效可能同时就绪：命中落定前复核失效信号，
			// 避免在作废的上下文里求出的结果被当作有效命中
			select {
			case <-invalidated:
				h.resolve(Result{Err: domain.ErrFrameDetached})
				return
			default:
			}
			h.resolve(Result{Handle: hit})
			return
		}

		select {
		case <-mutations:
			// 下一轮求值
		case <-invalidated:
			// 代际前进与分离同等对待
			h.resolve(Result{Err: domain.ErrFrameDetached})
			return
		case <-deadline:
			h.resolve(Result{Err: domain.ErrWatchTimeout})
			return
		case <-ctx.Done():
			h.resolve(Result{Err: ctx.Err()})
			return
		}
	}
}

// evaluate 求值一次谓词并解释返回值：节点句柄为带句柄命中，
// true 为无节点命中（如 hidden 模式下节点缺席），null/false 为未中。
func (w *Watcher) evaluate(ctx context.Context, ec frames.ExecutionContext, predicate string, args []any) (bool, *domain.ElementHandle, error) {
	v, err := ec.Evaluate(ctx, predicate, args...)
	if err != nil {
		var evalErr *domain.EvaluationError
		if errors.As(err, &evalErr) {
			return false, nil, err
		}
		return false, nil, &domain.EvaluationError{Message: err.Error()}
	}
	switch res := v.(type) {
	case nil:
		return false, nil, nil
	case bool:
		return res, nil, nil
	case *domain.ElementHandle:
		return res != nil, res, nil
	case domain.ElementHandle:
		return true, &res, nil
	default:
		w.log.Warn("谓词返回非节点值，视为未命中")
		return false, nil, nil
	}
}

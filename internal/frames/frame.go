// Package frames 维护可导航上下文（框架）树：附加、导航、分离的生命周期，
// 以及框架执行上下文的代际计数。
package frames

import (
	"context"
	"sync"

	"cdpdriver/pkg/domain"
)

// ExecutionContext 框架的脚本求值环境。求值失败以 error 返回，
// 由上层包装为 domain.EvaluationError。
type ExecutionContext interface {
	Evaluate(ctx context.Context, fn string, args ...any) (any, error)
}

// Frame 框架树节点
type Frame struct {
	id domain.FrameID

	mu       sync.RWMutex
	url      string
	parent   *Frame
	children []*Frame
	detached bool

	// gen 执行上下文代际。每次跨文档导航或上下文销毁递增，只增不减。
	gen     uint64
	execCtx ExecutionContext

	// invalidateCh 当前代际的失效信号：导航或分离时关闭并换新
	invalidateCh chan struct{}

	mutSubs map[int64]chan struct{}
	nextSub int64
}

func newFrame(id domain.FrameID, parent *Frame, url string) *Frame {
	return &Frame{
		id:           id,
		url:          url,
		parent:       parent,
		invalidateCh: make(chan struct{}),
		mutSubs:      make(map[int64]chan struct{}),
	}
}

// ID 返回框架标识
func (f *Frame) ID() domain.FrameID { return f.id }

// URL 返回当前文档地址
func (f *Frame) URL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.url
}

// Parent 返回父框架（弱引用），主框架返回 nil
func (f *Frame) Parent() *Frame {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.parent
}

// ChildFrames 返回子框架快照，保持附加顺序
func (f *Frame) ChildFrames() []*Frame {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Frame, len(f.children))
	copy(out, f.children)
	return out
}

// Detached 判断框架是否已分离
func (f *Frame) Detached() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.detached
}

// Generation 返回执行上下文代际
func (f *Frame) Generation() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.gen
}

// Context 返回当前执行上下文、代际号，以及该代际的失效信号。
// 失效信号在跨文档导航和分离时关闭；同文档导航不触发。
func (f *Frame) Context() (ExecutionContext, uint64, <-chan struct{}) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.execCtx, f.gen, f.invalidateCh
}

// SetContext 安装执行上下文但不换代，用于附加后的首次初始化
func (f *Frame) SetContext(ec ExecutionContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCtx = ec
}

// Navigated 记录一次跨文档导航：更新地址、换代并使旧上下文失效
func (f *Frame) Navigated(url string, ec ExecutionContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached {
		return
	}
	f.url = url
	f.execCtx = ec
	f.gen++
	close(f.invalidateCh)
	f.invalidateCh = make(chan struct{})
}

// NavigatedWithinDocument 记录一次同文档导航：仅更新地址，代际不变
func (f *Frame) NavigatedWithinDocument(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached {
		return
	}
	f.url = url
}

// SubscribeMutations 订阅文档变更通知。通知按次合并：
// 订阅通道容量为 1，密集变更只保证至少一次触发。
func (f *Frame) SubscribeMutations() (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan struct{}, 1)
	f.mutSubs[id] = ch
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.mutSubs, id)
	}
	return ch, cancel
}

// NotifyMutation 广播一次文档变更通知
func (f *Frame) NotifyMutation() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.mutSubs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// detach 标记分离：清空子框架、换代并关闭失效信号。
// 调用方负责先分离全部子框架，保证已分离框架没有子节点。
func (f *Frame) detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached {
		return
	}
	f.detached = true
	f.children = nil
	f.execCtx = nil
	f.gen++
	close(f.invalidateCh)
	f.invalidateCh = make(chan struct{})
}

func (f *Frame) addChild(child *Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children = append(f.children, child)
}

func (f *Frame) removeChild(child *Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.children {
		if c == child {
			f.children = append(f.children[:i], f.children[i+1:]...)
			return
		}
	}
}

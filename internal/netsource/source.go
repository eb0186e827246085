// Package netsource 定义网络事件源：按页面串行发布
// request-will-be-sent / response-received / loading-failed 三类事件。
package netsource

import (
	"sync"

	"cdpdriver/pkg/domain"
)

// Event 网络事件。三种实现：RequestWillBeSent、ResponseReceived、LoadingFailed。
type Event interface {
	// RequestID 返回事件关联的拦截标识
	RequestID() domain.RequestID
}

// RequestWillBeSent 请求即将发出
type RequestWillBeSent struct {
	ID           domain.RequestID
	URL          string
	Method       string
	Headers      map[string]string
	PostData     []byte
	ResourceType domain.ResourceType
	FrameID      domain.FrameID

	// RedirectsFromID 非空时表示本事件是同一导航内的重定向延续
	RedirectsFromID domain.RequestID
}

func (e RequestWillBeSent) RequestID() domain.RequestID { return e.ID }

// ResponseReceived 响应已接收
type ResponseReceived struct {
	ID         domain.RequestID
	StatusCode int
	Headers    map[string]string
	URL        string
}

func (e ResponseReceived) RequestID() domain.RequestID { return e.ID }

// LoadingFailed 加载失败
type LoadingFailed struct {
	ID        domain.RequestID
	ErrorText string
	Canceled  bool
}

func (e LoadingFailed) RequestID() domain.RequestID { return e.ID }

// Bus 单页面事件总线。发布端串行写入，消费端从 Events 通道顺序读取，
// 事件间的相对顺序与发布顺序一致。
type Bus struct {
	mu     sync.Mutex
	ch     chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewBus 创建事件总线
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// Publish 发布事件。总线关闭后发布被丢弃并返回 false；
// 缓冲已满时若关闭先行到达，阻塞中的发布同样放弃并返回 false。
// 发送不持有互斥锁，缓冲满载的发布不会拖住 Close。
func (b *Bus) Publish(ev Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	select {
	case b.ch <- ev:
		return true
	case <-b.done:
		return false
	}
}

// Events 返回消费通道
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close 关闭总线，消费端在读尽剩余事件后感知关闭。
// 先唤醒所有阻塞中的发布端，待其全部退出再关闭消费通道。
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	close(b.ch)
}

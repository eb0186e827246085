package netsource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpdriver/pkg/domain"
)

func TestBusPreservesOrder(t *testing.T) {
	bus := NewBus(8)

	bus.Publish(RequestWillBeSent{ID: "r1", URL: "https://a"})
	bus.Publish(ResponseReceived{ID: "r1", StatusCode: 200})
	bus.Publish(LoadingFailed{ID: "r2", ErrorText: "net::ERR_FAILED"})
	bus.Close()

	var got []domain.RequestID
	for ev := range bus.Events() {
		got = append(got, ev.RequestID())
	}
	require.Len(t, got, 3)
	assert.Equal(t, []domain.RequestID{"r1", "r1", "r2"}, got)
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := NewBus(1)
	bus.Close()
	assert.False(t, bus.Publish(RequestWillBeSent{ID: "r1"}))
	bus.Close() // 重复关闭应无害
}

func TestBusCloseUnblocksFullBufferPublish(t *testing.T) {
	bus := NewBus(1)
	require.True(t, bus.Publish(RequestWillBeSent{ID: "r1"}))

	// 无消费端且缓冲已满，第二次发布会阻塞
	published := make(chan bool, 1)
	go func() {
		published <- bus.Publish(RequestWillBeSent{ID: "r2"})
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		bus.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("关闭被阻塞的发布端拖住")
	}

	select {
	case ok := <-published:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("阻塞中的发布未被关闭唤醒")
	}

	// 已入缓冲的事件仍可读尽，之后感知关闭
	ev, ok := <-bus.Events()
	require.True(t, ok)
	assert.Equal(t, domain.RequestID("r1"), ev.RequestID())
	_, ok = <-bus.Events()
	assert.False(t, ok)
}

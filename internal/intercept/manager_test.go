package intercept

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpdriver/internal/frames"
	"cdpdriver/internal/netsource"
	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

type continueCall struct {
	id domain.RequestID
	d  *ContinueDirective
}

type fakeTransport struct {
	mu        sync.Mutex
	enabled   []bool
	continues []continueCall
	fails     []domain.AbortReason
	fulfills  []*traffic.MockResponse
}

func (f *fakeTransport) SetEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, enabled)
	return nil
}

func (f *fakeTransport) ContinueRequest(_ context.Context, id domain.RequestID, d *ContinueDirective) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continues = append(f.continues, continueCall{id: id, d: d})
	return nil
}

func (f *fakeTransport) FailRequest(_ context.Context, _ domain.RequestID, reason domain.AbortReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = append(f.fails, reason)
	return nil
}

func (f *fakeTransport) FulfillRequest(_ context.Context, _ domain.RequestID, mock *traffic.MockResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulfills = append(f.fulfills, mock)
	return nil
}

func (f *fakeTransport) continueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.continues)
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport, *frames.Tree) {
	t.Helper()
	tr := frames.NewTree("main", nil)
	ft := &fakeTransport{}
	m := NewManager(Config{Transport: ft, Tree: tr})
	return m, ft, tr
}

// captureHandler 注册一个只捕获请求、不做终结的处理器
func captureHandler(t *testing.T, m *Manager) <-chan *Intercepted {
	t.Helper()
	ch := make(chan *Intercepted, 16)
	m.OnRequest(func(_ context.Context, req *Intercepted) {
		ch <- req
	})
	return ch
}

func willBeSent(id domain.RequestID, from domain.RequestID) netsource.RequestWillBeSent {
	return netsource.RequestWillBeSent{
		ID:              id,
		URL:             "https://example.com/" + string(id),
		Method:          "GET",
		Headers:         map[string]string{"Accept": "text/html"},
		ResourceType:    domain.ResourceDocument,
		FrameID:         "main",
		RedirectsFromID: from,
	}
}

func TestTerminalExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	req := <-reqs

	require.NoError(t, req.Continue(ctx, nil))
	assert.ErrorIs(t, req.Abort(ctx, domain.AbortFailed), domain.ErrAlreadyHandled)
	assert.ErrorIs(t, req.Respond(ctx, &traffic.MockResponse{StatusCode: 200}), domain.ErrAlreadyHandled)
	assert.ErrorIs(t, req.Continue(ctx, nil), domain.ErrAlreadyHandled)

	assert.Equal(t, 1, ft.continueCount())
	assert.Equal(t, traffic.OutcomeContinued, req.Outcome())
}

func TestConcurrentTerminalExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	req := <-reqs

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- req.Continue(ctx, nil)
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrAlreadyHandled)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, ft.continueCount())
}

func TestInterceptionDisabledSnapshot(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	handled := captureHandler(t, m)

	// 开关关闭：请求不分发，终结操作被拒绝
	m.onWillBeSent(ctx, willBeSent("r1", ""))
	select {
	case <-handled:
		t.Fatal("handlers must not run while interception is disabled")
	case <-time.After(50 * time.Millisecond):
	}

	req, ok := m.RequestByID("r1")
	require.True(t, ok)
	assert.ErrorIs(t, m.Continue(ctx, req, nil), domain.ErrInterceptionNotEnabled)
	assert.ErrorIs(t, m.Abort(ctx, req, domain.AbortFailed), domain.ErrInterceptionNotEnabled)
	assert.Equal(t, 0, ft.continueCount())

	// 开关是创建时刻的快照：事后启用不影响已存在的请求
	require.NoError(t, m.SetEnabled(ctx, true))
	assert.ErrorIs(t, m.Continue(ctx, req, nil), domain.ErrInterceptionNotEnabled)
}

func TestSetEnabledIdempotent(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)

	require.NoError(t, m.SetEnabled(ctx, true))
	require.NoError(t, m.SetEnabled(ctx, true))
	require.NoError(t, m.SetEnabled(ctx, false))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, []bool{true, false}, ft.enabled)
}

func TestNoHandlersDegradeToContinue(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))

	m.onWillBeSent(ctx, willBeSent("r1", ""))

	assert.Equal(t, 1, ft.continueCount())
	req, ok := m.RequestByID("r1")
	require.True(t, ok)
	assert.Equal(t, traffic.OutcomeContinued, req.Outcome())
}

func TestHeaderMergePrecedence(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)
	m.SetExtraHTTPHeaders(map[string]string{"X-Extra": "page", "Accept": "extra-value"})

	ev := willBeSent("r1", "")
	ev.Headers = map[string]string{"Accept": "text/html", "X-Orig": "keep"}
	m.onWillBeSent(ctx, ev)
	req := <-reqs

	require.NoError(t, req.Continue(ctx, &traffic.ContinueOverrides{
		Headers: map[string]string{"ACCEPT": "application/json"},
	}))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Len(t, ft.continues, 1)
	h := ft.continues[0].d.Headers
	require.NotNil(t, h)
	assert.Equal(t, "application/json", h.Get("accept")) // 按次覆盖最优先
	assert.Equal(t, "page", h.Get("x-extra"))            // 页面级附加头部次之
	assert.Equal(t, "keep", h.Get("x-orig"))             // 原始头部保留
}

func TestContinueWithoutHeaderChanges(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	req := <-reqs
	require.NoError(t, req.Continue(ctx, nil))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Len(t, ft.continues, 1)
	assert.Nil(t, ft.continues[0].d.Headers)
}

func TestRedirectChain(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	first := <-reqs
	require.NoError(t, first.Continue(ctx, nil))

	hop2 := willBeSent("r2", "r1")
	hop2.ResourceType = domain.ResourceOther // 协议层对后续跳的分类不可靠
	m.onWillBeSent(ctx, hop2)
	second := <-reqs
	require.NoError(t, second.Continue(ctx, nil))

	// 再续三跳：4 次重定向共 5 个请求
	last := second
	for _, id := range []domain.RequestID{"r3", "r4", "r5"} {
		hop := willBeSent(id, last.ID)
		hop.ResourceType = domain.ResourceOther
		m.onWillBeSent(ctx, hop)
		last = <-reqs
		if id != "r5" {
			require.NoError(t, last.Continue(ctx, nil))
		}
	}

	require.Len(t, last.RedirectChain, 4)
	assert.Equal(t, domain.RequestID("r1"), last.RedirectChain[0].ID)
	assert.Equal(t, domain.RequestID("r4"), last.RedirectChain[3].ID)
	// 整条链继承首跳的资源类型
	assert.Equal(t, domain.ResourceDocument, last.ResourceType)
	assert.True(t, last.IsRedirectHop())
	assert.False(t, first.IsRedirectHop())
}

func TestRedirectHopRejectsOverrides(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	first := <-reqs
	require.NoError(t, first.Continue(ctx, nil))

	m.onWillBeSent(ctx, willBeSent("r2", "r1"))
	hop := <-reqs

	u := "https://elsewhere.example"
	err := hop.Continue(ctx, &traffic.ContinueOverrides{URL: &u})
	assert.ErrorIs(t, err, domain.ErrRedirectOverride)
	assert.Equal(t, traffic.OutcomePending, hop.Outcome())

	// 不带覆盖的放行仍然可用
	require.NoError(t, hop.Continue(ctx, nil))
	assert.Equal(t, 2, ft.continueCount())
}

func TestTerminalAfterFrameDetachIsNoop(t *testing.T) {
	ctx := context.Background()
	m, ft, tree := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)
	_, err := tree.Attach("main", "child", "")
	require.NoError(t, err)

	ev := willBeSent("r1", "")
	ev.FrameID = "child"
	m.onWillBeSent(ctx, ev)
	req := <-reqs

	require.NoError(t, tree.Detach("child"))

	assert.NoError(t, req.Continue(ctx, nil))
	assert.NoError(t, req.Abort(ctx, domain.AbortFailed))
	assert.NoError(t, req.Respond(ctx, &traffic.MockResponse{StatusCode: 200}))
	assert.Equal(t, 0, ft.continueCount())
	assert.Equal(t, traffic.OutcomePending, req.Outcome())
}

func TestAbortReasonValidation(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	req := <-reqs

	assert.Error(t, req.Abort(ctx, "no-such-reason"))
	assert.Equal(t, traffic.OutcomePending, req.Outcome())

	require.NoError(t, req.Abort(ctx, domain.AbortBlockedByClient))
	assert.Equal(t, "net::ERR_BLOCKED_BY_CLIENT", req.Failure())

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, []domain.AbortReason{domain.AbortBlockedByClient}, ft.fails)
}

func TestAbortDefaultsToFailed(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	req := <-reqs
	require.NoError(t, req.Abort(ctx, ""))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, []domain.AbortReason{domain.AbortFailed}, ft.fails)
	assert.Equal(t, "net::ERR_FAILED", req.Failure())
}

func TestRespondAttachesResponse(t *testing.T) {
	ctx := context.Background()
	m, ft, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	req := <-reqs

	require.NoError(t, req.Respond(ctx, &traffic.MockResponse{
		StatusCode:  418,
		ContentType: "application/json",
		Body:        []byte(`{"mock":true}`),
	}))

	res := req.Response()
	require.NotNil(t, res)
	assert.Equal(t, 418, res.StatusCode)
	assert.Equal(t, "application/json", res.Headers.Get("content-type"))
	assert.Equal(t, []byte(`{"mock":true}`), res.Body)

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Len(t, ft.fulfills, 1)
}

func TestHandlersDispatchOnStableSnapshot(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))

	var calls sync.WaitGroup
	calls.Add(2)
	var selfID domain.HandlerID
	selfID = m.OnRequest(func(_ context.Context, req *Intercepted) {
		defer calls.Done()
		// 处理器在执行期间注销自己：当前分发不受影响
		m.RemoveHandler(selfID)
		_ = req.Continue(ctx, nil)
	})
	m.OnRequest(func(_ context.Context, req *Intercepted) {
		defer calls.Done()
		_ = req.Continue(ctx, nil)
	})

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	calls.Wait()

	req, ok := m.RequestByID("r1")
	require.True(t, ok)
	assert.Equal(t, traffic.OutcomeContinued, req.Outcome())
	assert.False(t, m.RemoveHandler(selfID))
}

func TestRunConsumesBusAndPublishesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m, _, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	m.OnRequest(func(ctx context.Context, req *Intercepted) {
		_ = req.Continue(ctx, nil)
	})

	events, unsub := m.Subscribe()
	defer unsub()

	bus := netsource.NewBus(8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, bus)
	}()

	bus.Publish(willBeSent("r1", ""))
	bus.Publish(netsource.ResponseReceived{ID: "r1", StatusCode: 200, URL: "https://example.com/r1"})

	var types []domain.InterceptEventType
	deadline := time.After(2 * time.Second)
	for len(types) < 3 {
		select {
		case evt := <-events:
			types = append(types, evt.Type)
		case <-deadline:
			t.Fatalf("timed out, got %v", types)
		}
	}
	assert.Contains(t, types, domain.EventRequestWillBeSent)
	assert.Contains(t, types, domain.EventRequestContinued)
	assert.Contains(t, types, domain.EventResponseReceived)
	assert.Equal(t, domain.EventRequestWillBeSent, types[0])

	bus.Close()
	<-done

	req, ok := m.RequestByID("r1")
	require.True(t, ok)
	res := req.Response()
	require.NotNil(t, res)
	assert.Equal(t, 200, res.StatusCode)
}

func TestLoadingFailedRecordsFailure(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)

	events, unsub := m.Subscribe()
	defer unsub()

	m.onWillBeSent(ctx, willBeSent("r1", ""))
	req := <-reqs
	m.onFailed(netsource.LoadingFailed{ID: "r1", ErrorText: "net::ERR_CONNECTION_RESET"})

	assert.Equal(t, "net::ERR_CONNECTION_RESET", req.Failure())

	<-events // will-be-sent
	evt := <-events
	assert.Equal(t, domain.EventRequestFailed, evt.Type)
	assert.Equal(t, "net::ERR_CONNECTION_RESET", evt.ErrorCode)
}

func TestPruneFrameClearsRegistry(t *testing.T) {
	ctx := context.Background()
	m, _, tree := newTestManager(t)
	require.NoError(t, m.SetEnabled(ctx, true))
	reqs := captureHandler(t, m)
	_, err := tree.Attach("main", "child", "")
	require.NoError(t, err)

	ev := willBeSent("r1", "")
	ev.FrameID = "child"
	m.onWillBeSent(ctx, ev)
	<-reqs
	m.onWillBeSent(ctx, willBeSent("r2", ""))
	<-reqs

	m.PruneFrame("child")

	_, ok := m.RequestByID("r1")
	assert.False(t, ok)
	_, ok = m.RequestByID("r2")
	assert.True(t, ok)
}

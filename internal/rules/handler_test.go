package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpdriver/internal/frames"
	"cdpdriver/internal/intercept"
	"cdpdriver/internal/netsource"
	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

type nopTransport struct{}

func (nopTransport) SetEnabled(context.Context, bool) error { return nil }
func (nopTransport) ContinueRequest(context.Context, domain.RequestID, *intercept.ContinueDirective) error {
	return nil
}
func (nopTransport) FailRequest(context.Context, domain.RequestID, domain.AbortReason) error {
	return nil
}
func (nopTransport) FulfillRequest(context.Context, domain.RequestID, *traffic.MockResponse) error {
	return nil
}

// runThrough 把单个请求事件灌进挂了规则处理器的控制器，返回其终结事件
func runThrough(t *testing.T, rs RuleSet, ev netsource.RequestWillBeSent) domain.InterceptEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := frames.NewTree("main", nil)
	mgr := intercept.NewManager(intercept.Config{Transport: nopTransport{}, Tree: tree})
	require.NoError(t, mgr.SetEnabled(ctx, true))
	mgr.OnRequest(ToHandler(New(rs), nil))

	events, unsub := mgr.Subscribe()
	defer unsub()

	bus := netsource.NewBus(4)
	defer bus.Close()
	go mgr.Run(ctx, bus)
	bus.Publish(ev)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			switch evt.Type {
			case domain.EventRequestContinued, domain.EventRequestAborted, domain.EventRequestFulfilled:
				return evt
			}
		case <-deadline:
			t.Fatal("no terminal event observed")
		}
	}
}

func docEvent(url string) netsource.RequestWillBeSent {
	return netsource.RequestWillBeSent{
		ID:           "r1",
		URL:          url,
		Method:       "GET",
		ResourceType: domain.ResourceDocument,
		FrameID:      "main",
	}
}

func TestHandlerAbortAction(t *testing.T) {
	rs := RuleSet{Rules: []Rule{{
		ID:     "block-ads",
		Match:  Match{AllOf: []Condition{{Type: "url", Pattern: "*://ads.example/*"}}},
		Action: Action{Type: "abort", Abort: &AbortAction{Reason: "blockedbyclient"}},
	}}}

	evt := runThrough(t, rs, docEvent("https://ads.example/banner"))
	assert.Equal(t, domain.EventRequestAborted, evt.Type)
	assert.Equal(t, "net::ERR_BLOCKED_BY_CLIENT", evt.ErrorCode)
}

func TestHandlerRespondAction(t *testing.T) {
	rs := RuleSet{Rules: []Rule{{
		ID:    "mock-api",
		Match: Match{AllOf: []Condition{{Type: "url", Mode: "prefix", Pattern: "https://api.example/"}}},
		Action: Action{Type: "respond", Respond: &RespondAction{
			Status:      418,
			ContentType: "application/json",
			Body:        `{"mock":true}`,
		}},
	}}}

	evt := runThrough(t, rs, docEvent("https://api.example/v1/users"))
	assert.Equal(t, domain.EventRequestFulfilled, evt.Type)
	assert.Equal(t, 418, evt.StatusCode)
}

func TestHandlerRespondDefaultsStatus(t *testing.T) {
	rs := RuleSet{Rules: []Rule{{
		ID:     "mock",
		Match:  Match{AllOf: []Condition{{Type: "url", Pattern: "*"}}},
		Action: Action{Type: "respond", Respond: &RespondAction{Body: "ok"}},
	}}}

	evt := runThrough(t, rs, docEvent("https://example.com/"))
	assert.Equal(t, domain.EventRequestFulfilled, evt.Type)
	assert.Equal(t, 200, evt.StatusCode)
}

func TestHandlerNoMatchContinues(t *testing.T) {
	rs := RuleSet{Rules: []Rule{{
		ID:     "never",
		Match:  Match{AllOf: []Condition{{Type: "url", Mode: "exact", Pattern: "https://never.example/"}}},
		Action: Action{Type: "abort"},
	}}}

	evt := runThrough(t, rs, docEvent("https://example.com/"))
	assert.Equal(t, domain.EventRequestContinued, evt.Type)
}

func TestHandlerContinueActionWithOverrides(t *testing.T) {
	rs := RuleSet{Rules: []Rule{{
		ID:    "rewrite",
		Match: Match{AllOf: []Condition{{Type: "url", Pattern: "*"}}},
		Action: Action{Type: "continue", Continue: &ContinueAction{
			Headers: map[string]string{"X-Injected": "1"},
		}},
	}}}

	evt := runThrough(t, rs, docEvent("https://example.com/"))
	assert.Equal(t, domain.EventRequestContinued, evt.Type)
}

func TestContinueOverridesPatchJSON(t *testing.T) {
	req := traffic.NewRequest()
	req.PostData = []byte(`{"user":{"role":"guest"},"keep":1}`)

	o := continueOverrides(req, &ContinueAction{
		URL:       "https://rewritten.example/",
		Method:    "PUT",
		PatchJSON: map[string]any{"user.role": "admin", "added": true},
	})

	require.NotNil(t, o)
	require.NotNil(t, o.URL)
	assert.Equal(t, "https://rewritten.example/", *o.URL)
	require.NotNil(t, o.Method)
	assert.Equal(t, "PUT", *o.Method)

	body := string(o.PostData)
	assert.Contains(t, body, `"role":"admin"`)
	assert.Contains(t, body, `"keep":1`)
	assert.Contains(t, body, `"added":true`)
}

func TestContinueOverridesNil(t *testing.T) {
	assert.Nil(t, continueOverrides(traffic.NewRequest(), nil))
}

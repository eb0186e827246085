package cdp

import (
	"context"
	"fmt"

	"github.com/mafredri/cdp/protocol/fetch"

	"cdpdriver/internal/intercept"
	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// transport 把控制器的终结指令回放到 Fetch 域
type transport struct {
	d *Driver
}

// SetEnabled 启停 Fetch 拦截。开启后 RequestPaused 流由泵侧消费，
// 仅用于建立领域请求ID到暂停ID的映射。
func (t *transport) SetEnabled(ctx context.Context, enabled bool) error {
	if t.d.client == nil {
		return fmt.Errorf("not attached")
	}
	if !enabled {
		return t.d.client.Fetch.Disable(ctx)
	}
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
	}
	if err := t.d.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		return err
	}
	go t.d.consumePaused(ctx)
	return nil
}

func (t *transport) ContinueRequest(ctx context.Context, id domain.RequestID, dir *intercept.ContinueDirective) error {
	fid, ok := t.d.fetchID(id)
	if !ok {
		// 拦截关闭时没有暂停ID，放行即自然继续
		return nil
	}
	args := &fetch.ContinueRequestArgs{RequestID: fid}
	if dir != nil {
		args.URL = dir.URL
		args.Method = dir.Method
		if dir.Headers != nil {
			args.Headers = toHeaderEntries(dir.Headers)
		}
		if len(dir.PostData) > 0 {
			args.PostData = dir.PostData
		}
	}
	return t.d.client.Fetch.ContinueRequest(ctx, args)
}

func (t *transport) FailRequest(ctx context.Context, id domain.RequestID, reason domain.AbortReason) error {
	fid, ok := t.d.fetchID(id)
	if !ok {
		return nil
	}
	return t.d.client.Fetch.FailRequest(ctx, &fetch.FailRequestArgs{
		RequestID:   fid,
		ErrorReason: toErrorReason(reason),
	})
}

func (t *transport) FulfillRequest(ctx context.Context, id domain.RequestID, mock *traffic.MockResponse) error {
	fid, ok := t.d.fetchID(id)
	if !ok {
		return nil
	}
	args := &fetch.FulfillRequestArgs{RequestID: fid, ResponseCode: mock.StatusCode}
	hdrs := make(map[string]string, len(mock.Headers)+1)
	for k, v := range mock.Headers {
		hdrs[k] = v
	}
	if mock.ContentType != "" {
		hdrs["content-type"] = mock.ContentType
	}
	if len(hdrs) > 0 {
		entries := make([]fetch.HeaderEntry, 0, len(hdrs))
		for k, v := range hdrs {
			entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
		}
		args.ResponseHeaders = entries
	}
	if len(mock.Body) > 0 {
		args.Body = mock.Body
	}
	return t.d.client.Fetch.FulfillRequest(ctx, args)
}

// consumePaused 消费 RequestPaused 流，登记暂停ID。
// 真正的决策由控制器基于 Network 事件做出，这里只负责ID对账。
func (d *Driver) consumePaused(ctx context.Context) {
	rp, err := d.client.Fetch.RequestPaused(ctx)
	if err != nil {
		d.log.Err(err, "订阅 RequestPaused 失败")
		return
	}
	defer rp.Close()
	for {
		ev, err := rp.Recv()
		if err != nil {
			return
		}
		if ev.NetworkID != nil {
			if id, ok := d.currentHop(*ev.NetworkID); ok {
				d.bindFetchID(id, ev.RequestID)
				continue
			}
		}
		d.log.Debug("暂停事件早于网络事件，直接放行", "fetchID", string(ev.RequestID), "url", ev.Request.URL)
		_ = d.client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID})
	}
}

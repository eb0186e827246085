package cdp

import (
	"context"

	"cdpdriver/internal/netsource"
	"cdpdriver/pkg/domain"
)

// startNetworkPump 把 Network 域三类事件泵入总线。
// 重定向在 CDP 里表现为复用请求ID的再次 will-be-sent（携带
// redirectResponse），这里按跳合成唯一ID并串起前驱关系。
func (d *Driver) startNetworkPump(ctx context.Context, bus *netsource.Bus) error {
	willBeSent, err := d.client.Network.RequestWillBeSent(ctx)
	if err != nil {
		return err
	}
	responses, err := d.client.Network.ResponseReceived(ctx)
	if err != nil {
		return err
	}
	failures, err := d.client.Network.LoadingFailed(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer willBeSent.Close()
		for {
			ev, err := willBeSent.Recv()
			if err != nil {
				return
			}
			redirect := ev.RedirectResponse != nil
			id, prev := d.hopID(ev.RequestID, redirect)
			if redirect && prev != "" {
				bus.Publish(netsource.ResponseReceived{
					ID:         prev,
					StatusCode: ev.RedirectResponse.Status,
					Headers:    headersToMap(ev.RedirectResponse.Headers),
					URL:        ev.RedirectResponse.URL,
				})
			}
			var frameID domain.FrameID
			if ev.FrameID != nil {
				frameID = domain.FrameID(*ev.FrameID)
			}
			var post []byte
			if ev.Request.PostData != nil {
				post = []byte(*ev.Request.PostData)
			}
			rtype := domain.ResourceOther
			if ev.Type != "" {
				rtype = toResourceType(ev.Type)
			}
			bus.Publish(netsource.RequestWillBeSent{
				ID:              id,
				URL:             ev.Request.URL,
				Method:          ev.Request.Method,
				Headers:         headersToMap(ev.Request.Headers),
				PostData:        post,
				ResourceType:    rtype,
				FrameID:         frameID,
				RedirectsFromID: prev,
			})
		}
	}()

	go func() {
		defer responses.Close()
		for {
			ev, err := responses.Recv()
			if err != nil {
				return
			}
			id, ok := d.currentHop(ev.RequestID)
			if !ok {
				continue
			}
			bus.Publish(netsource.ResponseReceived{
				ID:         id,
				StatusCode: ev.Response.Status,
				Headers:    headersToMap(ev.Response.Headers),
				URL:        ev.Response.URL,
			})
		}
	}()

	go func() {
		defer failures.Close()
		for {
			ev, err := failures.Recv()
			if err != nil {
				return
			}
			id, ok := d.currentHop(ev.RequestID)
			if !ok {
				continue
			}
			bus.Publish(netsource.LoadingFailed{
				ID:        id,
				ErrorText: fromErrorText(ev.ErrorText),
				Canceled:  ev.Canceled != nil && *ev.Canceled,
			})
		}
	}()

	return nil
}

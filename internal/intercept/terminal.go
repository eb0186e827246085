package intercept

import (
	"context"
	"fmt"

	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// frameGone 判断请求所属框架是否已经拆除。拆除后的终结操作
// 定义为静默无操作：撤销与用户动作之间的竞争是预期内的，不算缺陷。
func (m *Manager) frameGone(req *traffic.Request) bool {
	if m.tree == nil || req.FrameID == "" {
		return false
	}
	f, ok := m.tree.FrameByID(req.FrameID)
	return !ok || f.Detached()
}

// checkTerminal 终结操作的共同前置检查
func (m *Manager) checkTerminal(req *traffic.Request) (skip bool, err error) {
	if req == nil {
		return false, fmt.Errorf("nil request")
	}
	if m.frameGone(req) {
		m.log.Debug("框架已拆除，终结操作按无操作处理", "request", string(req.ID))
		return true, nil
	}
	if !req.InterceptionEnabled {
		return false, domain.ErrInterceptionNotEnabled
	}
	return false, nil
}

// Continue 放行请求，可携带 URL / 方法 / 头部 / 请求体覆盖。
// 头部按大小写不敏感合并，优先级：按次覆盖 > 页面级附加头部 > 原始头部。
func (m *Manager) Continue(ctx context.Context, req *traffic.Request, o *traffic.ContinueOverrides) error {
	skip, err := m.checkTerminal(req)
	if skip || err != nil {
		return err
	}
	// 对重定向跳转携带覆盖的行为未定义，保守拒绝
	if req.IsRedirectHop() && !o.Empty() {
		return domain.ErrRedirectOverride
	}
	if err := req.MarkOutcome(traffic.OutcomeContinued); err != nil {
		return err
	}

	d := m.buildDirective(req, o)
	if m.transport != nil {
		if err := m.transport.ContinueRequest(ctx, req.ID, d); err != nil {
			return fmt.Errorf("continue request %s: %w", req.ID, err)
		}
	}

	m.publish(domain.InterceptEvent{
		Type:         domain.EventRequestContinued,
		Request:      req.ID,
		Frame:        req.FrameID,
		URL:          req.URL,
		Method:       req.Method,
		ResourceType: req.ResourceType,
	})
	m.log.Debug("请求已放行", "request", string(req.ID), "url", req.URL)
	return nil
}

// Abort 以枚举原因中止请求，缺省为 failed。
// 中止导航框架自身的文档请求会令整次导航失败。
func (m *Manager) Abort(ctx context.Context, req *traffic.Request, reason domain.AbortReason) error {
	if reason == "" {
		reason = domain.AbortFailed
	}
	if !reason.Valid() {
		return fmt.Errorf("unknown abort reason %q", reason)
	}
	skip, err := m.checkTerminal(req)
	if skip || err != nil {
		return err
	}
	if err := req.MarkOutcome(traffic.OutcomeAborted); err != nil {
		return err
	}
	req.SetFailure(reason.ErrorCode())

	if m.transport != nil {
		if err := m.transport.FailRequest(ctx, req.ID, reason); err != nil {
			return fmt.Errorf("abort request %s: %w", req.ID, err)
		}
	}

	m.publish(domain.InterceptEvent{
		Type:         domain.EventRequestAborted,
		Request:      req.ID,
		Frame:        req.FrameID,
		URL:          req.URL,
		Method:       req.Method,
		ResourceType: req.ResourceType,
		ErrorCode:    reason.ErrorCode(),
	})
	m.log.Info("请求已中止", "request", string(req.ID), "url", req.URL, "reason", string(reason))
	return nil
}

// Respond 用合成响应短路网络，不触达源站
func (m *Manager) Respond(ctx context.Context, req *traffic.Request, mock *traffic.MockResponse) error {
	if mock == nil {
		return fmt.Errorf("nil mock response")
	}
	skip, err := m.checkTerminal(req)
	if skip || err != nil {
		return err
	}
	if err := req.MarkOutcome(traffic.OutcomeResponded); err != nil {
		return err
	}

	if m.transport != nil {
		if err := m.transport.FulfillRequest(ctx, req.ID, mock); err != nil {
			return fmt.Errorf("fulfill request %s: %w", req.ID, err)
		}
	}

	res := traffic.NewResponse()
	res.StatusCode = mock.StatusCode
	res.URL = req.URL
	res.Headers.Merge(mock.Headers)
	if mock.ContentType != "" {
		res.Headers.Set("content-type", mock.ContentType)
	}
	res.Body = mock.Body
	req.SetResponse(res)

	m.publish(domain.InterceptEvent{
		Type:         domain.EventRequestFulfilled,
		Request:      req.ID,
		Frame:        req.FrameID,
		URL:          req.URL,
		Method:       req.Method,
		ResourceType: req.ResourceType,
		StatusCode:   mock.StatusCode,
	})
	m.log.Debug("请求已用合成响应短路", "request", string(req.ID), "status", mock.StatusCode)
	return nil
}

// buildDirective 计算放行的最终画面。头部仅在确有修改时携带全量合并结果。
func (m *Manager) buildDirective(req *traffic.Request, o *traffic.ContinueOverrides) *ContinueDirective {
	m.mu.Lock()
	extra := m.extra.Clone()
	m.mu.Unlock()

	d := &ContinueDirective{}
	if o != nil {
		d.URL = o.URL
		d.Method = o.Method
		d.PostData = o.PostData
	}
	if len(extra) > 0 || (o != nil && len(o.Headers) > 0) {
		merged := req.Headers.Clone()
		merged.Merge(extra)
		if o != nil {
			merged.Merge(o.Headers)
		}
		d.Headers = merged
	}
	return d
}

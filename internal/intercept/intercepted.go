package intercept

import (
	"context"

	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// Intercepted 分发给处理器的可拦截请求：在请求实体上绑定终结操作。
type Intercepted struct {
	*traffic.Request
	mgr *Manager
}

// Continue 放行请求，可携带覆盖
func (r *Intercepted) Continue(ctx context.Context, o *traffic.ContinueOverrides) error {
	return r.mgr.Continue(ctx, r.Request, o)
}

// Abort 以枚举原因中止请求
func (r *Intercepted) Abort(ctx context.Context, reason domain.AbortReason) error {
	return r.mgr.Abort(ctx, r.Request, reason)
}

// Respond 用合成响应短路网络
func (r *Intercepted) Respond(ctx context.Context, mock *traffic.MockResponse) error {
	return r.mgr.Respond(ctx, r.Request, mock)
}

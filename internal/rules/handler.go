package rules

import (
	"context"
	"fmt"

	"github.com/tidwall/sjson"

	"cdpdriver/internal/intercept"
	"cdpdriver/internal/logger"
	"cdpdriver/pkg/traffic"
)

// ToHandler 把规则引擎编译为拦截处理器：命中规则执行其行为，
// 未命中直接放行。
func ToHandler(e *Engine, l logger.Logger) intercept.Handler {
	if l == nil {
		l = logger.NewNop()
	}
	return func(ctx context.Context, req *intercept.Intercepted) {
		res := e.Eval(req.Request)
		if res == nil || res.Action == nil {
			if err := req.Continue(ctx, nil); err != nil {
				l.Err(err, "规则未命中放行失败", "request", string(req.ID))
			}
			return
		}

		if err := apply(ctx, req, res); err != nil {
			l.Err(err, "规则行为执行失败", "rule", res.Rule.ID, "request", string(req.ID))
			return
		}
		l.Debug("规则行为已执行", "rule", res.Rule.ID, "action", res.Action.Type, "url", req.URL)
	}
}

func apply(ctx context.Context, req *intercept.Intercepted, res *Result) error {
	a := res.Action
	switch a.Type {
	case "abort":
		reason := ""
		if a.Abort != nil {
			reason = a.Abort.Reason
		}
		return req.Abort(ctx, abortReason(reason))

	case "respond":
		if a.Respond == nil {
			return fmt.Errorf("rule %s: respond action missing payload", res.Rule.ID)
		}
		status := a.Respond.Status
		if status == 0 {
			status = 200
		}
		return req.Respond(ctx, &traffic.MockResponse{
			StatusCode:  status,
			Headers:     a.Respond.Headers,
			ContentType: a.Respond.ContentType,
			Body:        []byte(a.Respond.Body),
		})

	case "continue", "":
		return req.Continue(ctx, continueOverrides(req.Request, a.Continue))

	default:
		return fmt.Errorf("rule %s: unknown action type %q", res.Rule.ID, a.Type)
	}
}

// continueOverrides 把放行行为参数转换为覆盖，必要时对 JSON 请求体打补丁
func continueOverrides(req *traffic.Request, c *ContinueAction) *traffic.ContinueOverrides {
	if c == nil {
		return nil
	}
	o := &traffic.ContinueOverrides{Headers: c.Headers}
	if c.URL != "" {
		u := c.URL
		o.URL = &u
	}
	if c.Method != "" {
		m := c.Method
		o.Method = &m
	}
	if len(c.PatchJSON) > 0 && len(req.PostData) > 0 {
		body := req.PostData
		for path, value := range c.PatchJSON {
			patched, err := sjson.SetBytes(body, path, value)
			if err != nil {
				continue
			}
			body = patched
		}
		o.PostData = body
	}
	return o
}

// Package nav 实现导航生命周期：驱动 GoTo，把拦截控制器对主文档请求的
// 裁决（成功、重定向、中止）合成为一个已解析的响应或导航失败。
package nav

import (
	"context"
	"fmt"
	"time"

	"cdpdriver/internal/frames"
	"cdpdriver/internal/intercept"
	"cdpdriver/internal/logger"
	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// NavigateFunc 外部导航原语：触发目标框架的网络事件源活动
type NavigateFunc func(ctx context.Context, f *frames.Frame, url string) error

// Navigator 导航驱动器
type Navigator struct {
	mgr            *intercept.Manager
	navigate       NavigateFunc
	defaultTimeout time.Duration
	log            logger.Logger
}

// New 创建导航驱动器
func New(mgr *intercept.Manager, navigate NavigateFunc, defaultTimeout time.Duration, l logger.Logger) *Navigator {
	if l == nil {
		l = logger.NewNop()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Navigator{mgr: mgr, navigate: navigate, defaultTimeout: defaultTimeout, log: l}
}

// redirectStatus 判断状态码是否会引发下一跳
func redirectStatus(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// GoTo 导航框架到目标地址并等待主文档请求出结果。
//
// 状态机：Started → DocumentRequestSent → {成功→Completed,
// 中止/失败→Failed(携带错误码), 重定向→新一跳的 DocumentRequestSent}。
// 子资源的失败永远不影响导航结局。
func (n *Navigator) GoTo(ctx context.Context, f *frames.Frame, url string, timeout time.Duration) (*traffic.Response, error) {
	if timeout <= 0 {
		timeout = n.defaultTimeout
	}

	// 先订阅后触发，避免丢失最初的文档请求事件
	events, cancel := n.mgr.Subscribe()
	defer cancel()

	if err := n.navigate(ctx, f, url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	n.log.Debug("导航已触发", "frame", string(f.ID()), "url", url)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var docID domain.RequestID
	for {
		select {
		case evt := <-events:
			if f.Detached() {
				return nil, domain.ErrFrameDetached
			}
			done, res, err := n.step(f, url, &docID, evt)
			if err != nil || done {
				return res, err
			}
		case <-timer.C:
			return nil, fmt.Errorf("goto %s: %w", url, domain.ErrNavigationTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// step 消化一个拦截事件，推进导航状态机
func (n *Navigator) step(f *frames.Frame, url string, docID *domain.RequestID, evt domain.InterceptEvent) (bool, *traffic.Response, error) {
	switch evt.Type {
	case domain.EventRequestWillBeSent:
		if *docID == "" {
			// 等待本框架的文档请求现身
			if evt.Frame == f.ID() && evt.ResourceType == domain.ResourceDocument {
				*docID = evt.Request
				n.log.Debug("文档请求已发出", "request", string(evt.Request), "url", evt.URL)
			}
			return false, nil, nil
		}
		// 同一导航内的重定向延续：跟进新一跳
		if evt.RedirectFrom == *docID {
			n.log.Debug("文档请求重定向", "from", string(*docID), "to", string(evt.Request), "url", evt.URL)
			*docID = evt.Request
		}
		return false, nil, nil

	case domain.EventResponseReceived, domain.EventRequestFulfilled:
		if evt.Request != *docID || *docID == "" {
			return false, nil, nil
		}
		// 合成响应不走网络层，状态码为 3xx 也不会有下一跳，一律视为终点
		if evt.Type == domain.EventResponseReceived && redirectStatus(evt.StatusCode) {
			// 下一跳将以新的 will-be-sent 现身
			return false, nil, nil
		}
		req, ok := n.mgr.RequestByID(*docID)
		if !ok {
			return true, nil, fmt.Errorf("goto %s: document request %s vanished", url, *docID)
		}
		res := req.Response()
		if res == nil {
			res = traffic.NewResponse()
			res.StatusCode = evt.StatusCode
			res.URL = evt.URL
			res.Request = req
		}
		n.log.Info("导航完成", "url", res.URL, "status", res.StatusCode, "hops", len(req.RedirectChain))
		return true, res, nil

	case domain.EventRequestAborted, domain.EventRequestFailed:
		if evt.Request != *docID || *docID == "" {
			// 子资源失败只作通知，不影响导航
			return false, nil, nil
		}
		code := evt.ErrorCode
		if code == "" {
			code = domain.AbortFailed.ErrorCode()
		}
		n.log.Warn("导航失败", "url", url, "code", code)
		return true, nil, &domain.NavigationError{URL: url, Code: code}
	}
	return false, nil, nil
}

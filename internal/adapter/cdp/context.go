package cdp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/tidwall/gjson"

	"cdpdriver/internal/frames"
	"cdpdriver/pkg/domain"
)

// evalContext 框架执行上下文，基于 Runtime.Evaluate 实现
type evalContext struct {
	d       *Driver
	frameID domain.FrameID
	ctxID   runtime.ExecutionContextID
}

// Evaluate 在上下文中调用给定函数字面量。节点返回值保留为远端句柄，
// 标量返回值按 JSON 解出。
func (e *evalContext) Evaluate(ctx context.Context, fn string, args ...any) (any, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, &domain.EvaluationError{Message: "marshal argument: " + err.Error()}
		}
		parts = append(parts, string(b))
	}
	expr := "(" + fn + ")(" + strings.Join(parts, ",") + ")"

	reply, err := e.d.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr).
		SetContextID(e.ctxID))
	if err != nil {
		return nil, err
	}
	if reply.ExceptionDetails != nil {
		msg := reply.ExceptionDetails.Text
		if reply.ExceptionDetails.Exception != nil && reply.ExceptionDetails.Exception.Description != nil {
			msg = *reply.ExceptionDetails.Exception.Description
		}
		return nil, &domain.EvaluationError{Message: msg}
	}

	res := reply.Result
	if res.Subtype != nil && *res.Subtype == "node" && res.ObjectID != nil {
		return &domain.ElementHandle{
			ObjectID: string(*res.ObjectID),
			Frame:    e.frameID,
		}, nil
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(res.Value, &v); err != nil {
		return nil, &domain.EvaluationError{Message: "decode result: " + err.Error()}
	}
	return v, nil
}

// startPagePump 维护框架树与执行上下文代际
func (d *Driver) startPagePump(ctx context.Context, tree *frames.Tree) error {
	attached, err := d.client.Page.FrameAttached(ctx)
	if err != nil {
		return err
	}
	detached, err := d.client.Page.FrameDetached(ctx)
	if err != nil {
		return err
	}
	navigated, err := d.client.Page.FrameNavigated(ctx)
	if err != nil {
		return err
	}
	inDoc, err := d.client.Page.NavigatedWithinDocument(ctx)
	if err != nil {
		return err
	}
	ctxCreated, err := d.client.Runtime.ExecutionContextCreated(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer attached.Close()
		for {
			ev, err := attached.Recv()
			if err != nil {
				return
			}
			if _, err := tree.Attach(domain.FrameID(ev.ParentFrameID), domain.FrameID(ev.FrameID), ""); err != nil {
				d.log.Warn("框架挂载失败", "frame", string(ev.FrameID), "err", err.Error())
			}
		}
	}()

	go func() {
		defer detached.Close()
		for {
			ev, err := detached.Recv()
			if err != nil {
				return
			}
			id := domain.FrameID(ev.FrameID)
			if err := tree.Detach(id); err != nil {
				d.log.Debug("框架分离忽略", "frame", string(id))
			}
			d.dropContext(id)
		}
	}()

	go func() {
		defer navigated.Close()
		for {
			ev, err := navigated.Recv()
			if err != nil {
				return
			}
			id := domain.FrameID(ev.Frame.ID)
			f, ok := tree.FrameByID(id)
			if !ok {
				continue
			}
			// 跨文档导航：旧上下文作废，新上下文由 Runtime 事件补上
			d.dropContext(id)
			f.Navigated(ev.Frame.URL, nil)
		}
	}()

	go func() {
		defer inDoc.Close()
		for {
			ev, err := inDoc.Recv()
			if err != nil {
				return
			}
			if f, ok := tree.FrameByID(domain.FrameID(ev.FrameID)); ok {
				f.NavigatedWithinDocument(ev.URL)
			}
		}
	}()

	go func() {
		defer ctxCreated.Close()
		for {
			ev, err := ctxCreated.Recv()
			if err != nil {
				return
			}
			aux := gjson.ParseBytes(ev.Context.AuxData)
			if !aux.Get("isDefault").Bool() {
				continue
			}
			frameID := domain.FrameID(aux.Get("frameId").String())
			if frameID == "" {
				continue
			}
			d.setContext(frameID, ev.Context.ID)
			if f, ok := tree.FrameByID(frameID); ok {
				f.SetContext(&evalContext{d: d, frameID: frameID, ctxID: ev.Context.ID})
			}
		}
	}()

	return nil
}

// startMutationPump 把 DOM 变更事件折算成框架级变更通知。
// CDP 的变更事件不带框架归属，这里广播到全部框架：通知是幂等的，
// 多余的一次重求值只有常数开销。
func (d *Driver) startMutationPump(ctx context.Context, tree *frames.Tree) error {
	docUpdated, err := d.client.DOM.DocumentUpdated(ctx)
	if err != nil {
		return err
	}
	inserted, err := d.client.DOM.ChildNodeInserted(ctx)
	if err != nil {
		return err
	}
	removed, err := d.client.DOM.ChildNodeRemoved(ctx)
	if err != nil {
		return err
	}
	attrMod, err := d.client.DOM.AttributeModified(ctx)
	if err != nil {
		return err
	}
	attrRem, err := d.client.DOM.AttributeRemoved(ctx)
	if err != nil {
		return err
	}

	notify := func() {
		for _, f := range tree.Frames() {
			f.NotifyMutation()
		}
	}

	go func() {
		defer docUpdated.Close()
		for {
			if _, err := docUpdated.Recv(); err != nil {
				return
			}
			notify()
		}
	}()
	go func() {
		defer inserted.Close()
		for {
			if _, err := inserted.Recv(); err != nil {
				return
			}
			notify()
		}
	}()
	go func() {
		defer removed.Close()
		for {
			if _, err := removed.Recv(); err != nil {
				return
			}
			notify()
		}
	}()
	go func() {
		defer attrMod.Close()
		for {
			if _, err := attrMod.Recv(); err != nil {
				return
			}
			notify()
		}
	}()
	go func() {
		defer attrRem.Close()
		for {
			if _, err := attrRem.Recv(); err != nil {
				return
			}
			notify()
		}
	}()

	return nil
}

func (d *Driver) setContext(id domain.FrameID, ctxID runtime.ExecutionContextID) {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	d.contexts[id] = ctxID
}

func (d *Driver) dropContext(id domain.FrameID) {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	delete(d.contexts, id)
}

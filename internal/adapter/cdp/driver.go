// Package cdp 通过 mafredri/cdp 把领域抽象落到 Chrome DevTools 协议：
// Fetch 域回放终结操作，Network 域泵入事件源，Page/Runtime/DOM 域
// 维护框架树、执行上下文与文档变更通知。
package cdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	"cdpdriver/internal/frames"
	"cdpdriver/internal/intercept"
	"cdpdriver/internal/logger"
	"cdpdriver/internal/netsource"
	"cdpdriver/pkg/domain"
)

// Driver CDP 页面底座，实现 session.Driver
type Driver struct {
	devtoolsURL string
	conn        *rpcc.Conn
	client      *cdp.Client
	log         logger.Logger

	mainFrame domain.FrameID

	// hops 网络层请求ID → 已合成的跳转序列状态。
	// CDP 在重定向时复用同一个网络请求ID，领域模型要求每跳唯一。
	hopsMu sync.Mutex
	hops   map[network.RequestID]*hopState

	// fetchIDs 领域请求ID → Fetch 域暂停ID，终结操作回放时解引
	fetchMu  sync.Mutex
	fetchIDs map[domain.RequestID]fetch.RequestID

	// contexts 框架ID → Runtime 执行上下文ID
	ctxMu    sync.Mutex
	contexts map[domain.FrameID]runtime.ExecutionContextID

	transport *transport
}

type hopState struct {
	count  int
	lastID domain.RequestID
}

// Dial 创建底座并记录目标地址
func Dial(devtoolsURL string, l logger.Logger) *Driver {
	if l == nil {
		l = logger.NewNop()
	}
	d := &Driver{
		devtoolsURL: devtoolsURL,
		log:         l,
		hops:        make(map[network.RequestID]*hopState),
		fetchIDs:    make(map[domain.RequestID]fetch.RequestID),
		contexts:    make(map[domain.FrameID]runtime.ExecutionContextID),
	}
	d.transport = &transport{d: d}
	return d
}

// Attach 连接目标页面并启用所需协议域
func (d *Driver) Attach(ctx context.Context, target string) error {
	dt := devtool.New(d.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for i := range targets {
		if targets[i].Type != devtool.Page {
			continue
		}
		if target == "" || string(targets[i].ID) == target {
			sel = targets[i]
			break
		}
	}
	if sel == nil {
		return fmt.Errorf("no page target")
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", sel.WebSocketDebuggerURL, err)
	}
	d.conn = conn
	d.client = cdp.NewClient(conn)

	if err := d.client.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("enable network: %w", err)
	}
	if err := d.client.Page.Enable(ctx); err != nil {
		return fmt.Errorf("enable page: %w", err)
	}
	if err := d.client.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("enable runtime: %w", err)
	}
	if err := d.client.DOM.Enable(ctx, nil); err != nil {
		return fmt.Errorf("enable dom: %w", err)
	}

	tree, err := d.client.Page.GetFrameTree(ctx)
	if err != nil {
		return fmt.Errorf("get frame tree: %w", err)
	}
	d.mainFrame = domain.FrameID(tree.FrameTree.Frame.ID)
	d.log.Info("已附加页面目标", "target", string(sel.ID), "mainFrame", string(d.mainFrame))
	return nil
}

// MainFrameID 返回主框架标识
func (d *Driver) MainFrameID() domain.FrameID { return d.mainFrame }

// Transport 返回终结操作传输实现
func (d *Driver) Transport() intercept.Transport { return d.transport }

// Navigate 触发框架导航（外部原语：事件源活动由协议域随后泵入）
func (d *Driver) Navigate(ctx context.Context, f *frames.Frame, url string) error {
	args := page.NewNavigateArgs(url)
	if f != nil && f.ID() != d.mainFrame {
		args.SetFrameID(page.FrameID(f.ID()))
	}
	reply, err := d.client.Page.Navigate(ctx, args)
	if err != nil {
		return err
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return &domain.NavigationError{URL: url, Code: *reply.ErrorText}
	}
	return nil
}

// Start 启动全部事件泵
func (d *Driver) Start(ctx context.Context, bus *netsource.Bus, tree *frames.Tree) error {
	if d.client == nil {
		return fmt.Errorf("not attached")
	}
	if err := d.startNetworkPump(ctx, bus); err != nil {
		return err
	}
	if err := d.startPagePump(ctx, tree); err != nil {
		return err
	}
	if err := d.startMutationPump(ctx, tree); err != nil {
		return err
	}
	return nil
}

// Close 断开连接
func (d *Driver) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// hopID 为一次 will-be-sent 合成领域请求ID，并返回前一跳ID（若为重定向延续）
func (d *Driver) hopID(id network.RequestID, redirect bool) (domain.RequestID, domain.RequestID) {
	d.hopsMu.Lock()
	defer d.hopsMu.Unlock()
	st, ok := d.hops[id]
	if !ok {
		st = &hopState{}
		d.hops[id] = st
	}
	var prev domain.RequestID
	if redirect && st.count > 0 {
		prev = st.lastID
	}
	st.count++
	cur := domain.RequestID(fmt.Sprintf("%s:%d", id, st.count))
	st.lastID = cur
	return cur, prev
}

// currentHop 返回网络请求ID当前对应的领域请求ID
func (d *Driver) currentHop(id network.RequestID) (domain.RequestID, bool) {
	d.hopsMu.Lock()
	defer d.hopsMu.Unlock()
	st, ok := d.hops[id]
	if !ok || st.count == 0 {
		return "", false
	}
	return st.lastID, true
}

func (d *Driver) bindFetchID(id domain.RequestID, fid fetch.RequestID) {
	d.fetchMu.Lock()
	defer d.fetchMu.Unlock()
	d.fetchIDs[id] = fid
}

func (d *Driver) fetchID(id domain.RequestID) (fetch.RequestID, bool) {
	d.fetchMu.Lock()
	defer d.fetchMu.Unlock()
	fid, ok := d.fetchIDs[id]
	return fid, ok
}

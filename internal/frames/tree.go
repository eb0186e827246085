package frames

import (
	"fmt"

	"sync"

	"cdpdriver/internal/logger"
	"cdpdriver/pkg/domain"
)

// Tree 单页面的框架树
type Tree struct {
	mu     sync.RWMutex
	main   *Frame
	frames map[domain.FrameID]*Frame
	log    logger.Logger
}

// NewTree 创建框架树并初始化主框架
func NewTree(mainID domain.FrameID, l logger.Logger) *Tree {
	if l == nil {
		l = logger.NewNop()
	}
	t := &Tree{
		frames: make(map[domain.FrameID]*Frame),
		log:    l,
	}
	t.main = newFrame(mainID, nil, "")
	t.frames[mainID] = t.main
	return t
}

// MainFrame 返回主框架
func (t *Tree) MainFrame() *Frame {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.main
}

// FrameByID 按标识查找框架
func (t *Tree) FrameByID(id domain.FrameID) (*Frame, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.frames[id]
	return f, ok
}

// Attach 在指定父框架下附加子框架
func (t *Tree) Attach(parentID, id domain.FrameID, url string) (*Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.frames[parentID]
	if !ok {
		return nil, fmt.Errorf("attach frame %s: parent %s not found", id, parentID)
	}
	if parent.Detached() {
		return nil, fmt.Errorf("attach frame %s: parent %s detached", id, parentID)
	}
	if _, exists := t.frames[id]; exists {
		return nil, fmt.Errorf("attach frame %s: already attached", id)
	}
	f := newFrame(id, parent, url)
	parent.addChild(f)
	t.frames[id] = f
	t.log.Debug("附加框架", "frame", string(id), "parent", string(parentID))
	return f, nil
}

// Detach 分离框架及其整个子树。子框架先于父框架分离，
// 保证任一时刻已分离的框架都没有子节点。
func (t *Tree) Detach(id domain.FrameID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.frames[id]
	if !ok {
		return fmt.Errorf("detach frame %s: not found", id)
	}
	t.detachSubtree(f)
	if p := f.Parent(); p != nil {
		p.removeChild(f)
	}
	return nil
}

func (t *Tree) detachSubtree(f *Frame) {
	for _, c := range f.ChildFrames() {
		t.detachSubtree(c)
	}
	f.detach()
	delete(t.frames, f.ID())
	t.log.Debug("分离框架", "frame", string(f.ID()))
}

// Frames 返回全部在树框架的快照
func (t *Tree) Frames() []*Frame {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Frame, 0, len(t.frames))
	for _, f := range t.frames {
		out = append(out, f)
	}
	return out
}

package traffic

import (
	"net/http"
	"strings"
	"sync"

	"cdpdriver/pkg/domain"
)

// Header 封装通用的头部操作（键大小写不敏感，统一存储为小写）
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Has 判断指定 Header 是否存在
func (h Header) Has(key string) bool {
	if h == nil {
		return false
	}
	_, ok := h[strings.ToLower(key)]
	return ok
}

// Clone 返回 Header 的浅拷贝
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Merge 将 other 中的键值合并进来，同名键覆盖已有值
func (h Header) Merge(other map[string]string) {
	for k, v := range other {
		h.Set(k, v)
	}
}

// Outcome 请求的终结状态
type Outcome int

const (
	// OutcomePending 尚未应用任何终结操作
	OutcomePending Outcome = iota
	// OutcomeContinued 已放行（可能携带覆盖）
	OutcomeContinued
	// OutcomeAborted 已按枚举原因中止
	OutcomeAborted
	// OutcomeResponded 已用合成响应短路
	OutcomeResponded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinued:
		return "continued"
	case OutcomeAborted:
		return "aborted"
	case OutcomeResponded:
		return "responded"
	default:
		return "pending"
	}
}

// Request 中立的请求模型：一次网络请求在客户端视角下的完整状态
type Request struct {
	ID           domain.RequestID
	URL          string
	Method       string
	Headers      Header
	PostData     []byte
	ResourceType domain.ResourceType

	// FrameID 所属框架（弱引用，Request 不持有框架生命周期）
	FrameID domain.FrameID

	// RedirectChain 重定向到本请求的前序跳转，按发生顺序排列。
	// 单链，不成环：每个跳转只会链接一个前驱。
	RedirectChain []*Request

	// InterceptionEnabled 创建时刻页面拦截开关的快照。
	// 启停在分发前检查，不在每次终结调用时检查。
	InterceptionEnabled bool

	mu          sync.Mutex
	outcome     Outcome
	failureText string
	response    *Response
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{Headers: make(Header)}
}

// Outcome 返回当前终结状态
func (r *Request) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// MarkOutcome 原子地声明终结状态。同一请求只允许成功一次，
// 第二次调用返回 domain.ErrAlreadyHandled。
func (r *Request) MarkOutcome(o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome != OutcomePending {
		return domain.ErrAlreadyHandled
	}
	r.outcome = o
	return nil
}

// SetFailure 记录底层网络操作最终失败的原因
func (r *Request) SetFailure(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureText = text
}

// Failure 返回失败原因，仅在底层网络操作失败后非空
func (r *Request) Failure() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureText
}

// SetResponse 挂载已解析的响应
func (r *Request) SetResponse(res *Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res.Request = r
	r.response = res
}

// Response 返回已解析的响应；尚未收到响应时为 nil
func (r *Request) Response() *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// IsRedirectHop 判断本请求是否由重定向产生
func (r *Request) IsRedirectHop() bool {
	return len(r.RedirectChain) > 0
}

// Response 中立的响应模型
type Response struct {
	StatusCode int
	Headers    Header
	URL        string
	Body       []byte

	// Request 仅为回引，不代表所有权
	Request *Request
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    make(Header),
	}
}

// Ok 判断响应状态码是否属于成功区间
func (r *Response) Ok() bool {
	return r.StatusCode == 0 || (r.StatusCode >= 200 && r.StatusCode <= 299)
}

// ContinueOverrides 放行请求时的可选覆盖。Headers 按大小写不敏感
// 合并到原始头部之上：显式键替换，其余保留。
type ContinueOverrides struct {
	URL      *string
	Method   *string
	Headers  map[string]string
	PostData []byte
}

// Empty 判断覆盖是否为空
func (o *ContinueOverrides) Empty() bool {
	return o == nil || (o.URL == nil && o.Method == nil && len(o.Headers) == 0 && o.PostData == nil)
}

// MockResponse 短路网络时使用的合成响应载荷
type MockResponse struct {
	StatusCode  int
	Headers     map[string]string
	ContentType string
	Body        []byte
}

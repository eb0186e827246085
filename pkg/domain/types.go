package domain

// SessionID 业务会话唯一标识
type SessionID string

// FrameID 页面框架唯一标识
type FrameID string

// RequestID 拦截请求唯一标识（每次导航周期内唯一）
type RequestID string

// HandlerID 请求处理器注册标识
type HandlerID int64

// ResourceType 资源类型的粗粒度分类
type ResourceType string

const (
	ResourceDocument   ResourceType = "document"
	ResourceStylesheet ResourceType = "stylesheet"
	ResourceScript     ResourceType = "script"
	ResourceImage      ResourceType = "image"
	ResourceFetch      ResourceType = "fetch"
	ResourceOther      ResourceType = "other"
)

// AbortReason 中止请求时使用的错误原因枚举
type AbortReason string

const (
	AbortFailed               AbortReason = "failed"
	AbortAborted              AbortReason = "aborted"
	AbortTimedOut             AbortReason = "timedout"
	AbortAccessDenied         AbortReason = "accessdenied"
	AbortConnectionClosed     AbortReason = "connectionclosed"
	AbortConnectionReset      AbortReason = "connectionreset"
	AbortConnectionRefused    AbortReason = "connectionrefused"
	AbortConnectionAborted    AbortReason = "connectionaborted"
	AbortConnectionFailed     AbortReason = "connectionfailed"
	AbortNameNotResolved      AbortReason = "namenotresolved"
	AbortInternetDisconnected AbortReason = "internetdisconnected"
	AbortAddressUnreachable   AbortReason = "addressunreachable"
	AbortBlockedByClient      AbortReason = "blockedbyclient"
	AbortBlockedByResponse    AbortReason = "blockedbyresponse"
)

// abortErrorCodes 中止原因到 net:: 错误码的映射
var abortErrorCodes = map[AbortReason]string{
	AbortFailed:               "net::ERR_FAILED",
	AbortAborted:              "net::ERR_ABORTED",
	AbortTimedOut:             "net::ERR_TIMED_OUT",
	AbortAccessDenied:         "net::ERR_ACCESS_DENIED",
	AbortConnectionClosed:     "net::ERR_CONNECTION_CLOSED",
	AbortConnectionReset:      "net::ERR_CONNECTION_RESET",
	AbortConnectionRefused:    "net::ERR_CONNECTION_REFUSED",
	AbortConnectionAborted:    "net::ERR_CONNECTION_ABORTED",
	AbortConnectionFailed:     "net::ERR_CONNECTION_FAILED",
	AbortNameNotResolved:      "net::ERR_NAME_NOT_RESOLVED",
	AbortInternetDisconnected: "net::ERR_INTERNET_DISCONNECTED",
	AbortAddressUnreachable:   "net::ERR_ADDRESS_UNREACHABLE",
	AbortBlockedByClient:      "net::ERR_BLOCKED_BY_CLIENT",
	AbortBlockedByResponse:    "net::ERR_BLOCKED_BY_RESPONSE",
}

// Valid 判断中止原因是否属于枚举集合
func (r AbortReason) Valid() bool {
	_, ok := abortErrorCodes[r]
	return ok
}

// ErrorCode 返回中止原因对应的 net:: 错误码；未知原因按 failed 处理
func (r AbortReason) ErrorCode() string {
	if code, ok := abortErrorCodes[r]; ok {
		return code
	}
	return abortErrorCodes[AbortFailed]
}

// VisibilityMode 选择器等待的可见性模式
type VisibilityMode int

const (
	// VisibilityAny 仅要求节点存在于文档树中
	VisibilityAny VisibilityMode = iota
	// VisibilityVisible 要求节点存在且渲染盒非空、样式可见
	VisibilityVisible
	// VisibilityHidden 节点不存在，或存在但样式不可见，均视为满足
	VisibilityHidden
)

func (m VisibilityMode) String() string {
	switch m {
	case VisibilityVisible:
		return "visible"
	case VisibilityHidden:
		return "hidden"
	default:
		return "any"
	}
}

// ElementHandle 指向页面内节点的不透明句柄
type ElementHandle struct {
	ObjectID string  `json:"objectId"`
	Frame    FrameID `json:"frame"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	DevToolsURL      string `json:"devToolsURL"`
	ProcessTimeoutMS int    `json:"processTimeoutMS"`
	NavTimeoutMS     int    `json:"navTimeoutMS"`
	WaitTimeoutMS    int    `json:"waitTimeoutMS"`
}

// InterceptEventType 拦截事件流的事件类型
type InterceptEventType string

const (
	EventRequestWillBeSent InterceptEventType = "request_will_be_sent"
	EventRequestContinued  InterceptEventType = "request_continued"
	EventRequestAborted    InterceptEventType = "request_aborted"
	EventRequestFulfilled  InterceptEventType = "request_fulfilled"
	EventRequestFailed     InterceptEventType = "request_failed"
	EventResponseReceived  InterceptEventType = "response_received"
	EventRequestRedirected InterceptEventType = "request_redirected"
)

// InterceptEvent 拦截器对外发布的事件
type InterceptEvent struct {
	Type         InterceptEventType `json:"type"`
	Session      SessionID          `json:"session"`
	Request      RequestID          `json:"request"`
	Frame        FrameID            `json:"frame"`
	URL          string             `json:"url"`
	Method       string             `json:"method"`
	ResourceType ResourceType       `json:"resourceType"`
	StatusCode   int                `json:"statusCode,omitempty"`
	ErrorCode    string             `json:"errorCode,omitempty"`
	RedirectFrom RequestID          `json:"redirectFrom,omitempty"`
	Timestamp    int64              `json:"timestamp"`
}

package ctxkeys

// TraceIDKey 用于在 context 中传递调用链追踪ID
type TraceIDKey struct{}

// SessionIDKey 用于在 context 中传递会话ID
type SessionIDKey struct{}

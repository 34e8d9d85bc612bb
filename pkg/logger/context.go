package logger

import "context"

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	uidKey     contextKey = "uid"
	roomIDKey  contextKey = "room_id"
	connIDKey  contextKey = "conn_id"
)

// WithTraceID 注入请求追踪 ID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext 取出请求追踪 ID
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithUID 注入用户 ID
func WithUID(ctx context.Context, uid int64) context.Context {
	return context.WithValue(ctx, uidKey, uid)
}

// WithRoomID 注入房间 ID
func WithRoomID(ctx context.Context, roomID int64) context.Context {
	return context.WithValue(ctx, roomIDKey, roomID)
}

// WithConnID 注入连接 ID
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey, connID)
}

package authkit

import "context"

type contextKey uint8

const (
	clientIPKey contextKey = iota
	userAgentKey
)

// WithClientIP attaches the caller's IP for rate limiting, captcha
// verification and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// WithUserAgent attaches the caller's user agent for audit events.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey, ua)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey).(string)
	return ua
}

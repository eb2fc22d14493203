package http

import (
	"context"
	"time"
)

type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam Body 可以是 io.Reader、[]byte 或任意可 JSON 序列化的值；
// Response 为 *[]byte 时保存原始响应体，否则按 JSON 反序列化
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	Timeout time.Duration
	// MaxBodyBytes 限制响应体大小，0 表示使用默认值
	MaxBodyBytes int64
}

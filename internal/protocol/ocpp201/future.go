package ocpp201

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/charging-platform/charging-station-controller/internal/domain/serialization"
)

// ResponseStatus 请求的最终结果
type ResponseStatus string

const (
	ResponseAnswered  ResponseStatus = "Answered"
	ResponseCallError ResponseStatus = "CallError"
	ResponseOffline   ResponseStatus = "Offline"
	ResponseTimeout   ResponseStatus = "Timeout"
	ResponseDiscarded ResponseStatus = "Discarded"
)

// Response 关联请求的应答
type Response struct {
	Status           ResponseStatus
	MessageID        string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
}

// Answered 是否收到CallResult
func (r *Response) Answered() bool {
	return r != nil && r.Status == ResponseAnswered
}

// Decode 将CallResult负载解码到v
func (r *Response) Decode(v interface{}) error {
	if !r.Answered() {
		return NewError(ErrKindOffline, "no result for request (%s)", r.Status)
	}
	return serialization.NewSerializer().DecodePayload(r.Payload, v)
}

// Future 请求结果句柄，只会被解决一次
type Future struct {
	once     sync.Once
	done     chan struct{}
	response *Response
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolvedFuture 返回已解决的句柄
func resolvedFuture(status ResponseStatus) *Future {
	return CompletedFuture(&Response{Status: status})
}

// CompletedFuture 返回以resp解决的句柄
func CompletedFuture(resp *Response) *Future {
	f := newFuture()
	f.resolve(resp)
	return f
}

func (f *Future) resolve(resp *Response) {
	f.once.Do(func() {
		f.response = resp
		close(f.done)
	})
}

// Done 结果就绪时关闭
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait 等待结果；ctx结束时返回 Timeout
func (f *Future) Wait(ctx context.Context) *Response {
	select {
	case <-f.done:
		return f.response
	case <-ctx.Done():
		return &Response{Status: ResponseTimeout}
	}
}

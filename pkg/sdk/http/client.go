package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Client resty 封装。重试由调用方决定，这里不做
type Client struct {
	client *resty.Client
}

// NewClient 创建客户端，timeout<=0 时使用 30 秒
func NewClient(host string, timeout time.Duration) *Client {
	host = strings.TrimSuffix(host, "/")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout)
	return &Client{client: client}
}

// BaseURL 返回服务地址
func (c *Client) BaseURL() string {
	return c.client.BaseURL
}

type RequestOptions struct {
	Headers map[string]string
	Data    any
	Params  map[string]string
}

// 仅设置本次请求的默认 Header（不要再改 client 级 Header）
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "gokis")
	return r
}

// Response 已收到的 HTTP 应答（任意状态码）
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode 将应答体解码到 out
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return errors.Wrapf(err, "解析应答失败 (HTTP %d)", r.StatusCode)
	}
	return nil
}

// Do 发送请求。请求未能得到应答时返回 *TransportError；收到应答时无论状态码都返回 Response
func (c *Client) Do(ctx context.Context, method, endpoint string, opt *RequestOptions) (*Response, error) {
	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParams(opt.Params)
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json; charset=utf-8")
			rc.SetBody(opt.Data)
		}
	}

	var (
		resp *resty.Response
		err  error
	)
	switch strings.ToUpper(method) {
	case http.MethodGet:
		resp, err = rc.Get(endpoint)
	case http.MethodPost:
		resp, err = rc.Post(endpoint)
	case http.MethodDelete:
		resp, err = rc.Delete(endpoint)
	case http.MethodPut:
		resp, err = rc.Put(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
	if err != nil {
		return nil, &TransportError{Method: method, Endpoint: endpoint, Err: err}
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

// TransportError 请求没有到达券商或没有得到应答
type TransportError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError 非 2xx 应答
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP 错误 %d: %s", e.StatusCode, e.Body)
}

// Temporary 5xx 视为暂时性错误
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}

// ParseHTTPError 非 2xx 应答转换为 *StatusError
func ParseHTTPError(resp *Response) error {
	if resp.IsSuccess() {
		return nil
	}
	body := string(resp.Body)
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: body}
}

// IsRetryable 传输错误与 5xx 可重试
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return false
}

package client

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed 网关已关闭
	ErrClosed = errors.New("client: gateway closed")
	// ErrInvalidRequest 请求在发送前校验失败
	ErrInvalidRequest = errors.New("client: invalid request")
)

// 券商业务码
const (
	msgCdTokenExpired = "EGW00123" // 访问令牌过期
	msgCdTokenInvalid = "EGW00121" // 访问令牌无效
	msgCdTooManyReqs  = "EGW00201" // 每秒请求数超限
)

// APIError 查询类接口的业务拒绝（rt_cd != "0"）
type APIError struct {
	TrID  string
	RtCd  string
	MsgCd string
	Msg   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("券商拒绝 %s [rt_cd=%s msg_cd=%s]: %s", e.TrID, e.RtCd, e.MsgCd, e.Msg)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrValidation 请求体缺少必填字段
var ErrValidation = errors.New("signing: validation failed")

// ValidationError 指明缺失的字段
type ValidationError struct {
	Op    string
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: 缺少必填字段 %s", e.Op, e.Field)
}

// Is 使 errors.Is(err, ErrValidation) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	orderRequired = []string{"CANO", "ACNT_PRDT_CD", "PDNO"}
	rvseRequired  = []string{"CANO", "ACNT_PRDT_CD", "ORGN_ODNO"}
)

// Signer 计算 hashkey：base64(HMAC-SHA256(appSecret, canonical JSON))
type Signer struct {
	secret []byte
}

// NewSigner 以 app secret 为密钥创建签名器
func NewSigner(appSecret string) (*Signer, error) {
	if appSecret == "" {
		return nil, fmt.Errorf("app secret 不能为空")
	}
	return &Signer{secret: []byte(appSecret)}, nil
}

// SignBytes 对原始字节签名
func (s *Signer) SignBytes(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Sign 对请求体签名，返回 hashkey 与实际发送的 JSON
func (s *Signer) Sign(p *Payload) (string, []byte, error) {
	body, err := p.MarshalJSON()
	if err != nil {
		return "", nil, fmt.Errorf("序列化请求体失败: %w", err)
	}
	return s.SignBytes(body), body, nil
}

// SignOrder 下单请求签名
func (s *Signer) SignOrder(p *Payload) (string, []byte, error) {
	if err := requireFields(p, "sign_order", orderRequired); err != nil {
		return "", nil, err
	}
	return s.Sign(p)
}

// SignCancel 撤单请求签名
func (s *Signer) SignCancel(p *Payload) (string, []byte, error) {
	if err := requireFields(p, "sign_cancel", rvseRequired); err != nil {
		return "", nil, err
	}
	return s.Sign(p)
}

// SignModify 改单请求签名
func (s *Signer) SignModify(p *Payload) (string, []byte, error) {
	if err := requireFields(p, "sign_modify", rvseRequired); err != nil {
		return "", nil, err
	}
	return s.Sign(p)
}

func requireFields(p *Payload, op string, fields []string) error {
	for _, f := range fields {
		v, ok := p.Get(f)
		if !ok || v == nil {
			return &ValidationError{Op: op, Field: f}
		}
		if str, isStr := v.(string); isStr && str == "" {
			return &ValidationError{Op: op, Field: f}
		}
	}
	return nil
}

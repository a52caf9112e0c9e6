package types

import (
	"fmt"
	"time"
)

// TokenRefreshBuffer 距离过期不足该时长即视为过期
const TokenRefreshBuffer = 5 * time.Minute

// AccessToken OAuth2 访问令牌
type AccessToken struct {
	Token     string
	TokenType string
	ExpiresIn int64 // 秒
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewAccessToken 以签发时间和有效秒数构造令牌
func NewAccessToken(token, tokenType string, expiresIn int64, issuedAt time.Time) *AccessToken {
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &AccessToken{
		Token:     token,
		TokenType: tokenType,
		ExpiresIn: expiresIn,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(time.Duration(expiresIn) * time.Second),
	}
}

// IsExpired now 已进入过期缓冲区则返回 true
func (t *AccessToken) IsExpired(now time.Time) bool {
	if t == nil {
		return true
	}
	return !now.Before(t.ExpiresAt.Add(-TokenRefreshBuffer))
}

// Validate 校验令牌不变量
func (t *AccessToken) Validate() error {
	if t == nil || t.Token == "" {
		return fmt.Errorf("访问令牌为空")
	}
	if !t.ExpiresAt.After(t.IssuedAt) {
		return fmt.Errorf("访问令牌过期时间不晚于签发时间: issued=%s expires=%s", t.IssuedAt, t.ExpiresAt)
	}
	return nil
}

// Authorization 返回 authorization 头取值
func (t *AccessToken) Authorization() string {
	return "Bearer " + t.Token
}

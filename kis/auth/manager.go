package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gokis/internal/metrics"
	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/cache"
	"github.com/betbot/gokis/pkg/logger"
	"github.com/betbot/gokis/pkg/retry"
	sdkhttp "github.com/betbot/gokis/pkg/sdk/http"
)

// 券商 REST 地址
const (
	SandboxBaseURL = "https://openapivts.koreainvestment.com:29443"
	LiveBaseURL    = "https://openapi.koreainvestment.com:9443"
)

// 认证端点
const (
	tokenPath    = "/oauth2/tokenP"
	revokePath   = "/oauth2/revokeP"
	approvalPath = "/oauth2/Approval"
)

// defaultExpiresIn 应答未给出 expires_in 时的有效期（秒）
const defaultExpiresIn = 86400

// approvalTTL 实时连接 approval key 的复用时长
const approvalTTL = 12 * time.Hour

// DefaultBaseURL 按环境返回 REST 地址
func DefaultBaseURL(env types.Env) string {
	if env.IsSandbox() {
		return SandboxBaseURL
	}
	return LiveBaseURL
}

// Config 令牌管理器配置
type Config struct {
	AppKey    string
	AppSecret string
	Env       types.Env
	BaseURL   string // 为空按环境取默认值
	Timeout   time.Duration
	Retry     retry.Policy
}

// Option 管理器可选项
type Option func(*Manager)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger 替换日志上下文
func WithLogger(entry *logrus.Entry) Option {
	return func(m *Manager) { m.log = entry }
}

// Manager 访问令牌管理：缓存、单飞刷新、持久化、吊销
type Manager struct {
	cfg   Config
	http  *sdkhttp.Client
	cache TokenCache
	log   *logrus.Entry
	now   func() time.Time

	mu      sync.Mutex // 串行化签发与吊销
	current atomic.Pointer[types.AccessToken]

	approvalMu sync.Mutex
	approvals  *cache.InMemoryCache[types.Env, string]

	closeCtx context.Context
	closeFn  context.CancelFunc
}

// NewManager 创建管理器并尝试从缓存加载当前环境的令牌
func NewManager(cfg Config, tokenCache TokenCache, opts ...Option) (*Manager, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("app key/secret 不能为空")
	}
	if err := cfg.Env.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL(cfg.Env)
	}
	if tokenCache == nil {
		tokenCache = NewMemoryCache()
	}

	closeCtx, closeFn := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		http:      sdkhttp.NewClient(cfg.BaseURL, cfg.Timeout),
		cache:     tokenCache,
		log:       logger.Component("kis.auth").WithField("env", cfg.Env),
		now:       time.Now,
		approvals: cache.NewInMemoryCache[types.Env, string](approvalTTL, 0),
		closeCtx:  closeCtx,
		closeFn:   closeFn,
	}
	for _, opt := range opts {
		opt(m)
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.loadCached(loadCtx)
	return m, nil
}

// Env 当前环境
func (m *Manager) Env() types.Env { return m.cfg.Env }

// AppKey 应用 key
func (m *Manager) AppKey() string { return m.cfg.AppKey }

// AppSecret 应用 secret
func (m *Manager) AppSecret() string { return m.cfg.AppSecret }

// Current 返回当前持有的令牌（可能已过期或为 nil），不触发刷新
func (m *Manager) Current() *types.AccessToken {
	return m.current.Load()
}

// loadCached 启动时加载缓存；损坏或过期的条目会被删除
func (m *Manager) loadCached(ctx context.Context) {
	tok, err := m.cache.Load(ctx, m.cfg.Env)
	switch {
	case err == nil:
	case errors.Is(err, ErrCacheMiss):
		m.log.Debug("缓存中没有访问令牌")
		return
	case errors.Is(err, ErrCacheCorrupted):
		m.log.WithError(err).Warn("缓存的访问令牌已损坏，删除")
		m.deleteCache(ctx)
		return
	default:
		m.log.WithError(err).Warn("读取令牌缓存失败")
		return
	}

	if tok.IsExpired(m.now()) {
		m.log.WithField("expires_at", tok.ExpiresAt).Info("缓存的访问令牌已过期，删除")
		m.deleteCache(ctx)
		return
	}
	m.current.Store(tok)
	metrics.TokenCacheHits.Add(1)
	m.log.WithField("expires_at", tok.ExpiresAt).Info("从缓存加载访问令牌")
}

func (m *Manager) deleteCache(ctx context.Context) {
	if err := m.cache.Delete(ctx, m.cfg.Env); err != nil {
		m.log.WithError(err).Warn("删除令牌缓存失败")
	}
}

// EnsureToken 返回有效令牌，必要时刷新
func (m *Manager) EnsureToken(ctx context.Context) (*types.AccessToken, error) {
	return m.GetToken(ctx, false)
}

// GetToken 返回有效令牌。并发调用方需要刷新时只会签发一次
func (m *Manager) GetToken(ctx context.Context, forceRefresh bool) (*types.AccessToken, error) {
	if m.closeCtx.Err() != nil {
		return nil, ErrClosed
	}
	seen := m.current.Load()
	if !forceRefresh && !seen.IsExpired(m.now()) {
		return seen, nil
	}
	return m.renew(ctx, seen, forceRefresh)
}

// Refresh 以 stale 被券商拒绝为前提刷新令牌。
// 其他调用方已换掉 stale 时直接返回当前令牌，不再签发
func (m *Manager) Refresh(ctx context.Context, stale *types.AccessToken) (*types.AccessToken, error) {
	if m.closeCtx.Err() != nil {
		return nil, ErrClosed
	}
	return m.renew(ctx, stale, true)
}

// renew 持锁复查：当前令牌有效，且未强制或已不是 stale 时复用
func (m *Manager) renew(ctx context.Context, stale *types.AccessToken, force bool) (*types.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current.Load()
	if !cur.IsExpired(m.now()) && (!force || stale == nil || cur.Token != stale.Token) {
		return cur, nil
	}

	tok, err := m.issue(ctx)
	if err != nil {
		return nil, err
	}
	m.current.Store(tok)
	m.approvals.Clear()
	metrics.TokenIssued.Add(1)
	m.log.WithFields(logrus.Fields{
		"token":      logger.Mask(tok.Token),
		"expires_at": tok.ExpiresAt,
	}).Info("访问令牌已签发")

	if err := m.cache.Save(ctx, m.cfg.Env, tok); err != nil {
		m.log.WithError(err).Warn("保存令牌缓存失败")
	}
	return tok, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

func (m *Manager) issue(ctx context.Context) (*types.AccessToken, error) {
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     m.cfg.AppKey,
		"appsecret":  m.cfg.AppSecret,
	}
	var out tokenResponse
	if err := m.post(ctx, "令牌签发", tokenPath, body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: access_token 为空", ErrInvalidResponse)
	}
	if out.ExpiresIn <= 0 {
		out.ExpiresIn = defaultExpiresIn
	}
	return types.NewAccessToken(out.AccessToken, out.TokenType, out.ExpiresIn, m.now()), nil
}

// RevokeToken 吊销当前令牌。无论吊销请求成败都会清空内存与持久化缓存；
// 没有令牌或请求失败时返回 false
func (m *Manager) RevokeToken(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok := m.current.Swap(nil)
	m.approvals.Clear()
	defer func() {
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		m.deleteCache(clearCtx)
	}()

	if tok == nil {
		m.log.Info("没有可吊销的访问令牌")
		return false
	}

	body := map[string]string{
		"appkey":    m.cfg.AppKey,
		"appsecret": m.cfg.AppSecret,
		"token":     tok.Token,
	}
	if err := m.post(ctx, "令牌吊销", revokePath, body, nil); err != nil {
		m.log.WithError(err).Warn("访问令牌吊销失败")
		return false
	}
	metrics.TokenRevoked.Add(1)
	m.log.WithField("token", logger.Mask(tok.Token)).Info("访问令牌已吊销")
	return true
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// ApprovalKey 返回实时连接用的 approval key，同一令牌周期内复用
func (m *Manager) ApprovalKey(ctx context.Context) (string, error) {
	if m.closeCtx.Err() != nil {
		return "", ErrClosed
	}
	m.approvalMu.Lock()
	defer m.approvalMu.Unlock()

	if key, ok := m.approvals.Get(m.cfg.Env); ok {
		return key, nil
	}

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     m.cfg.AppKey,
		"secretkey":  m.cfg.AppSecret,
	}
	var out approvalResponse
	if err := m.post(ctx, "approval key 签发", approvalPath, body, &out); err != nil {
		return "", err
	}
	if out.ApprovalKey == "" {
		return "", fmt.Errorf("%w: approval_key 为空", ErrInvalidResponse)
	}
	m.approvals.Set(m.cfg.Env, out.ApprovalKey, 0)
	m.log.WithField("approval_key", logger.Mask(out.ApprovalKey)).Info("approval key 已签发")
	return out.ApprovalKey, nil
}

// Headers 返回带认证信息的公共请求头
func (m *Manager) Headers(tok *types.AccessToken) map[string]string {
	return map[string]string{
		"authorization": tok.Authorization(),
		"appkey":        m.cfg.AppKey,
		"appsecret":     m.cfg.AppSecret,
		"content-type":  "application/json; charset=utf-8",
	}
}

// Close 取消进行中的重试，之后的调用返回 ErrClosed
func (m *Manager) Close() error {
	m.closeFn()
	m.approvals.Close()
	return nil
}

// bind 使 ctx 同时受 Close 控制
func (m *Manager) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(m.closeCtx, func() { cancel(ErrClosed) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// post 带重试的认证请求。传输错误与 5xx 重试，限流与其他 4xx 立即失败
func (m *Manager) post(ctx context.Context, op, path string, body any, out any) error {
	ctx, cancel := m.bind(ctx)
	defer cancel()

	_, err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) (struct{}, error) {
		resp, err := m.http.Do(ctx, http.MethodPost, path, &sdkhttp.RequestOptions{Data: body})
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, classify(resp, out)
	}, func(attempt int, err error, next time.Duration) {
		metrics.RequestRetries.Add(1)
		m.log.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"next":    next,
		}).Warn("认证请求失败，稍后重试")
	})
	return err
}

// classify 将应答分类为成功、可重试或不可重试错误
func classify(resp *sdkhttp.Response, out any) error {
	if resp.IsSuccess() {
		if out == nil {
			return nil
		}
		if err := resp.Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrInvalidResponse, err))
		}
		return nil
	}

	var eb errorResponse
	_ = resp.Decode(&eb)
	if eb.ErrorCode == RateLimitCode {
		metrics.TokenRateLimited.Add(1)
		return retry.Permanent(&RateLimitError{Code: eb.ErrorCode, Description: eb.ErrorDescription})
	}
	if resp.StatusCode >= 500 {
		return sdkhttp.ParseHTTPError(resp)
	}
	return retry.Permanent(&APIError{
		StatusCode:  resp.StatusCode,
		Code:        eb.ErrorCode,
		Description: eb.ErrorDescription,
	})
}

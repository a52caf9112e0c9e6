package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gokis/internal/metrics"
	"github.com/betbot/gokis/kis/signing"
	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/cache"
	"github.com/betbot/gokis/pkg/logger"
	"github.com/betbot/gokis/pkg/ratelimit"
	"github.com/betbot/gokis/pkg/retry"
	sdkhttp "github.com/betbot/gokis/pkg/sdk/http"
)

// TokenProvider 网关所需的令牌能力，*auth.Manager 满足
type TokenProvider interface {
	GetToken(ctx context.Context, forceRefresh bool) (*types.AccessToken, error)
	Refresh(ctx context.Context, stale *types.AccessToken) (*types.AccessToken, error)
	Headers(tok *types.AccessToken) map[string]string
}

// Config 网关配置
type Config struct {
	AccountNo string // CANO-ACNT_PRDT_CD
	Env       types.Env
	BaseURL   string
	Exchange  string // 默认 NASD
	Currency  string // 默认 USD
	CustType  string // 默认 P（个人）
	Timeout   time.Duration
	Retry     retry.Policy
	QuoteTTL  time.Duration // 行情缓存时长，0 使用 1 秒，负数关闭
	Limiter   *ratelimit.RateLimitManager
}

// Gateway 海外股票下单与查询
type Gateway struct {
	cfg     Config
	account types.Account
	tokens  TokenProvider
	signer  *signing.Signer
	http    *sdkhttp.Client
	limiter *ratelimit.RateLimitManager
	quotes  *cache.InMemoryCache[string, *types.Quote]
	log     *logrus.Entry
	now     func() time.Time

	closeCtx context.Context
	closeFn  context.CancelFunc
}

// NewGateway 创建网关
func NewGateway(cfg Config, tokens TokenProvider, signer *signing.Signer) (*Gateway, error) {
	if tokens == nil || signer == nil {
		return nil, fmt.Errorf("tokens 与 signer 不能为空")
	}
	if err := cfg.Env.Validate(); err != nil {
		return nil, err
	}
	account, err := types.ParseAccount(cfg.AccountNo)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL 不能为空")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "NASD"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.CustType == "" {
		cfg.CustType = "P"
	}
	if cfg.QuoteTTL == 0 {
		cfg.QuoteTTL = time.Second
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewRateLimitManager(cfg.Env.IsSandbox())
	}

	closeCtx, closeFn := context.WithCancel(context.Background())
	return &Gateway{
		cfg:      cfg,
		account:  account,
		tokens:   tokens,
		signer:   signer,
		http:     sdkhttp.NewClient(cfg.BaseURL, cfg.Timeout),
		limiter:  cfg.Limiter,
		quotes:   cache.NewInMemoryCache[string, *types.Quote](cfg.QuoteTTL, time.Minute),
		log:      logger.Component("kis.gateway").WithFields(logrus.Fields{"env": cfg.Env, "account": account.CANO}),
		now:      time.Now,
		closeCtx: closeCtx,
		closeFn:  closeFn,
	}, nil
}

// Account 账户
func (g *Gateway) Account() types.Account { return g.account }

// Close 取消进行中的重试
func (g *Gateway) Close() error {
	g.closeFn()
	g.quotes.Close()
	return nil
}

func (g *Gateway) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(g.closeCtx, func() { cancel(ErrClosed) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// request 一次券商调用
type request struct {
	op       string
	method   string
	path     string
	tr       trPair
	body     []byte // 已签名的请求体
	hashkey  string
	params   map[string]string
	limitKey string
	corrID   string
	trCont   string
}

// envelope 公共应答头
type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// call 发送请求。传输错误、5xx、限流与令牌失效会重试；
// 带 rt_cd 的业务应答无论状态码都原样返回，由调用方解释
func (g *Gateway) call(ctx context.Context, req request) (*sdkhttp.Response, error) {
	if g.closeCtx.Err() != nil {
		return nil, ErrClosed
	}
	ctx, cancel := g.bind(ctx)
	defer cancel()

	trID := req.tr.For(g.cfg.Env)
	log := g.log.WithFields(logrus.Fields{"op": req.op, "tr_id": trID})
	if req.corrID != "" {
		log = log.WithField("client_order_id", req.corrID)
	}

	attempt := 0
	refreshed := false
	return retry.Do(ctx, g.cfg.Retry, func(ctx context.Context) (*sdkhttp.Response, error) {
		attempt++
		if err := g.limiter.Wait(ctx, req.limitKey); err != nil {
			return nil, retry.Permanent(err)
		}
		tok, err := g.tokens.GetToken(ctx, false)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("获取访问令牌失败: %w", err))
		}

		headers := g.tokens.Headers(tok)
		headers["tr_id"] = trID
		headers["custtype"] = g.cfg.CustType
		if req.hashkey != "" {
			headers["hashkey"] = req.hashkey
		}
		if req.trCont != "" {
			headers["tr_cont"] = req.trCont
		}
		opt := &sdkhttp.RequestOptions{Headers: headers, Params: req.params}
		if req.body != nil {
			opt.Data = req.body
		}

		log.WithField("attempt", attempt).Debug("发送券商请求")
		resp, err := g.http.Do(ctx, req.method, req.path, opt)
		if err != nil {
			return nil, err
		}

		var env envelope
		_ = json.Unmarshal(resp.Body, &env)
		switch env.MsgCd {
		case msgCdTokenExpired, msgCdTokenInvalid:
			if !refreshed {
				refreshed = true
				if _, err := g.tokens.Refresh(ctx, tok); err != nil {
					return nil, retry.Permanent(fmt.Errorf("刷新访问令牌失败: %w", err))
				}
				return nil, fmt.Errorf("访问令牌失效 [%s]，已刷新", env.MsgCd)
			}
		case msgCdTooManyReqs:
			return nil, fmt.Errorf("请求过于频繁 [%s]: %s", env.MsgCd, env.Msg1)
		}

		if resp.IsSuccess() || env.RtCd != "" {
			return resp, nil
		}
		herr := sdkhttp.ParseHTTPError(resp)
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, herr
		}
		return nil, retry.Permanent(herr)
	}, func(attempt int, err error, next time.Duration) {
		metrics.RequestRetries.Add(1)
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "next": next}).Warn("券商请求失败，稍后重试")
	})
}

// query GET 查询，rt_cd 非 0 时返回 *APIError
func (g *Gateway) query(ctx context.Context, op string, tr trPair, path string, params map[string]string, trCont, limitKey string, out any) (*sdkhttp.Response, error) {
	resp, err := g.call(ctx, request{
		op:       op,
		method:   http.MethodGet,
		path:     path,
		tr:       tr,
		params:   params,
		limitKey: limitKey,
		trCont:   trCont,
	})
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := resp.Decode(&env); err != nil {
		return nil, err
	}
	if env.RtCd != "" && env.RtCd != "0" {
		return nil, &APIError{TrID: tr.For(g.cfg.Env), RtCd: env.RtCd, MsgCd: env.MsgCd, Msg: env.Msg1}
	}
	if err := resp.Decode(out); err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) baseParams() map[string]string {
	return map[string]string{
		"CANO":         g.account.CANO,
		"ACNT_PRDT_CD": g.account.ProductCode,
		"OVRS_EXCG_CD": g.cfg.Exchange,
	}
}

package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gokis/kis/auth"
	"github.com/betbot/gokis/kis/client"
	"github.com/betbot/gokis/kis/signing"
	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/config"
	"github.com/betbot/gokis/pkg/logger"
	"github.com/betbot/gokis/pkg/retry"
	"github.com/betbot/gokis/pkg/secretstore"
)

// app 一次命令执行所需的组件
type app struct {
	cfg     *config.Config
	env     types.Env
	tokens  *auth.Manager
	gateway *client.Gateway
	log     *logrus.Entry

	closers []func() error
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile, opts.envFile)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.sandbox:
		cfg.KIS.UseSandbox = true
	case opts.live:
		cfg.KIS.UseSandbox = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "配置校验失败")
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		return nil, errors.Wrap(err, "初始化日志失败")
	}
	return cfg, nil
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg: cfg,
		env: types.EnvFromSandbox(cfg.KIS.UseSandbox),
		log: logger.Component("kisctl"),
	}

	tokenCache, err := a.tokenCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	baseURL := cfg.KIS.BaseURL
	if baseURL == "" {
		baseURL = auth.DefaultBaseURL(a.env)
	}
	a.tokens, err = auth.NewManager(auth.Config{
		AppKey:    cfg.KIS.AppKey,
		AppSecret: cfg.KIS.AppSecret,
		Env:       a.env,
		BaseURL:   baseURL,
		Timeout:   cfg.KIS.Timeout,
		Retry:     retryPolicy(cfg),
	}, tokenCache)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.tokens.Close)

	signer, err := signing.NewSigner(cfg.KIS.AppSecret)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gateway, err = client.NewGateway(client.Config{
		AccountNo: cfg.KIS.AccountNo,
		Env:       a.env,
		BaseURL:   baseURL,
		Exchange:  cfg.KIS.Exchange,
		Currency:  cfg.KIS.Currency,
		Timeout:   cfg.KIS.Timeout,
		Retry:     retryPolicy(cfg),
	}, a.tokens, signer)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.gateway.Close)

	a.log.WithFields(logrus.Fields{
		"env":     a.env,
		"account": logger.Mask(cfg.KIS.AccountNo),
		"cache":   cfg.TokenCache.Backend,
	}).Debug("组件初始化完成")
	return a, nil
}

func (a *app) tokenCache(ctx context.Context) (auth.TokenCache, error) {
	tc := a.cfg.TokenCache
	switch tc.Backend {
	case config.CacheBackendMemory:
		return auth.NewMemoryCache(), nil
	case config.CacheBackendFile:
		return auth.NewFileCache(tc.Dir), nil
	case config.CacheBackendBadger:
		var key []byte
		if tc.BadgerKey != "" {
			k, err := secretstore.ParseKey(tc.BadgerKey)
			if err != nil {
				return nil, errors.Wrap(err, "解析 badger 密钥失败")
			}
			key = k
		}
		store, err := secretstore.Open(secretstore.OpenOptions{Path: tc.BadgerPath, EncryptionKey: key})
		if err != nil {
			return nil, errors.Wrapf(err, "打开 badger 失败 %s", tc.BadgerPath)
		}
		a.closers = append(a.closers, store.Close)
		return auth.NewBadgerCache(store), nil
	case config.CacheBackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     tc.RedisAddr,
			Password: tc.RedisPassword,
			DB:       tc.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, errors.Wrapf(err, "连接 redis 失败 %s", tc.RedisAddr)
		}
		return auth.NewRedisCache(rdb, tc.RedisPrefix), nil
	default:
		return nil, errors.Errorf("未知的令牌缓存后端: %s", tc.Backend)
	}
}

// Close 逆序关闭
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("关闭组件失败")
		}
	}
	a.closers = nil
}

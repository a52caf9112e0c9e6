// Package server 状态查询 HTTP 服务
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gokis/internal/metrics"
	"github.com/betbot/gokis/kis/realtime"
	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/journal"
	"github.com/betbot/gokis/pkg/logger"
)

// TokenStatus *auth.Manager 满足
type TokenStatus interface {
	Env() types.Env
	Current() *types.AccessToken
}

// FeedStatus *realtime.Feed 满足
type FeedStatus interface {
	State() realtime.State
	Subscriptions() []types.Subscription
	LastHeartbeat() time.Time
}

// QuoteSource *client.Gateway 满足
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*types.Quote, error)
}

// ExecutionLog *journal.Journal 满足
type ExecutionLog interface {
	List(ctx context.Context, f journal.Filter) ([]types.Execution, error)
}

// Config 除 Tokens 外均可为空，对应接口返回 404
type Config struct {
	Account string
	Tokens  TokenStatus
	Feed    FeedStatus
	Quotes  QuoteSource
	Journal ExecutionLog
}

type Server struct {
	cfg Config
	log *logrus.Entry
	now func() time.Time
}

func New(cfg Config) (*Server, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("tokens is required")
	}
	return &Server{cfg: cfg, log: logger.Component("kis.server"), now: time.Now}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	kis := r.Group("/kis")
	kis.GET("/status", s.handleStatus)
	kis.GET("/quote/:symbol", s.handleQuote)
	kis.GET("/executions", s.handleExecutions)
	return r
}

// Run 监听 addr，ctx 取消时优雅退出
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("状态服务已启动")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().UTC().Format(time.RFC3339)})
}

type tokenView struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ExpiresIn int64      `json:"expires_in_sec,omitempty"`
}

type feedView struct {
	State         string   `json:"state"`
	Subscriptions []string `json:"subscriptions"`
	LastHeartbeat string   `json:"last_heartbeat,omitempty"`
}

type statusView struct {
	Env     types.Env `json:"env"`
	Account string    `json:"account,omitempty"`
	Token   tokenView `json:"token"`
	Feed    *feedView `json:"feed,omitempty"`

	Counters map[string]int64 `json:"counters"`
}

func (s *Server) handleStatus(c *gin.Context) {
	now := s.now()
	view := statusView{Env: s.cfg.Tokens.Env(), Account: s.cfg.Account, Counters: metrics.Snapshot()}

	if tok := s.cfg.Tokens.Current(); tok != nil {
		exp := tok.ExpiresAt
		view.Token = tokenView{
			Valid:     !tok.IsExpired(now),
			ExpiresAt: &exp,
			ExpiresIn: int64(exp.Sub(now).Seconds()),
		}
	}
	if s.cfg.Feed != nil {
		subs := s.cfg.Feed.Subscriptions()
		fv := &feedView{State: s.cfg.Feed.State().String(), Subscriptions: make([]string, 0, len(subs))}
		for _, sub := range subs {
			fv.Subscriptions = append(fv.Subscriptions, sub.Key())
		}
		if hb := s.cfg.Feed.LastHeartbeat(); !hb.IsZero() {
			fv.LastHeartbeat = hb.UTC().Format(time.RFC3339)
		}
		view.Feed = fv
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleQuote(c *gin.Context) {
	if s.cfg.Quotes == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quote source not configured"})
		return
	}
	q, err := s.cfg.Quotes.GetQuote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.log.WithError(err).WithField("symbol", c.Param("symbol")).Warn("查询行情失败")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":      q.Symbol,
		"last":        q.Last,
		"prev_close":  q.PrevClose,
		"change_rate": q.ChangeRate,
		"volume":      q.Volume,
		"fetched_at":  q.FetchedAt.UTC().Format(time.RFC3339Nano),
	})
}

type executionView struct {
	OrderID    string `json:"order_id"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Qty        int64  `json:"qty"`
	Price      string `json:"price"`
	ExecutedAt string `json:"executed_at"`
}

func (s *Server) handleExecutions(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal not configured"})
		return
	}
	f := journal.Filter{Account: s.cfg.Account, Symbol: strings.TrimSpace(c.Query("symbol"))}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}
	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since, want RFC3339"})
			return
		}
		f.Since = ts
	}

	execs, err := s.cfg.Journal.List(c.Request.Context(), f)
	if err != nil {
		s.log.WithError(err).Error("读取成交账本失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]executionView, 0, len(execs))
	for _, e := range execs {
		out = append(out, executionView{
			OrderID:    e.OrderID,
			Symbol:     e.Symbol,
			Side:       string(e.Side),
			Qty:        e.ExecutedQty,
			Price:      e.ExecutedPrice.String(),
			ExecutedAt: e.ExecutedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"executions": out})
}

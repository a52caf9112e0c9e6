// Package realtime 海外股票实时报价/成交 WebSocket 推送
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gokis/internal/metrics"
	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/logger"
)

var (
	// ErrNotConnected 未处于 Connected 状态
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrReconnectFailed 重连次数耗尽
	ErrReconnectFailed = errors.New("realtime: reconnect attempts exhausted")
	// ErrClosed Feed 已关闭
	ErrClosed = errors.New("realtime: feed closed")
)

const (
	SandboxURL = "ws://ops.koreainvestment.com:31000"
	LiveURL    = "ws://ops.koreainvestment.com:21000"
)

// DefaultURL 按环境返回推送地址
func DefaultURL(env types.Env) string {
	if env.IsSandbox() {
		return SandboxURL
	}
	return LiveURL
}

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// maxBackoffDelay 未配置上限时指数退避的封顶
const maxBackoffDelay = 24 * time.Hour

// Backoff 重连间隔形状
type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// Config 推送连接配置
type Config struct {
	URL                  string
	CustType             string
	HeartbeatInterval    time.Duration
	ReadTimeout          time.Duration // 0 表示心跳间隔的 3 倍
	WriteTimeout         time.Duration
	HandshakeTimeout     time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReconnectBackoff     Backoff
	MaxReconnectDelay    time.Duration
	QuoteTrID            string
	TradeTrID            string
	EventBufferSize      int
}

// DefaultConfig 返回默认配置
func DefaultConfig(env types.Env) Config {
	return Config{
		URL:                  DefaultURL(env),
		CustType:             "P",
		HeartbeatInterval:    30 * time.Second,
		WriteTimeout:         10 * time.Second,
		HandshakeTimeout:     15 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Second,
		ReconnectBackoff:     BackoffLinear,
		MaxReconnectDelay:    60 * time.Second,
		QuoteTrID:            "H0STCNT0",
		TradeTrID:            "H0STCNI0",
		EventBufferSize:      1024,
	}
}

func (c Config) validate() error {
	switch {
	case c.URL == "":
		return fmt.Errorf("推送地址不能为空")
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("心跳间隔必须大于 0")
	case c.MaxReconnectAttempts < 0:
		return fmt.Errorf("最大重连次数不能为负数")
	case c.ReconnectDelay <= 0:
		return fmt.Errorf("重连间隔必须大于 0")
	case c.ReconnectBackoff != BackoffLinear && c.ReconnectBackoff != BackoffExponential:
		return fmt.Errorf("未知重连退避方式: %q", string(c.ReconnectBackoff))
	case c.QuoteTrID == "" || c.TradeTrID == "":
		return fmt.Errorf("tr_id 不能为空")
	case c.QuoteTrID == c.TradeTrID:
		return fmt.Errorf("报价与成交 tr_id 不能相同")
	case c.EventBufferSize <= 0:
		return fmt.Errorf("事件缓冲区必须大于 0")
	}
	return nil
}

// reconnectDelay 第 attempt 次重连前的等待时间
func (c Config) reconnectDelay(attempt int) time.Duration {
	d := c.ReconnectDelay * time.Duration(attempt)
	if c.ReconnectBackoff == BackoffExponential {
		d = c.ReconnectDelay
		for i := 1; i < attempt && d < maxBackoffDelay; i++ {
			d *= 2
		}
	}
	if c.MaxReconnectDelay > 0 && d > c.MaxReconnectDelay {
		d = c.MaxReconnectDelay
	}
	return d
}

// TokenSource 建立连接所需的认证能力，*auth.Manager 满足
type TokenSource interface {
	EnsureToken(ctx context.Context) (*types.AccessToken, error)
	ApprovalKey(ctx context.Context) (string, error)
}

// session 一次物理连接
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func newSession(conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{conn: conn, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (s *session) write(data []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// close 主动关闭，读循环据 ctx 判断不触发重连
func (s *session) close(graceful bool) {
	s.once.Do(func() {
		s.cancel()
		if graceful {
			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			s.writeMu.Unlock()
		}
		_ = s.conn.Close()
	})
}

// Feed 实时推送客户端
type Feed struct {
	cfg     Config
	ids     trIDs
	tokens  TokenSource
	handler Handler
	dialer  *websocket.Dialer
	log     *logrus.Entry
	now     func() time.Time

	// 串行化 Connect/Disconnect/重连
	lifecycleMu sync.Mutex
	state       atomic.Int32

	// sess、approvalKey 与 reconnect
	sessMu      sync.Mutex
	sess        *session
	approvalKey string
	reconnect   *reconnectJob

	// 持有期间状态切换为 Connected 并重放订阅
	subMu sync.Mutex
	subs  map[string]types.Subscription

	lastHeartbeat atomic.Int64

	events       chan event
	stopDispatch chan struct{}
	dispatchDone chan struct{}
	closed       atomic.Bool
	closeOnce    sync.Once
}

// NewFeed 创建 Feed 并启动分发 goroutine
func NewFeed(cfg Config, tokens TokenSource, handler Handler) (*Feed, error) {
	if tokens == nil || handler == nil {
		return nil, fmt.Errorf("tokens 与 handler 不能为空")
	}
	if cfg.CustType == "" {
		cfg.CustType = "P"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * cfg.HeartbeatInterval
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f := &Feed{
		cfg:     cfg,
		ids:     trIDs{quote: cfg.QuoteTrID, trade: cfg.TradeTrID},
		tokens:  tokens,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log:          logger.Component("kis.realtime").WithField("url", cfg.URL),
		now:          time.Now,
		subs:         make(map[string]types.Subscription),
		events:       make(chan event, cfg.EventBufferSize),
		stopDispatch: make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	go f.dispatchLoop()
	return f, nil
}

// State 当前状态
func (f *Feed) State() State {
	return State(f.state.Load())
}

func (f *Feed) setState(s State) {
	old := State(f.state.Swap(int32(s)))
	if old != s {
		f.log.WithFields(logrus.Fields{"from": old, "to": s}).Info("连接状态变更")
	}
}

// Subscriptions 当前保留的订阅，按键排序
func (f *Feed) Subscriptions() []types.Subscription {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	out := make([]types.Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// LastHeartbeat 最近一次收到服务端心跳的时间
func (f *Feed) LastHeartbeat() time.Time {
	ns := f.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Connect 建立连接并重放保留的订阅。已连接时直接返回
func (f *Feed) Connect(ctx context.Context) error {
	if f.closed.Load() {
		return ErrClosed
	}
	f.cancelReconnect()

	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()
	if f.closed.Load() {
		return ErrClosed
	}
	if f.State() == StateConnected && f.hasSession() {
		return nil
	}
	f.setState(StateConnecting)
	if err := f.open(ctx); err != nil {
		f.setState(StateDisconnected)
		return err
	}
	return nil
}

// open 认证、拨号、重放订阅，成功后进入 Connected。调用方持有 lifecycleMu
func (f *Feed) open(ctx context.Context) error {
	if _, err := f.tokens.EnsureToken(ctx); err != nil {
		return fmt.Errorf("获取访问令牌失败: %w", err)
	}
	key, err := f.tokens.ApprovalKey(ctx)
	if err != nil {
		return fmt.Errorf("获取 approval key 失败: %w", err)
	}
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("连接 %s 失败: %w", f.cfg.URL, err)
	}
	s := newSession(conn)

	f.subMu.Lock()
	defer f.subMu.Unlock()

	f.sessMu.Lock()
	f.sess = s
	f.approvalKey = key
	f.sessMu.Unlock()

	replayed := 0
	for _, sub := range f.sortedSubsLocked() {
		if err := f.sendControl(s, key, trTypeSubscribe, sub); err != nil {
			f.detach(s)
			s.close(false)
			return fmt.Errorf("重放订阅 %s 失败: %w", sub.Key(), err)
		}
		replayed++
	}

	f.setState(StateConnected)
	go f.readLoop(s)
	go f.heartbeatLoop(s)
	f.log.WithField("replayed", replayed).Info("实时推送已连接")
	return nil
}

func (f *Feed) sortedSubsLocked() []types.Subscription {
	out := make([]types.Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (f *Feed) hasSession() bool {
	f.sessMu.Lock()
	defer f.sessMu.Unlock()
	return f.sess != nil
}

// detach 若 s 仍是当前会话则解除
func (f *Feed) detach(s *session) {
	f.sessMu.Lock()
	if f.sess == s {
		f.sess = nil
	}
	f.sessMu.Unlock()
}

// reconnectJob 一轮重连
type reconnectJob struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (f *Feed) cancelReconnect() {
	f.sessMu.Lock()
	f.cancelReconnectLocked()
	f.sessMu.Unlock()
}

func (f *Feed) cancelReconnectLocked() {
	if f.reconnect != nil {
		f.reconnect.cancel()
		f.reconnect = nil
	}
}

// finishReconnect 仅当 job 仍是当前重连时释放
func (f *Feed) finishReconnect(job *reconnectJob) {
	f.sessMu.Lock()
	defer f.sessMu.Unlock()
	job.cancel()
	if f.reconnect == job {
		f.reconnect = nil
	}
}

// Disconnect 计划内断开：取消重连、关闭连接、清空订阅，不会触发重连
func (f *Feed) Disconnect() {
	f.cancelReconnect()

	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	f.sessMu.Lock()
	s := f.sess
	f.sess = nil
	f.cancelReconnectLocked()
	f.sessMu.Unlock()

	f.subMu.Lock()
	f.subs = make(map[string]types.Subscription)
	f.setState(StateDisconnected)
	f.subMu.Unlock()

	if s != nil {
		s.close(true)
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			f.log.Warn("等待读循环退出超时")
		}
	}
}

// Close 断开并停止分发 goroutine
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		f.Disconnect()
		close(f.stopDispatch)
		<-f.dispatchDone
	})
	return nil
}

func normalizeTypes(dataTypes []types.DataType) []types.DataType {
	if len(dataTypes) == 0 {
		return []types.DataType{types.DataTypeQuote, types.DataTypeTrade}
	}
	return dataTypes
}

// Subscribe 订阅代码的实时数据，未指定类型时订阅报价与成交
func (f *Feed) Subscribe(symbol string, dataTypes ...types.DataType) error {
	return f.control(trTypeSubscribe, symbol, dataTypes)
}

// Unsubscribe 退订
func (f *Feed) Unsubscribe(symbol string, dataTypes ...types.DataType) error {
	return f.control(trTypeRelease, symbol, dataTypes)
}

func (f *Feed) control(trType, symbol string, dataTypes []types.DataType) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	dataTypes = normalizeTypes(dataTypes)
	for _, dt := range dataTypes {
		if _, err := f.ids.forType(dt); err != nil {
			return err
		}
	}

	f.subMu.Lock()
	defer f.subMu.Unlock()
	if f.State() != StateConnected {
		return ErrNotConnected
	}
	f.sessMu.Lock()
	s, key := f.sess, f.approvalKey
	f.sessMu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	for _, dt := range dataTypes {
		sub := types.Subscription{DataType: dt, Symbol: symbol}
		if err := f.sendControl(s, key, trType, sub); err != nil {
			return fmt.Errorf("发送 %s 控制帧失败: %w", sub.Key(), err)
		}
		if trType == trTypeSubscribe {
			f.subs[sub.Key()] = sub
		} else {
			delete(f.subs, sub.Key())
		}
		f.log.WithFields(logrus.Fields{"symbol": symbol, "type": dt, "tr_type": trType}).Info("订阅变更已发送")
	}
	return nil
}

func (f *Feed) sendControl(s *session, approvalKey, trType string, sub types.Subscription) error {
	trID, err := f.ids.forType(sub.DataType)
	if err != nil {
		return err
	}
	frame, err := encodeControl(approvalKey, f.cfg.CustType, trType, trID, sub.Symbol)
	if err != nil {
		return err
	}
	return s.write(frame, f.cfg.WriteTimeout)
}

func (f *Feed) readLoop(s *session) {
	defer close(s.done)
	for {
		if f.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			f.log.WithError(err).Warn("连接意外断开")
			f.handleUnexpectedClose(s)
			return
		}
		f.handleFrame(data)
	}
}

func (f *Feed) handleFrame(data []byte) {
	fr, err := decodeFrame(data, f.ids, f.now())
	if err != nil {
		metrics.FeedBadFrames.Add(1)
		f.log.WithError(err).WithField("frame", preview(data)).Warn("无法解析的推送帧，已丢弃")
		return
	}
	switch fr.kind {
	case frameHeartbeat:
		f.lastHeartbeat.Store(f.now().UnixNano())
	case frameAck:
		f.log.WithFields(logrus.Fields{"tr_id": fr.trID, "tr_key": fr.trKey}).Debug("控制帧已确认")
	case frameError:
		f.log.WithError(fr.err).Warn("服务端返回错误帧")
		f.emit(event{err: fr.err})
	case frameData:
		f.emit(event{update: fr.update})
	default:
		metrics.FeedBadFrames.Add(1)
		f.log.WithFields(logrus.Fields{"tr_id": fr.trID, "frame": preview(data)}).Warn("未知推送帧，已丢弃")
	}
}

func preview(data []byte) string {
	const limit = 200
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// heartbeatLoop 发送失败时关闭连接，由读循环触发重连
func (f *Feed) heartbeatLoop(s *session) {
	ticker := time.NewTicker(f.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(encodePing(), f.cfg.WriteTimeout); err != nil {
				f.log.WithError(err).Warn("心跳发送失败，关闭连接")
				_ = s.conn.Close()
				return
			}
		}
	}
}

// handleUnexpectedClose 仅当 s 仍是当前会话时启动重连
func (f *Feed) handleUnexpectedClose(s *session) {
	f.sessMu.Lock()
	if f.sess != s || f.closed.Load() {
		f.sessMu.Unlock()
		return
	}
	f.sess = nil
	// 须在发布 job 之前置为 Reconnecting
	f.setState(StateReconnecting)
	ctx, cancel := context.WithCancel(context.Background())
	job := &reconnectJob{ctx: ctx, cancel: cancel}
	f.reconnect = job
	f.sessMu.Unlock()

	s.close(false)
	go f.reconnectLoop(job)
}

func (f *Feed) reconnectLoop(job *reconnectJob) {
	ctx := job.ctx
	maxAttempts := f.cfg.MaxReconnectAttempts
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		delay := f.cfg.reconnectDelay(attempt)
		f.log.WithFields(logrus.Fields{"attempt": attempt, "max": maxAttempts, "delay": delay}).Info("准备重连")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		f.lifecycleMu.Lock()
		if ctx.Err() != nil {
			f.lifecycleMu.Unlock()
			return
		}
		err := f.open(ctx)
		f.lifecycleMu.Unlock()
		if err == nil {
			metrics.FeedReconnects.Add(1)
			f.log.WithField("attempt", attempt).Info("重连成功")
			f.finishReconnect(job)
			return
		}
		lastErr = err
		f.log.WithError(err).WithField("attempt", attempt).Warn("重连失败")
	}

	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	f.finishReconnect(job)
	f.setState(StateFailed)
	err := fmt.Errorf("%w: %d 次尝试", ErrReconnectFailed, maxAttempts)
	if lastErr != nil {
		err = fmt.Errorf("%w: %d 次尝试, 最后错误: %v", ErrReconnectFailed, maxAttempts, lastErr)
	}
	f.log.WithError(err).Error("重连失败，停止重连")
	f.emit(event{err: err})
}

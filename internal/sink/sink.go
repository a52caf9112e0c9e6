// Package sink 实时推送的下游消费方
package sink

import (
	"github.com/sirupsen/logrus"

	"github.com/betbot/gokis/kis/realtime"
	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/logger"
)

// Fanout 依次调用多个 Handler
type Fanout []realtime.Handler

func (f Fanout) OnUpdate(u types.RealtimeUpdate) {
	for _, h := range f {
		h.OnUpdate(u)
	}
}

func (f Fanout) OnError(err error) {
	for _, h := range f {
		h.OnError(err)
	}
}

// LogHandler 把推送写入日志
type LogHandler struct {
	log *logrus.Entry
}

func NewLogHandler() *LogHandler {
	return &LogHandler{log: logger.Component("kis.stream")}
}

func (h *LogHandler) OnUpdate(u types.RealtimeUpdate) {
	fields := logrus.Fields{"symbol": u.Symbol, "kind": u.Kind}
	switch {
	case u.Quote != nil:
		fields["bid"] = u.Quote.BidPrice.String()
		fields["bid_size"] = u.Quote.BidSize
		fields["ask"] = u.Quote.AskPrice.String()
		fields["ask_size"] = u.Quote.AskSize
	case u.Trade != nil:
		fields["last"] = u.Trade.LastPrice.String()
		fields["size"] = u.Trade.LastSize
		fields["volume"] = u.Trade.Volume
		fields["rate"] = u.Trade.ChangeRate.String()
	}
	h.log.WithFields(fields).Info("实时推送")
}

func (h *LogHandler) OnError(err error) {
	h.log.WithError(err).Error("实时推送错误")
}

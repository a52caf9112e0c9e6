package main

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/betbot/gokis/internal/sink"
	"github.com/betbot/gokis/kis/realtime"
	"github.com/betbot/gokis/kis/types"
)

func feedConfig(a *app) realtime.Config {
	rc := a.cfg.Realtime
	fc := realtime.DefaultConfig(a.env)
	if a.cfg.KIS.WSURL != "" {
		fc.URL = a.cfg.KIS.WSURL
	}
	fc.HeartbeatInterval = rc.HeartbeatInterval
	fc.MaxReconnectAttempts = rc.MaxReconnectAttempts
	fc.ReconnectDelay = rc.ReconnectDelay
	fc.ReconnectBackoff = realtime.Backoff(rc.ReconnectBackoff)
	fc.MaxReconnectDelay = rc.MaxReconnectDelay
	fc.QuoteTrID = rc.QuoteTrID
	fc.TradeTrID = rc.TradeTrID
	fc.EventBufferSize = rc.EventBufferSize
	return fc
}

func parseDataTypes(raw []string) ([]types.DataType, error) {
	var out []types.DataType
	for _, s := range raw {
		switch dt := types.DataType(strings.ToLower(strings.TrimSpace(s))); dt {
		case types.DataTypeQuote, types.DataTypeTrade:
			out = append(out, dt)
		default:
			return nil, errors.Errorf("未知的数据类型: %s (quote/trade)", s)
		}
	}
	return out, nil
}

// streamHandler 日志输出，配置了 brokers 时同时写入 Kafka
func streamHandler(a *app, withKafka bool) (realtime.Handler, error) {
	handlers := sink.Fanout{sink.NewLogHandler()}
	if withKafka && len(a.cfg.KafkaBrokers) > 0 {
		kh, err := sink.NewKafkaHandler(sink.KafkaConfig{Brokers: a.cfg.KafkaBrokers, Topic: a.cfg.KafkaTopic})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kh.Close)
		handlers = append(handlers, kh)
	}
	return handlers, nil
}

// startFeed 连接并订阅，feed 随 app 一起关闭
func startFeed(ctx context.Context, a *app, handler realtime.Handler, symbols []string, dataTypes []types.DataType) (*realtime.Feed, error) {
	feed, err := realtime.NewFeed(feedConfig(a), a.tokens, handler)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, feed.Close)

	if err := feed.Connect(ctx); err != nil {
		return nil, err
	}
	for _, symbol := range symbols {
		if err := feed.Subscribe(symbol, dataTypes...); err != nil {
			return nil, errors.Wrapf(err, "订阅 %s 失败", symbol)
		}
	}
	return feed, nil
}

func newStreamCmd(opts *rootOptions) *cobra.Command {
	var (
		rawTypes []string
		kafka    bool
	)
	cmd := &cobra.Command{
		Use:   "stream SYMBOL...",
		Short: "订阅实时报价与成交，Ctrl-C 退出",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataTypes, err := parseDataTypes(rawTypes)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := streamHandler(a, kafka)
			if err != nil {
				return err
			}
			feed, err := startFeed(ctx, a, handler, args, dataTypes)
			if err != nil {
				return err
			}
			a.log.WithField("subscriptions", len(feed.Subscriptions())).Info("实时推送已启动")

			<-ctx.Done()
			a.log.Info("收到退出信号")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&rawTypes, "types", []string{"quote", "trade"}, "订阅的数据类型")
	cmd.Flags().BoolVar(&kafka, "kafka", true, "配置了 KIS_KAFKA_BROKERS 时转发到 Kafka")
	return cmd
}

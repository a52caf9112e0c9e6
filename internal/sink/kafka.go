package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/logger"
)

// messageWriter kafka.Writer 的最小接口
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig Kafka 下游配置
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaHandler 把推送以 JSON 写入 Kafka，key 为代码
type KafkaHandler struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	log     *logrus.Entry
}

// NewKafkaHandler 创建异步批量写入的 Handler
func NewKafkaHandler(cfg KafkaConfig) (*KafkaHandler, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers 不能为空")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic 不能为空")
	}
	log := logger.Component("kis.sink.kafka").WithField("topic", cfg.Topic)
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.WithError(err).WithField("count", len(msgs)).Error("Kafka 写入失败")
			}
		},
	}
	log.WithField("brokers", cfg.Brokers).Info("Kafka 下游已创建")
	return newKafkaHandler(w, "", cfg.WriteTimeout, log), nil
}

func newKafkaHandler(w messageWriter, topic string, timeout time.Duration, log *logrus.Entry) *KafkaHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaHandler{writer: w, topic: topic, timeout: timeout, log: log}
}

// updateMessage 推送的 Kafka 消息体
type updateMessage struct {
	Kind       types.DataType   `json:"kind"`
	Symbol     string           `json:"symbol"`
	TrID       string           `json:"tr_id"`
	ReceivedAt time.Time        `json:"received_at"`
	BidPrice   *decimal.Decimal `json:"bid_price,omitempty"`
	BidSize    *int64           `json:"bid_size,omitempty"`
	AskPrice   *decimal.Decimal `json:"ask_price,omitempty"`
	AskSize    *int64           `json:"ask_size,omitempty"`
	LastPrice  *decimal.Decimal `json:"last_price,omitempty"`
	LastSize   *int64           `json:"last_size,omitempty"`
	Volume     *int64           `json:"volume,omitempty"`
	Change     *decimal.Decimal `json:"change,omitempty"`
	ChangeRate *decimal.Decimal `json:"change_rate,omitempty"`
}

func toMessage(u types.RealtimeUpdate) updateMessage {
	m := updateMessage{Kind: u.Kind, Symbol: u.Symbol, TrID: u.TrID, ReceivedAt: u.ReceivedAt}
	if q := u.Quote; q != nil {
		m.BidPrice, m.BidSize = &q.BidPrice, &q.BidSize
		m.AskPrice, m.AskSize = &q.AskPrice, &q.AskSize
	}
	if t := u.Trade; t != nil {
		m.LastPrice, m.LastSize = &t.LastPrice, &t.LastSize
		m.Volume = &t.Volume
		m.Change, m.ChangeRate = &t.Change, &t.ChangeRate
	}
	return m
}

func (h *KafkaHandler) OnUpdate(u types.RealtimeUpdate) {
	data, err := json.Marshal(toMessage(u))
	if err != nil {
		h.log.WithError(err).Error("序列化推送失败")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	msg := kafka.Message{Topic: h.topic, Key: []byte(u.Symbol), Value: data, Time: u.ReceivedAt}
	if err := h.writer.WriteMessages(ctx, msg); err != nil {
		h.log.WithError(err).WithField("symbol", u.Symbol).Error("Kafka 写入失败")
	}
}

// OnError 错误只记录，不写入 Kafka
func (h *KafkaHandler) OnError(err error) {
	h.log.WithError(err).Warn("实时推送错误")
}

// Close 刷出缓冲并关闭
func (h *KafkaHandler) Close() error {
	return h.writer.Close()
}

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/logger"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaHandler_OnUpdate(t *testing.T) {
	w := &fakeWriter{}
	h := newKafkaHandler(w, "", 0, logger.Component("test"))
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	h.OnUpdate(types.RealtimeUpdate{
		Kind:       types.DataTypeQuote,
		Symbol:     "AAPL",
		TrID:       "H0STCNT0",
		ReceivedAt: at,
		Quote:      &types.QuoteUpdate{BidPrice: decimal.RequireFromString("150.1"), BidSize: 10, AskPrice: decimal.RequireFromString("150.2"), AskSize: 5},
	})
	h.OnUpdate(types.RealtimeUpdate{
		Kind:   types.DataTypeTrade,
		Symbol: "MSFT",
		Trade:  &types.TradeUpdate{LastPrice: decimal.NewFromInt(310), LastSize: 3, Volume: 1000},
	})

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "AAPL", string(w.msgs[0].Key))
	assert.Equal(t, at, w.msgs[0].Time)

	var quote map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &quote))
	assert.Equal(t, "quote", quote["kind"])
	assert.Equal(t, "150.1", quote["bid_price"])
	assert.Equal(t, float64(10), quote["bid_size"])
	assert.NotContains(t, quote, "last_price")

	var trade map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &trade))
	assert.Equal(t, "310", trade["last_price"])
	assert.Equal(t, float64(1000), trade["volume"])
	assert.NotContains(t, trade, "bid_price")

	require.NoError(t, h.Close())
	assert.True(t, w.closed)
}

func TestKafkaHandler_WriteErrorDoesNotPanic(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	h := newKafkaHandler(w, "", time.Second, logger.Component("test"))
	h.OnUpdate(types.RealtimeUpdate{Kind: types.DataTypeQuote, Symbol: "AAPL", Quote: &types.QuoteUpdate{}})
	h.OnError(errors.New("x"))
	assert.Empty(t, w.msgs)
}

func TestNewKafkaHandler_Validation(t *testing.T) {
	_, err := NewKafkaHandler(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaHandler(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	h, err := NewKafkaHandler(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "kis.realtime"})
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

type countingHandler struct {
	updates, errs int
}

func (c *countingHandler) OnUpdate(types.RealtimeUpdate) { c.updates++ }
func (c *countingHandler) OnError(error)                 { c.errs++ }

func TestFanout(t *testing.T) {
	a, b := &countingHandler{}, &countingHandler{}
	f := Fanout{a, b, NewLogHandler()}
	f.OnUpdate(types.RealtimeUpdate{Symbol: "AAPL", Trade: &types.TradeUpdate{}})
	f.OnError(errors.New("x"))
	assert.Equal(t, 1, a.updates)
	assert.Equal(t, 1, b.errs)
}

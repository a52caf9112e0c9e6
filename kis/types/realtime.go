package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DataType 实时数据类型
type DataType string

const (
	DataTypeQuote DataType = "quote" // 买卖报价
	DataTypeTrade DataType = "trade" // 成交
)

// Subscription 订阅键
type Subscription struct {
	DataType DataType
	Symbol   string
}

// Key 订阅唯一键
func (s Subscription) Key() string {
	return string(s.DataType) + ":" + s.Symbol
}

// QuoteUpdate 报价推送
type QuoteUpdate struct {
	BidPrice decimal.Decimal
	BidSize  int64
	AskPrice decimal.Decimal
	AskSize  int64
}

// TradeUpdate 成交推送
type TradeUpdate struct {
	LastPrice  decimal.Decimal
	LastSize   int64
	Volume     int64
	Change     decimal.Decimal
	ChangeRate decimal.Decimal
}

// RealtimeUpdate 实时推送，Quote 与 Trade 恰有一个非空
type RealtimeUpdate struct {
	Kind       DataType
	Symbol     string
	TrID       string
	ReceivedAt time.Time
	Quote      *QuoteUpdate
	Trade      *TradeUpdate
}

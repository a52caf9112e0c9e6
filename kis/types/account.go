package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position 海外股票持仓
type Position struct {
	Symbol         string
	Name           string
	Quantity       int64
	AvgPrice       decimal.Decimal
	CurrentPrice   decimal.Decimal
	EvalAmount     decimal.Decimal
	ProfitLoss     decimal.Decimal
	ProfitLossRate decimal.Decimal // 百分比
}

// Execution 成交记录
type Execution struct {
	OrderID       string
	Symbol        string
	Side          Side
	ExecutedQty   int64
	ExecutedPrice decimal.Decimal
	ExecutedAt    time.Time
}

// Balance 账户可用资金概要
type Balance struct {
	TotalBalance    decimal.Decimal
	CashBalance     decimal.Decimal
	AvailableCash   decimal.Decimal
	TotalProfitLoss decimal.Decimal
	ProfitLossRate  decimal.Decimal
}

// IsEmpty 券商未返回输出段时为空
func (b Balance) IsEmpty() bool {
	return b.TotalBalance.IsZero() && b.CashBalance.IsZero() && b.AvailableCash.IsZero() &&
		b.TotalProfitLoss.IsZero() && b.ProfitLossRate.IsZero()
}

// Quote 当前价快照
type Quote struct {
	Symbol     string
	Last       decimal.Decimal
	PrevClose  decimal.Decimal
	ChangeRate decimal.Decimal
	Volume     int64
	FetchedAt  time.Time
}

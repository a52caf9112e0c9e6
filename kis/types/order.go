package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderRequest 海外股票下单请求
type OrderRequest struct {
	ClientOrderID string // 关联 ID，仅用于日志
	Symbol        string
	Side          Side
	Quantity      int64
	Price         *decimal.Decimal // 市价单忽略
	OrderType     OrderType
	TimeInForce   TimeInForce // 券商无对应字段，只做校验
	Exchange      string      // 为空时使用网关默认交易所
}

// Validate 校验下单请求
func (r *OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("未知订单方向: %q", string(r.Side))
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("数量必须大于 0: %d", r.Quantity)
	}
	switch r.OrderType {
	case OrderTypeLimit:
		if r.Price == nil || !r.Price.IsPositive() {
			return fmt.Errorf("指定价订单价格必须大于 0")
		}
	case OrderTypeMarket:
	default:
		return fmt.Errorf("未知订单类型: %q", string(r.OrderType))
	}
	switch r.TimeInForce {
	case "", TimeInForceDay, TimeInForceIOC, TimeInForceFOK, TimeInForceGTD:
	default:
		return fmt.Errorf("未知有效期: %q", string(r.TimeInForce))
	}
	return nil
}

// PriceString 返回 OVRS_ORD_UNPR 取值，市价单为 "0"
func (r *OrderRequest) PriceString() string {
	if r.OrderType != OrderTypeLimit || r.Price == nil {
		return "0"
	}
	return r.Price.String()
}

// OrderOutput 下单应答的 output 段
type OrderOutput struct {
	BranchNo  string `json:"KRX_FWDG_ORD_ORGNO"`
	OrderNo   string `json:"ODNO"`
	OrderTime string `json:"ORD_TMD"`
}

// OrderResponse 下单/撤单/改单应答
type OrderResponse struct {
	RtCd   string       `json:"rt_cd"`
	MsgCd  string       `json:"msg_cd"`
	Msg1   string       `json:"msg1"`
	Odno   string       `json:"odno,omitempty"`
	OrdTmd string       `json:"ord_tmd,omitempty"`
	Output *OrderOutput `json:"output,omitempty"`

	ClientOrderID string `json:"-"`
}

// IsSuccess rt_cd 为 "0"
func (r *OrderResponse) IsSuccess() bool {
	return r != nil && r.RtCd == "0"
}

// OrderID 优先取 output.ODNO
func (r *OrderResponse) OrderID() string {
	if r == nil {
		return ""
	}
	if r.Output != nil && r.Output.OrderNo != "" {
		return r.Output.OrderNo
	}
	return r.Odno
}

// OrderTime 优先取 output.ORD_TMD
func (r *OrderResponse) OrderTime() string {
	if r == nil {
		return ""
	}
	if r.Output != nil && r.Output.OrderTime != "" {
		return r.Output.OrderTime
	}
	return r.OrdTmd
}

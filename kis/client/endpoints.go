package client

import "github.com/betbot/gokis/kis/types"

// 海外股票 REST 端点
const (
	pathOrder       = "/uapi/overseas-stock/v1/trading/order"
	pathRvseCncl    = "/uapi/overseas-stock/v1/trading/order-rvsecncl"
	pathBalance     = "/uapi/overseas-stock/v1/trading/inquire-balance"
	pathExecutions  = "/uapi/overseas-stock/v1/trading/inquire-ccnl"
	pathBuyingPower = "/uapi/overseas-stock/v1/trading/inquire-psamount"
	pathQuote       = "/uapi/overseas-price/v1/quotations/price"
)

// trPair 实盘/模拟 tr_id
type trPair struct {
	live    string
	sandbox string
}

func (p trPair) For(env types.Env) string {
	if env.IsSandbox() {
		return p.sandbox
	}
	return p.live
}

var (
	trOrderBuy   = trPair{live: "TTTT1002U", sandbox: "VTTT1002U"}
	trOrderSell  = trPair{live: "TTTT1001U", sandbox: "VTTT1001U"}
	trRvseCncl   = trPair{live: "TTTT1004U", sandbox: "VTTT1004U"}
	trPositions  = trPair{live: "TTTC8001R", sandbox: "VTTC8001R"}
	trExecutions = trPair{live: "TTTS3012R", sandbox: "VTTS3012R"}
	trBalance    = trPair{live: "TTRP6504R", sandbox: "VTRP6504R"}
	// 行情查询两个环境相同
	trQuote = trPair{live: "HHDFS00000300", sandbox: "HHDFS00000300"}
)

// 改单/撤单区分码
const (
	rvseCnclModify = "01"
	rvseCnclCancel = "02"
)

// exchangeToQuoteCode 交易所代码转换为行情查询用的 EXCD
var exchangeToQuoteCode = map[string]string{
	"NASD": "NAS",
	"NYSE": "NYS",
	"AMEX": "AMS",
}

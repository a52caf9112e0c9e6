package types

import (
	"fmt"
	"strings"
)

// Env 交易环境
type Env string

const (
	EnvSandbox Env = "sandbox" // 模拟投资
	EnvLive    Env = "live"    // 实盘
)

// EnvFromSandbox 根据 sandbox 标志返回环境
func EnvFromSandbox(sandbox bool) Env {
	if sandbox {
		return EnvSandbox
	}
	return EnvLive
}

// IsSandbox 是否模拟环境
func (e Env) IsSandbox() bool {
	return e == EnvSandbox
}

// Validate 校验环境取值
func (e Env) Validate() error {
	switch e {
	case EnvSandbox, EnvLive:
		return nil
	default:
		return fmt.Errorf("未知环境: %q", string(e))
	}
}

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单类型，取值即 ORD_DVSN
type OrderType string

const (
	OrderTypeLimit  OrderType = "00" // 指定价
	OrderTypeMarket OrderType = "01" // 市价
)

// TimeInForce 订单有效期
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceIOC TimeInForce = "IOC" // Immediate or Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill or Kill
	TimeInForceGTD TimeInForce = "GTD" // Good Till Date
)

// Account 账户号拆分结果
type Account struct {
	CANO        string // 账户前 8 位
	ProductCode string // ACNT_PRDT_CD
}

// ParseAccount 解析 "CANO-PRDT" 形式的账户号，产品代码缺省为 01
func ParseAccount(accountNo string) (Account, error) {
	accountNo = strings.TrimSpace(accountNo)
	if accountNo == "" {
		return Account{}, fmt.Errorf("账户号为空")
	}
	cano, prdt, found := strings.Cut(accountNo, "-")
	if cano == "" {
		return Account{}, fmt.Errorf("账户号格式不正确: %q", accountNo)
	}
	if !found || prdt == "" {
		prdt = "01"
	}
	return Account{CANO: cano, ProductCode: prdt}, nil
}

// String 返回 "CANO-PRDT"
func (a Account) String() string {
	return a.CANO + "-" + a.ProductCode
}

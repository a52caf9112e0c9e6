package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// kst 券商日期时间所在时区
var kst = time.FixedZone("KST", 9*60*60)

// flexString 兼容字符串与数字两种 JSON 取值
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	switch {
	case string(b) == "null":
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		*f = flexString(b)
	}
	return nil
}

func (f flexString) String() string {
	return strings.TrimSpace(string(f))
}

// parseDecimal 必填数值字段
func parseDecimal(field string, v flexString) (decimal.Decimal, error) {
	s := v.String()
	if s == "" {
		return decimal.Zero, fmt.Errorf("字段 %s 为空", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("字段 %s 不是数值: %q", field, s)
	}
	return d, nil
}

// parseDecimalOrZero 可缺省数值字段，空值视为 0
func parseDecimalOrZero(field string, v flexString) (decimal.Decimal, error) {
	if v.String() == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(field, v)
}

// parseQty 数量字段，允许 "10" 或 "10.0"，不允许小数部分
func parseQty(field string, v flexString) (int64, error) {
	d, err := parseDecimal(field, v)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("字段 %s 不是整数: %s", field, d)
	}
	return d.IntPart(), nil
}

// today 返回 KST 当天 YYYYMMDD
func today(now time.Time) string {
	return now.In(kst).Format("20060102")
}

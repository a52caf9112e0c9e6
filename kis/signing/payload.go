package signing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Payload 保持插入顺序的请求体，JSON 形式即签名原文
type Payload struct {
	keys   []string
	values map[string]any
}

// NewPayload 创建空请求体
func NewPayload() *Payload {
	return &Payload{values: make(map[string]any)}
}

// Set 设置字段；已存在的键保留原位置
func (p *Payload) Set(key string, value any) *Payload {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get 读取字段
func (p *Payload) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// String 读取字符串字段，不存在或非字符串返回空串
func (p *Payload) String(key string) string {
	v, _ := p.values[key].(string)
	return v
}

// Keys 按插入顺序返回键
func (p *Payload) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Len 字段数
func (p *Payload) Len() int {
	return len(p.keys)
}

// MarshalJSON 输出紧凑、按插入顺序、不转义 HTML/非 ASCII 的 JSON
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeValue(&buf, p.values[k]); err != nil {
			return nil, fmt.Errorf("字段 %s: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encoder 会追加换行
	buf.Truncate(buf.Len() - 1)
	return nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		return writeString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case float64:
		buf.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	case json.Number:
		buf.WriteString(val.String())
	case decimal.Decimal:
		return writeString(buf, val.String())
	default:
		return fmt.Errorf("不支持的字段类型 %T", v)
	}
	return nil
}

package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/gokis/kis/types"
)

const (
	trIDPingPong    = "PINGPONG"
	trTypeSubscribe = "1"
	trTypeRelease   = "2"
	rspCdOK         = "0000"
)

type controlHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type controlInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}

type controlFrame struct {
	Header controlHeader `json:"header"`
	Body   struct {
		Input controlInput `json:"input"`
	} `json:"body"`
}

// encodeControl 订阅/退订控制帧
func encodeControl(approvalKey, custType, trType, trID, trKey string) ([]byte, error) {
	var f controlFrame
	f.Header = controlHeader{ApprovalKey: approvalKey, CustType: custType, TrType: trType, ContentType: "utf-8"}
	f.Body.Input = controlInput{TrID: trID, TrKey: trKey}
	return json.Marshal(f)
}

// encodePing 心跳帧
func encodePing() []byte {
	return []byte(`{"header":{"tr_id":"PINGPONG"}}`)
}

type inboundFrame struct {
	Header struct {
		TrID   string `json:"tr_id"`
		TrKey  string `json:"tr_key"`
		RspCd  string `json:"rsp_cd"`
		RspMsg string `json:"rsp_msg"`
	} `json:"header"`
	Body struct {
		RtCd   string         `json:"rt_cd"`
		MsgCd  string         `json:"msg_cd"`
		Msg1   string         `json:"msg1"`
		Output map[string]any `json:"output"`
	} `json:"body"`
}

// frameKind 入站帧分类
type frameKind int

const (
	frameHeartbeat frameKind = iota
	frameAck
	frameError
	frameData
	frameUnknown
)

// FrameError 服务端在帧内返回的失败
type FrameError struct {
	TrID  string
	TrKey string
	Code  string
	Msg   string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("实时推送错误 %s/%s [%s]: %s", e.TrID, e.TrKey, e.Code, e.Msg)
}

// decodedFrame 解析结果
type decodedFrame struct {
	kind   frameKind
	trID   string
	trKey  string
	update *types.RealtimeUpdate
	err    error
}

// trIDs 数据帧 tr_id 与数据类型的对应
type trIDs struct {
	quote string
	trade string
}

func (t trIDs) forType(dt types.DataType) (string, error) {
	switch dt {
	case types.DataTypeQuote:
		return t.quote, nil
	case types.DataTypeTrade:
		return t.trade, nil
	default:
		return "", fmt.Errorf("未知数据类型: %q", string(dt))
	}
}

// decodeFrame 解析一帧。返回 error 表示帧格式错误
func decodeFrame(data []byte, ids trIDs, now time.Time) (decodedFrame, error) {
	var in inboundFrame
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return decodedFrame{}, fmt.Errorf("帧不是合法 JSON: %w", err)
	}
	out := decodedFrame{trID: in.Header.TrID, trKey: in.Header.TrKey}

	switch {
	case in.Header.TrID == trIDPingPong:
		out.kind = frameHeartbeat
		return out, nil
	case in.Body.RtCd != "":
		out.kind = frameAck
		if in.Body.RtCd != "0" {
			out.kind = frameError
			out.err = &FrameError{TrID: in.Header.TrID, TrKey: in.Header.TrKey, Code: in.Body.MsgCd, Msg: in.Body.Msg1}
		}
		return out, nil
	case in.Header.RspCd != "" && in.Header.RspCd != rspCdOK:
		out.kind = frameError
		out.err = &FrameError{TrID: in.Header.TrID, TrKey: in.Header.TrKey, Code: in.Header.RspCd, Msg: in.Header.RspMsg}
		return out, nil
	}

	var dt types.DataType
	switch in.Header.TrID {
	case ids.quote:
		dt = types.DataTypeQuote
	case ids.trade:
		dt = types.DataTypeTrade
	default:
		out.kind = frameUnknown
		return out, nil
	}
	if in.Body.Output == nil {
		return out, fmt.Errorf("%s 帧缺少 output", in.Header.TrID)
	}

	o := fields(in.Body.Output)
	symbol := o.str("symb")
	if symbol == "" {
		symbol = in.Header.TrKey
	}
	if symbol == "" {
		return out, fmt.Errorf("%s 帧缺少代码", in.Header.TrID)
	}
	u := &types.RealtimeUpdate{Kind: dt, Symbol: symbol, TrID: in.Header.TrID, ReceivedAt: now}

	if dt == types.DataTypeQuote {
		q := &types.QuoteUpdate{}
		q.BidPrice = o.decimal("bidp")
		q.BidSize = o.int("bidv")
		q.AskPrice = o.decimal("askp")
		q.AskSize = o.int("askv")
		u.Quote = q
	} else {
		t := &types.TradeUpdate{}
		t.LastPrice = o.decimal("last")
		t.LastSize = o.int("tvol")
		t.Volume = o.int("cvol")
		t.Change = o.decimal("diff")
		t.ChangeRate = o.decimal("rate")
		u.Trade = t
	}
	if o.err != nil {
		return out, o.err
	}
	out.kind = frameData
	out.update = u
	return out, nil
}

// fieldReader 读取 output 段，记录第一个格式错误，缺省字段为 0
type fieldReader struct {
	m   map[string]any
	err error
}

func fields(m map[string]any) *fieldReader {
	return &fieldReader{m: m}
}

func (r *fieldReader) str(key string) string {
	switch v := r.m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func (r *fieldReader) decimal(key string) decimal.Decimal {
	s := r.str(key)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("字段 %s 不是数值: %q", key, s)
	}
	return d
}

func (r *fieldReader) int(key string) int64 {
	d := r.decimal(key)
	if !d.Equal(d.Truncate(0)) && r.err == nil {
		r.err = fmt.Errorf("字段 %s 不是整数: %s", key, d)
	}
	return d.IntPart()
}

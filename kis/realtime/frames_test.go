package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gokis/kis/types"
)

var testIDs = trIDs{quote: "H0STCNT0", trade: "H0STCNI0"}

func TestEncodeControl(t *testing.T) {
	raw, err := encodeControl("approval-1", "P", trTypeSubscribe, "H0STCNT0", "AAPL")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"header": {"approval_key": "approval-1", "custtype": "P", "tr_type": "1", "content-type": "utf-8"},
		"body": {"input": {"tr_id": "H0STCNT0", "tr_key": "AAPL"}}
	}`, string(raw))
}

func TestDecodeFrame(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		frame   string
		kind    frameKind
		wantErr bool
		check   func(t *testing.T, fr decodedFrame)
	}{
		{name: "heartbeat", frame: `{"header":{"tr_id":"PINGPONG","datetime":"20250102030405"}}`, kind: frameHeartbeat},
		{name: "subscribe ack", frame: `{"header":{"tr_id":"H0STCNT0","tr_key":"AAPL"},"body":{"rt_cd":"0","msg_cd":"OPSP0000","msg1":"SUBSCRIBE SUCCESS"}}`, kind: frameAck},
		{
			name:  "rt_cd failure",
			frame: `{"header":{"tr_id":"H0STCNT0","tr_key":"AAPL"},"body":{"rt_cd":"1","msg_cd":"OPSP8996","msg1":"ALREADY IN SUBSCRIBE"}}`,
			kind:  frameError,
			check: func(t *testing.T, fr decodedFrame) {
				var fe *FrameError
				require.True(t, errors.As(fr.err, &fe))
				assert.Equal(t, "OPSP8996", fe.Code)
				assert.Equal(t, "AAPL", fe.TrKey)
			},
		},
		{
			name:  "rsp_cd failure",
			frame: `{"header":{"tr_id":"H0STCNI0","rsp_cd":"9999","rsp_msg":"invalid approval"}}`,
			kind:  frameError,
			check: func(t *testing.T, fr decodedFrame) {
				var fe *FrameError
				require.True(t, errors.As(fr.err, &fe))
				assert.Equal(t, "9999", fe.Code)
			},
		},
		{
			name:  "quote",
			frame: `{"header":{"tr_id":"H0STCNT0","tr_key":"AAPL"},"body":{"output":{"symb":"AAPL","bidp":"150.10","bidv":"12","askp":150.2,"askv":7}}}`,
			kind:  frameData,
			check: func(t *testing.T, fr decodedFrame) {
				u := fr.update
				require.NotNil(t, u.Quote)
				assert.Nil(t, u.Trade)
				assert.Equal(t, types.DataTypeQuote, u.Kind)
				assert.Equal(t, "AAPL", u.Symbol)
				assert.Equal(t, now, u.ReceivedAt)
				assert.True(t, u.Quote.BidPrice.Equal(decimal.RequireFromString("150.1")))
				assert.Equal(t, int64(12), u.Quote.BidSize)
				assert.True(t, u.Quote.AskPrice.Equal(decimal.RequireFromString("150.2")))
				assert.Equal(t, int64(7), u.Quote.AskSize)
			},
		},
		{
			name:  "trade symbol from tr_key",
			frame: `{"header":{"tr_id":"H0STCNI0","tr_key":"MSFT","rsp_cd":"0000"},"body":{"output":{"last":"310.5","tvol":"100","cvol":"2500000","diff":"-1.5","rate":"-0.48"}}}`,
			kind:  frameData,
			check: func(t *testing.T, fr decodedFrame) {
				u := fr.update
				require.NotNil(t, u.Trade)
				assert.Equal(t, "MSFT", u.Symbol)
				assert.True(t, u.Trade.LastPrice.Equal(decimal.RequireFromString("310.5")))
				assert.Equal(t, int64(100), u.Trade.LastSize)
				assert.Equal(t, int64(2500000), u.Trade.Volume)
				assert.True(t, u.Trade.Change.Equal(decimal.RequireFromString("-1.5")))
				assert.True(t, u.Trade.ChangeRate.Equal(decimal.RequireFromString("-0.48")))
			},
		},
		{name: "unknown tr_id", frame: `{"header":{"tr_id":"H0XXXXX0"},"body":{"output":{}}}`, kind: frameUnknown},
		{name: "not json", frame: `0|H0STCNT0|001|AAPL^150`, wantErr: true},
		{name: "missing output", frame: `{"header":{"tr_id":"H0STCNT0","tr_key":"AAPL"},"body":{}}`, wantErr: true},
		{name: "missing symbol", frame: `{"header":{"tr_id":"H0STCNT0"},"body":{"output":{"bidp":"1"}}}`, wantErr: true},
		{name: "bad number", frame: `{"header":{"tr_id":"H0STCNT0"},"body":{"output":{"symb":"AAPL","bidp":"abc"}}}`, wantErr: true},
		{name: "fractional size", frame: `{"header":{"tr_id":"H0STCNT0"},"body":{"output":{"symb":"AAPL","bidv":"1.5"}}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr, err := decodeFrame([]byte(tt.frame), testIDs, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, fr.kind)
			if tt.check != nil {
				tt.check(t, fr)
			}
		})
	}
}

func TestEncodePing(t *testing.T) {
	var v map[string]map[string]string
	require.NoError(t, json.Unmarshal(encodePing(), &v))
	assert.Equal(t, trIDPingPong, v["header"]["tr_id"])
}

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gokis/kis/realtime"
	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/config"
)

func TestParseDataTypes(t *testing.T) {
	got, err := parseDataTypes([]string{"Quote", " trade "})
	require.NoError(t, err)
	assert.Equal(t, []types.DataType{types.DataTypeQuote, types.DataTypeTrade}, got)

	_, err = parseDataTypes([]string{"depth"})
	assert.Error(t, err)
}

func TestParseOrderType(t *testing.T) {
	ot, err := parseOrderType("MARKET")
	require.NoError(t, err)
	assert.Equal(t, types.OrderTypeMarket, ot)

	ot, err = parseOrderType("00")
	require.NoError(t, err)
	assert.Equal(t, types.OrderTypeLimit, ot)

	_, err = parseOrderType("stop")
	assert.Error(t, err)
}

func TestFeedConfig(t *testing.T) {
	a := &app{env: types.EnvLive, cfg: &config.Config{
		Realtime: config.RealtimeConfig{
			HeartbeatInterval:    20 * time.Second,
			MaxReconnectAttempts: 2,
			ReconnectBackoff:     "exponential",
			QuoteTrID:            "Q",
			TradeTrID:            "T",
			EventBufferSize:      8,
		},
	}}
	fc := feedConfig(a)
	assert.Equal(t, realtime.LiveURL, fc.URL)
	assert.Equal(t, realtime.BackoffExponential, fc.ReconnectBackoff)
	assert.Equal(t, 2, fc.MaxReconnectAttempts)
	assert.Equal(t, "Q", fc.QuoteTrID)

	a.cfg.KIS.WSURL = "ws://127.0.0.1:1"
	assert.Equal(t, "ws://127.0.0.1:1", feedConfig(a).URL)
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"token", "order", "positions", "executions", "balance", "quote", "stream", "serve"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

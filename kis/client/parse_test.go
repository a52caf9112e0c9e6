package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":" 12.50 ","b":7,"c":null}`), &v))
	assert.Equal(t, "12.50", v.A.String())
	assert.Equal(t, "7", v.B.String())
	assert.Equal(t, "", v.C.String())
}

func TestParseQty(t *testing.T) {
	n, err := parseQty("q", "10.000")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	_, err = parseQty("q", "1.5")
	assert.Error(t, err)
	_, err = parseQty("q", "")
	assert.Error(t, err)
	_, err = parseQty("q", "abc")
	assert.Error(t, err)
}

func TestToday_UsesKST(t *testing.T) {
	assert.Equal(t, "20250102", today(time.Date(2025, 1, 2, 14, 59, 0, 0, time.UTC)))
	assert.Equal(t, "20250103", today(time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)))
}

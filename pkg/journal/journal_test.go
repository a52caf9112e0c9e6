package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gokis/kis/types"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "sub", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func execution(id, symbol string, side types.Side, qty int64, price string, at time.Time) types.Execution {
	return types.Execution{
		OrderID:       id,
		Symbol:        symbol,
		Side:          side,
		ExecutedQty:   qty,
		ExecutedPrice: decimal.RequireFromString(price),
		ExecutedAt:    at,
	}
}

func TestJournal_RecordIsIdempotent(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)

	batch := []types.Execution{
		execution("0001", "AAPL", types.SideBuy, 5, "150.10", base),
		execution("0002", "MSFT", types.SideSell, 2, "300", base.Add(time.Minute)),
	}
	n, err := j.Record(ctx, "12345678-01", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 重复查询同一区间只追加新记录
	batch = append(batch, execution("0003", "AAPL", types.SideBuy, 1, "151", base.Add(2*time.Minute)))
	n, err = j.Record(ctx, "12345678-01", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	total, err := j.Count(ctx, "12345678-01")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	n, err = j.Record(ctx, "12345678-01", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJournal_List(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)

	_, err := j.Record(ctx, "A", []types.Execution{
		execution("1", "AAPL", types.SideBuy, 5, "150.10", base),
		execution("2", "AAPL", types.SideSell, 5, "152", base.Add(time.Hour)),
		execution("3", "MSFT", types.SideBuy, 1, "300", base.Add(2*time.Hour)),
	})
	require.NoError(t, err)
	_, err = j.Record(ctx, "B", []types.Execution{execution("9", "AAPL", types.SideBuy, 1, "1", base)})
	require.NoError(t, err)

	all, err := j.List(ctx, Filter{Account: "A"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].OrderID)
	assert.Equal(t, "1", all[2].OrderID)
	assert.True(t, all[2].ExecutedPrice.Equal(decimal.RequireFromString("150.1")))
	assert.True(t, all[2].ExecutedAt.Equal(base))
	assert.Equal(t, types.SideBuy, all[2].Side)

	aapl, err := j.List(ctx, Filter{Account: "A", Symbol: "aapl", Since: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, aapl, 1)
	assert.Equal(t, "2", aapl[0].OrderID)

	limited, err := j.List(ctx, Filter{Account: "A", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestJournal_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.Record(context.Background(), "A", []types.Execution{execution("1", "AAPL", types.SideBuy, 1, "1", time.Now())})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	n, err := j.Count(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

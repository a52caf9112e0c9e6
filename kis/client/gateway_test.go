package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gokis/kis/signing"
	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/ratelimit"
	"github.com/betbot/gokis/pkg/retry"
	sdkhttp "github.com/betbot/gokis/pkg/sdk/http"
)

const testSecret = "app-secret"

type fakeTokens struct {
	mu     sync.Mutex
	n      int
	forced int
}

func (f *fakeTokens) GetToken(_ context.Context, force bool) (*types.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if force {
		f.forced++
		f.n++
	}
	return types.NewAccessToken(fmt.Sprintf("tok-%d", f.n), "", 86400, time.Now()), nil
}

// Refresh 只有 stale 仍是当前令牌时才换发
func (f *fakeTokens) Refresh(_ context.Context, stale *types.AccessToken) (*types.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stale != nil && stale.Token == fmt.Sprintf("tok-%d", f.n) {
		f.forced++
		f.n++
	}
	return types.NewAccessToken(fmt.Sprintf("tok-%d", f.n), "", 86400, time.Now()), nil
}

func (f *fakeTokens) Headers(tok *types.AccessToken) map[string]string {
	return map[string]string{
		"authorization": tok.Authorization(),
		"appkey":        "app-key",
		"appsecret":     testSecret,
		"content-type":  "application/json; charset=utf-8",
	}
}

type captured struct {
	Path   string
	Header http.Header
	Query  url.Values
	Body   []byte
}

type fakeBroker struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []captured
	handler  func(n int, w http.ResponseWriter, r *http.Request)
}

func newFakeBroker(t *testing.T, handler func(n int, w http.ResponseWriter, r *http.Request)) *fakeBroker {
	fb := &fakeBroker{handler: handler}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.requests = append(fb.requests, captured{Path: r.URL.Path, Header: r.Header.Clone(), Query: r.URL.Query(), Body: body})
		n, h := len(fb.requests), fb.handler
		fb.mu.Unlock()
		h(n, w, r)
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBroker) calls() []captured {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]captured(nil), fb.requests...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(v map[string]any) func(int, http.ResponseWriter, *http.Request) {
	return func(_ int, w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, v)
	}
}

func fastLimiter() *ratelimit.RateLimitManager {
	m := ratelimit.NewRateLimitManager(false)
	fast := ratelimit.NewSlidingWindow(10000, time.Second)
	for _, k := range []string{ratelimit.KeyOrder, ratelimit.KeyQuery, ratelimit.KeyQuote} {
		m.Set(k, fast)
	}
	return m
}

func newTestGateway(t *testing.T, fb *fakeBroker, env types.Env) (*Gateway, *fakeTokens, *signing.Signer) {
	t.Helper()
	tokens := &fakeTokens{}
	signer, err := signing.NewSigner(testSecret)
	require.NoError(t, err)
	g, err := NewGateway(Config{
		AccountNo: "12345678-01",
		Env:       env,
		BaseURL:   fb.srv.URL,
		Timeout:   2 * time.Second,
		Retry:     retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Limiter:   fastLimiter(),
	}, tokens, signer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g, tokens, signer
}

func limitBuy(qty int64, price string) types.OrderRequest {
	p := decimal.RequireFromString(price)
	return types.OrderRequest{Symbol: "aapl", Side: types.SideBuy, Quantity: qty, Price: &p, OrderType: types.OrderTypeLimit}
}

var accepted = map[string]any{
	"rt_cd":  "0",
	"msg_cd": "APBK0013",
	"msg1":   "주문 전송 완료 되었습니다.",
	"output": map[string]any{"KRX_FWDG_ORD_ORGNO": "01790", "ODNO": "0000123", "ORD_TMD": "093001"},
}

func TestPlaceOrder_SignsAndSends(t *testing.T) {
	fb := newFakeBroker(t, ok(accepted))
	g, _, signer := newTestGateway(t, fb, types.EnvSandbox)

	resp, err := g.PlaceOrder(context.Background(), limitBuy(10, "150.25"))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "0000123", resp.OrderID())
	assert.Equal(t, "093001", resp.OrderTime())
	assert.NotEmpty(t, resp.ClientOrderID)

	calls := fb.calls()
	require.Len(t, calls, 1)
	c := calls[0]
	assert.Equal(t, pathOrder, c.Path)
	assert.Equal(t, "VTTT1002U", c.Header.Get("tr_id"))
	assert.Equal(t, "P", c.Header.Get("custtype"))
	assert.Equal(t, "Bearer tok-0", c.Header.Get("authorization"))
	assert.Equal(t, "app-key", c.Header.Get("appkey"))
	assert.Equal(t, testSecret, c.Header.Get("appsecret"))
	assert.Equal(t,
		`{"CANO":"12345678","ACNT_PRDT_CD":"01","OVRS_EXCG_CD":"NASD","PDNO":"AAPL","ORD_QTY":"10","OVRS_ORD_UNPR":"150.25","ORD_SVR_DVSN_CD":"0","ORD_DVSN":"00"}`,
		string(c.Body))
	assert.Equal(t, signer.SignBytes(c.Body), c.Header.Get("hashkey"))
}

func TestPlaceOrder_LiveSellMarket(t *testing.T) {
	fb := newFakeBroker(t, ok(accepted))
	g, _, _ := newTestGateway(t, fb, types.EnvLive)

	_, err := g.PlaceOrder(context.Background(), types.OrderRequest{
		ClientOrderID: "corr-1",
		Symbol:        "MSFT",
		Side:          types.SideSell,
		Quantity:      2,
		OrderType:     types.OrderTypeMarket,
		Exchange:      "NYSE",
	})
	require.NoError(t, err)

	c := fb.calls()[0]
	assert.Equal(t, "TTTT1001U", c.Header.Get("tr_id"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(c.Body, &body))
	assert.Equal(t, "0", body["OVRS_ORD_UNPR"])
	assert.Equal(t, "01", body["ORD_DVSN"])
	assert.Equal(t, "NYSE", body["OVRS_EXCG_CD"])
}

func TestPlaceOrder_InvalidRequestNotSent(t *testing.T) {
	fb := newFakeBroker(t, ok(accepted))
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

	_, err := g.PlaceOrder(context.Background(), limitBuy(0, "1"))
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = g.PlaceOrder(context.Background(), types.OrderRequest{Symbol: "AAPL", Side: types.SideBuy, Quantity: 1, OrderType: types.OrderTypeLimit})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, fb.calls())
}

func TestPlaceOrder_RejectionIsNotError(t *testing.T) {
	rejected := map[string]any{"rt_cd": "1", "msg_cd": "APBK0656", "msg1": "주문가능금액이 부족합니다."}

	for _, status := range []int{http.StatusOK, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			fb := newFakeBroker(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, status, rejected)
			})
			g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

			resp, err := g.PlaceOrder(context.Background(), limitBuy(1, "10"))
			require.NoError(t, err)
			assert.False(t, resp.IsSuccess())
			assert.Equal(t, "APBK0656", resp.MsgCd)
			assert.Len(t, fb.calls(), 1)
		})
	}
}

func TestPlaceOrder_Retries5xx(t *testing.T) {
	fb := newFakeBroker(t, func(n int, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, accepted)
	})
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

	resp, err := g.PlaceOrder(context.Background(), types.OrderRequest{
		ClientOrderID: "corr-retry",
		Symbol:        "AAPL",
		Side:          types.SideBuy,
		Quantity:      1,
		OrderType:     types.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "corr-retry", resp.ClientOrderID)

	calls := fb.calls()
	require.Len(t, calls, 2)
	// 重试发送完全相同的已签名请求体
	assert.Equal(t, calls[0].Body, calls[1].Body)
	assert.Equal(t, calls[0].Header.Get("hashkey"), calls[1].Header.Get("hashkey"))
}

func TestPlaceOrder_5xxExhausted(t *testing.T) {
	fb := newFakeBroker(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

	_, err := g.PlaceOrder(context.Background(), limitBuy(1, "10"))
	require.Error(t, err)
	var se *sdkhttp.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Len(t, fb.calls(), 3)
}

func TestPlaceOrder_4xxNotRetried(t *testing.T) {
	fb := newFakeBroker(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

	_, err := g.PlaceOrder(context.Background(), limitBuy(1, "10"))
	require.Error(t, err)
	assert.Len(t, fb.calls(), 1)
}

func TestCall_ExpiredTokenRefreshed(t *testing.T) {
	fb := newFakeBroker(t, func(n int, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"rt_cd": "1", "msg_cd": msgCdTokenExpired, "msg1": "기간이 만료된 token 입니다."})
			return
		}
		writeJSON(w, http.StatusOK, accepted)
	})
	g, tokens, _ := newTestGateway(t, fb, types.EnvSandbox)

	resp, err := g.PlaceOrder(context.Background(), limitBuy(1, "10"))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, 1, tokens.forced)

	calls := fb.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Bearer tok-0", calls[0].Header.Get("authorization"))
	assert.Equal(t, "Bearer tok-1", calls[1].Header.Get("authorization"))
}

func TestCall_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	// 两个请求都带 tok-0 到达后才一起返回令牌失效
	var arrived sync.WaitGroup
	arrived.Add(2)
	fb := newFakeBroker(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("authorization") == "Bearer tok-0" {
			arrived.Done()
			arrived.Wait()
			writeJSON(w, http.StatusInternalServerError, map[string]any{"rt_cd": "1", "msg_cd": msgCdTokenExpired, "msg1": "기간이 만료된 token 입니다."})
			return
		}
		writeJSON(w, http.StatusOK, accepted)
	})
	g, tokens, _ := newTestGateway(t, fb, types.EnvSandbox)

	var wg sync.WaitGroup
	results := make([]*types.OrderResponse, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.PlaceOrder(context.Background(), limitBuy(1, "10"))
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i].IsSuccess())
	}
	assert.Equal(t, 1, tokens.forced)

	var stale, fresh int
	for _, c := range fb.calls() {
		switch c.Header.Get("authorization") {
		case "Bearer tok-0":
			stale++
		case "Bearer tok-1":
			fresh++
		}
	}
	assert.Equal(t, 2, stale)
	assert.Equal(t, 2, fresh)
}

func TestCall_TooManyRequestsRetried(t *testing.T) {
	fb := newFakeBroker(t, func(n int, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"rt_cd": "1", "msg_cd": msgCdTooManyReqs, "msg1": "초당 거래건수를 초과하였습니다."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rt_cd": "0", "output": map[string]any{"frcr_buy_mgn_amt": "100"}})
	})
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

	b, err := g.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, b.AvailableCash.Equal(decimal.NewFromInt(100)))
	assert.Len(t, fb.calls(), 2)
}

func TestCancelAndModify(t *testing.T) {
	fb := newFakeBroker(t, ok(accepted))
	g, _, signer := newTestGateway(t, fb, types.EnvSandbox)

	_, err := g.CancelOrder(context.Background(), "0000123", "AAPL", 5)
	require.NoError(t, err)
	_, err = g.ModifyOrder(context.Background(), "0000123", "AAPL", 5, decimal.RequireFromString("151.5"))
	require.NoError(t, err)

	calls := fb.calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, pathRvseCncl, c.Path)
		assert.Equal(t, "VTTT1004U", c.Header.Get("tr_id"))
		assert.Equal(t, signer.SignBytes(c.Body), c.Header.Get("hashkey"))
	}

	var cancelBody, modifyBody map[string]string
	require.NoError(t, json.Unmarshal(calls[0].Body, &cancelBody))
	require.NoError(t, json.Unmarshal(calls[1].Body, &modifyBody))
	assert.Equal(t, "02", cancelBody["RVSE_CNCL_DVSN_CD"])
	assert.Equal(t, "0", cancelBody["OVRS_ORD_UNPR"])
	assert.Equal(t, "0000123", cancelBody["ORGN_ODNO"])
	assert.Equal(t, "01", modifyBody["RVSE_CNCL_DVSN_CD"])
	assert.Equal(t, "151.5", modifyBody["OVRS_ORD_UNPR"])

	_, err = g.CancelOrder(context.Background(), "", "AAPL", 5)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = g.ModifyOrder(context.Background(), "1", "AAPL", 5, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Len(t, fb.calls(), 2)
}

func TestGetPositions(t *testing.T) {
	fb := newFakeBroker(t, ok(map[string]any{
		"rt_cd": "0",
		"output1": []any{
			map[string]any{"ovrs_pdno": "AAPL", "ovrs_item_name": "APPLE INC", "ovrs_cblc_qty": "10", "pchs_avg_pric": "150.5000", "now_pric2": "155.12", "ovrs_stck_evlu_amt": "1551.2", "frcr_evlu_pfls_amt": "46.2", "evlu_pfls_rt": "3.07"},
			map[string]any{"ovrs_pdno": "MSFT", "ovrs_cblc_qty": "0", "pchs_avg_pric": "300", "now_pric2": "310"},
			map[string]any{"ovrs_pdno": "BAD", "ovrs_cblc_qty": "abc", "pchs_avg_pric": "1", "now_pric2": "1"},
			map[string]any{"ovrs_pdno": "TSLA", "ovrs_cblc_qty": 3, "pchs_avg_pric": 200.25, "now_pric2": "210"},
			"not-an-object",
		},
	}))
	g, _, _ := newTestGateway(t, fb, types.EnvLive)

	positions, err := g.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, "APPLE INC", positions[0].Name)
	assert.Equal(t, int64(10), positions[0].Quantity)
	assert.True(t, positions[0].AvgPrice.Equal(decimal.RequireFromString("150.5")))
	assert.True(t, positions[0].ProfitLossRate.Equal(decimal.RequireFromString("3.07")))
	assert.Equal(t, "TSLA", positions[1].Symbol)
	assert.Equal(t, int64(3), positions[1].Quantity)

	c := fb.calls()[0]
	assert.Equal(t, pathBalance, c.Path)
	assert.Equal(t, "TTTC8001R", c.Header.Get("tr_id"))
	assert.Equal(t, "12345678", c.Query.Get("CANO"))
	assert.Equal(t, "01", c.Query.Get("ACNT_PRDT_CD"))
	assert.Equal(t, "NASD", c.Query.Get("OVRS_EXCG_CD"))
	assert.Equal(t, "USD", c.Query.Get("TR_CRCY_CD"))
	assert.Empty(t, c.Header.Get("hashkey"))
}

func TestGetPositions_BusinessError(t *testing.T) {
	fb := newFakeBroker(t, ok(map[string]any{"rt_cd": "1", "msg_cd": "OPSQ0002", "msg1": "없는 서비스 코드 입니다"}))
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

	_, err := g.GetPositions(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "VTTC8001R", apiErr.TrID)
	assert.Equal(t, "OPSQ0002", apiErr.MsgCd)
	assert.Len(t, fb.calls(), 1)
}

func TestGetExecutionsPage_DefaultsAndParsing(t *testing.T) {
	fb := newFakeBroker(t, ok(map[string]any{
		"rt_cd":          "0",
		"ctx_area_fk200": "",
		"ctx_area_nk200": "",
		"output": []any{
			map[string]any{"odno": "0001", "pdno": "AAPL", "sll_buy_dvsn_cd": "02", "ft_ccld_qty": "5", "ft_ccld_unpr3": "150.10", "dmst_ord_dt": "20250102", "ft_ccld_tmd": "233015"},
			map[string]any{"odno": "0002", "pdno": "MSFT", "sll_buy_dvsn_cd": "01", "ft_ccld_qty": "2", "ft_ccld_unpr3": "300", "dmst_ord_dt": "20250102", "ft_ccld_tmd": "010203"},
			map[string]any{"odno": "0003", "pdno": "TSLA", "sll_buy_dvsn_cd": "02", "ft_ccld_qty": "0", "ft_ccld_unpr3": "0", "dmst_ord_dt": "20250102", "ft_ccld_tmd": "010203"},
			map[string]any{"odno": "0004", "pdno": "NVDA", "sll_buy_dvsn_cd": "02", "ft_ccld_qty": "1", "ft_ccld_unpr3": "1", "dmst_ord_dt": "bad", "ft_ccld_tmd": ""},
		},
	}))
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)
	// UTC 2025-01-02 16:00 = KST 2025-01-03 01:00
	g.now = func() time.Time { return time.Date(2025, 1, 2, 16, 0, 0, 0, time.UTC) }

	page, err := g.GetExecutionsPage(context.Background(), ExecutionQuery{})
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Executions, 2)

	buy := page.Executions[0]
	assert.Equal(t, "0001", buy.OrderID)
	assert.Equal(t, types.SideBuy, buy.Side)
	assert.Equal(t, int64(5), buy.ExecutedQty)
	assert.True(t, buy.ExecutedPrice.Equal(decimal.RequireFromString("150.1")))
	assert.True(t, buy.ExecutedAt.Equal(time.Date(2025, 1, 2, 14, 30, 15, 0, time.UTC)))
	assert.Equal(t, types.SideSell, page.Executions[1].Side)

	c := fb.calls()[0]
	assert.Equal(t, "VTTS3012R", c.Header.Get("tr_id"))
	assert.Equal(t, "20250103", c.Query.Get("ORD_STRT_DT"))
	assert.Equal(t, "20250103", c.Query.Get("ORD_END_DT"))
	assert.Equal(t, "%", c.Query.Get("PDNO"))
	assert.Equal(t, "DS", c.Query.Get("SORT_SQN"))
	assert.Empty(t, c.Header.Get("tr_cont"))
}

func TestGetExecutions_FollowsPages(t *testing.T) {
	row := func(odno string) map[string]any {
		return map[string]any{"odno": odno, "pdno": "AAPL", "sll_buy_dvsn_cd": "02", "ft_ccld_qty": "1", "ft_ccld_unpr3": "1", "dmst_ord_dt": "20250102", "ft_ccld_tmd": "100000"}
	}
	fb := newFakeBroker(t, func(n int, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			w.Header().Set("tr_cont", "M")
			writeJSON(w, http.StatusOK, map[string]any{"rt_cd": "0", "ctx_area_fk200": "FK1 ", "ctx_area_nk200": "NK1 ", "output": []any{row("1")}})
			return
		}
		w.Header().Set("tr_cont", "D")
		writeJSON(w, http.StatusOK, map[string]any{"rt_cd": "0", "output": []any{row("2")}})
	})
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

	execs, err := g.GetExecutions(context.Background(), ExecutionQuery{Symbol: "aapl", StartDate: "20250101", EndDate: "20250102", Ascending: true})
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "1", execs[0].OrderID)
	assert.Equal(t, "2", execs[1].OrderID)

	calls := fb.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "AAPL", calls[0].Query.Get("PDNO"))
	assert.Equal(t, "AS", calls[0].Query.Get("SORT_SQN"))
	assert.Equal(t, "N", calls[1].Header.Get("tr_cont"))
	assert.Equal(t, "FK1", calls[1].Query.Get("CTX_AREA_FK200"))
	assert.Equal(t, "NK1", calls[1].Query.Get("CTX_AREA_NK200"))
}

func TestGetExecutionsPage_BadDateRange(t *testing.T) {
	fb := newFakeBroker(t, ok(map[string]any{"rt_cd": "0"}))
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

	_, err := g.GetExecutionsPage(context.Background(), ExecutionQuery{StartDate: "20250105", EndDate: "20250101"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, fb.calls())
}

func TestGetAccountBalance(t *testing.T) {
	t.Run("no output", func(t *testing.T) {
		fb := newFakeBroker(t, ok(map[string]any{"rt_cd": "0", "msg1": "조회할 내용이 없습니다"}))
		g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

		b, err := g.GetAccountBalance(context.Background())
		require.NoError(t, err)
		assert.True(t, b.IsEmpty())
		c := fb.calls()[0]
		assert.Equal(t, "VTRP6504R", c.Header.Get("tr_id"))
		assert.Equal(t, "0", c.Query.Get("OVRS_ORD_UNPR"))
	})

	t.Run("with output", func(t *testing.T) {
		fb := newFakeBroker(t, ok(map[string]any{"rt_cd": "0", "output": map[string]any{
			"tot_evlu_pfls_amt": "10500.25",
			"frcr_dncl_amt_2":   "2000",
			"frcr_buy_mgn_amt":  "1800.5",
			"ovrs_tot_pfls":     "500.25",
			"tot_pftrt":         "5.0",
		}}))
		g, _, _ := newTestGateway(t, fb, types.EnvLive)

		b, err := g.GetAccountBalance(context.Background())
		require.NoError(t, err)
		assert.True(t, b.TotalBalance.Equal(decimal.RequireFromString("10500.25")))
		assert.True(t, b.CashBalance.Equal(decimal.NewFromInt(2000)))
		assert.True(t, b.AvailableCash.Equal(decimal.RequireFromString("1800.5")))
		assert.True(t, b.TotalProfitLoss.Equal(decimal.RequireFromString("500.25")))
		assert.True(t, b.ProfitLossRate.Equal(decimal.NewFromInt(5)))
		assert.Equal(t, "TTRP6504R", fb.calls()[0].Header.Get("tr_id"))
	})
}

func TestGetQuote_Cached(t *testing.T) {
	fb := newFakeBroker(t, ok(map[string]any{"rt_cd": "0", "output": map[string]any{
		"last": "155.1200", "base": "150.0000", "rate": "3.41", "tvol": "1234567",
	}}))
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)

	q, err := g.GetQuote(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.Last.Equal(decimal.RequireFromString("155.12")))
	assert.True(t, q.ChangeRate.Equal(decimal.RequireFromString("3.41")))
	assert.Equal(t, int64(1234567), q.Volume)

	again, err := g.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Same(t, q, again)

	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, pathQuote, calls[0].Path)
	assert.Equal(t, "HHDFS00000300", calls[0].Header.Get("tr_id"))
	assert.Equal(t, "NAS", calls[0].Query.Get("EXCD"))
	assert.Equal(t, "AAPL", calls[0].Query.Get("SYMB"))
}

func TestGateway_Close(t *testing.T) {
	fb := newFakeBroker(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	g, _, _ := newTestGateway(t, fb, types.EnvSandbox)
	require.NoError(t, g.Close())

	_, err := g.GetPositions(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, fb.calls())
}

func TestNewGateway_Validation(t *testing.T) {
	signer, err := signing.NewSigner(testSecret)
	require.NoError(t, err)

	_, err = NewGateway(Config{AccountNo: "", Env: types.EnvSandbox, BaseURL: "http://x"}, &fakeTokens{}, signer)
	assert.Error(t, err)
	_, err = NewGateway(Config{AccountNo: "12345678-01", Env: "paper", BaseURL: "http://x"}, &fakeTokens{}, signer)
	assert.Error(t, err)
	_, err = NewGateway(Config{AccountNo: "12345678-01", Env: types.EnvSandbox, BaseURL: "http://x"}, nil, signer)
	assert.Error(t, err)
}

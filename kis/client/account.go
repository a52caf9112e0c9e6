package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/ratelimit"
)

// maxExecutionPages GetExecutions 最多连续翻页数
const maxExecutionPages = 20

type positionRow struct {
	Symbol         flexString `json:"ovrs_pdno"`
	Name           flexString `json:"ovrs_item_name"`
	Quantity       flexString `json:"ovrs_cblc_qty"`
	AvgPrice       flexString `json:"pchs_avg_pric"`
	CurrentPrice   flexString `json:"now_pric2"`
	EvalAmount     flexString `json:"ovrs_stck_evlu_amt"`
	ProfitLoss     flexString `json:"frcr_evlu_pfls_amt"`
	ProfitLossRate flexString `json:"evlu_pfls_rt"`
}

func (r positionRow) position() (types.Position, error) {
	var (
		p   = types.Position{Symbol: r.Symbol.String(), Name: r.Name.String()}
		err error
	)
	if p.Symbol == "" {
		return p, fmt.Errorf("字段 ovrs_pdno 为空")
	}
	if p.Quantity, err = parseQty("ovrs_cblc_qty", r.Quantity); err != nil {
		return p, err
	}
	if p.AvgPrice, err = parseDecimal("pchs_avg_pric", r.AvgPrice); err != nil {
		return p, err
	}
	if p.CurrentPrice, err = parseDecimal("now_pric2", r.CurrentPrice); err != nil {
		return p, err
	}
	if p.EvalAmount, err = parseDecimalOrZero("ovrs_stck_evlu_amt", r.EvalAmount); err != nil {
		return p, err
	}
	if p.ProfitLoss, err = parseDecimalOrZero("frcr_evlu_pfls_amt", r.ProfitLoss); err != nil {
		return p, err
	}
	if p.ProfitLossRate, err = parseDecimalOrZero("evlu_pfls_rt", r.ProfitLossRate); err != nil {
		return p, err
	}
	return p, nil
}

// GetPositions 查询持仓，过滤数量为 0 的行，解析失败的行记录日志后跳过
func (g *Gateway) GetPositions(ctx context.Context) ([]types.Position, error) {
	params := g.baseParams()
	params["TR_CRCY_CD"] = g.cfg.Currency
	params["CTX_AREA_FK200"] = ""
	params["CTX_AREA_NK200"] = ""

	var out struct {
		Output1 []json.RawMessage `json:"output1"`
	}
	if _, err := g.query(ctx, "positions", trPositions, pathBalance, params, "", ratelimit.KeyQuery, &out); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(out.Output1))
	for i, raw := range out.Output1 {
		var row positionRow
		if err := json.Unmarshal(raw, &row); err != nil {
			g.log.WithError(err).WithField("row", i).Warn("持仓行解析失败，跳过")
			continue
		}
		p, err := row.position()
		if err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{"row": i, "symbol": row.Symbol}).Warn("持仓行解析失败，跳过")
			continue
		}
		if p.Quantity <= 0 {
			continue
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// ExecutionQuery 成交查询条件
type ExecutionQuery struct {
	Symbol    string // 为空查询全部
	StartDate string // YYYYMMDD，默认与 EndDate 相同
	EndDate   string // YYYYMMDD，默认 KST 当天
	Ascending bool   // 默认按券商顺序倒序

	// 翻页键，取自上一页的 ExecutionPage
	CtxAreaFK string
	CtxAreaNK string
}

// ExecutionPage 一页成交记录
type ExecutionPage struct {
	Executions []types.Execution
	NextFK     string
	NextNK     string
	HasMore    bool
}

type executionRow struct {
	OrderNo   flexString `json:"odno"`
	Symbol    flexString `json:"pdno"`
	SideCode  flexString `json:"sll_buy_dvsn_cd"`
	Qty       flexString `json:"ft_ccld_qty"`
	Price     flexString `json:"ft_ccld_unpr3"`
	OrderDate flexString `json:"dmst_ord_dt"`
	FillTime  flexString `json:"ft_ccld_tmd"`
}

func (r executionRow) execution() (types.Execution, error) {
	var (
		e = types.Execution{
			OrderID: r.OrderNo.String(),
			Symbol:  r.Symbol.String(),
			Side:    types.SideSell,
		}
		err error
	)
	if r.SideCode.String() == "02" {
		e.Side = types.SideBuy
	}
	if e.ExecutedQty, err = parseQty("ft_ccld_qty", r.Qty); err != nil {
		return e, err
	}
	if e.ExecutedPrice, err = parseDecimalOrZero("ft_ccld_unpr3", r.Price); err != nil {
		return e, err
	}
	stamp := r.OrderDate.String() + " " + r.FillTime.String()
	if e.ExecutedAt, err = time.ParseInLocation("20060102 150405", stamp, kst); err != nil {
		return e, fmt.Errorf("成交时间格式不正确: %q", stamp)
	}
	return e, nil
}

// GetExecutionsPage 查询一页成交记录
func (g *Gateway) GetExecutionsPage(ctx context.Context, q ExecutionQuery) (*ExecutionPage, error) {
	end := q.EndDate
	if end == "" {
		end = today(g.now())
	}
	start := q.StartDate
	if start == "" {
		start = end
	}
	if start > end {
		return nil, invalid("起始日期 %s 晚于结束日期 %s", start, end)
	}
	pdno := strings.ToUpper(q.Symbol)
	if pdno == "" {
		pdno = "%"
	}
	sort := "DS"
	if q.Ascending {
		sort = "AS"
	}

	params := g.baseParams()
	params["PDNO"] = pdno
	params["ORD_STRT_DT"] = start
	params["ORD_END_DT"] = end
	params["SLL_BUY_DVSN"] = "00"
	params["CCLD_NCCS_DVSN"] = "00"
	params["SORT_SQN"] = sort
	params["ORD_DT"] = ""
	params["ORD_GNO_BRNO"] = ""
	params["ODNO"] = ""
	params["CTX_AREA_FK200"] = q.CtxAreaFK
	params["CTX_AREA_NK200"] = q.CtxAreaNK

	trCont := ""
	if q.CtxAreaFK != "" || q.CtxAreaNK != "" {
		trCont = "N"
	}

	var out struct {
		Output []json.RawMessage `json:"output"`
		FK     string            `json:"ctx_area_fk200"`
		NK     string            `json:"ctx_area_nk200"`
	}
	resp, err := g.query(ctx, "executions", trExecutions, pathExecutions, params, trCont, ratelimit.KeyQuery, &out)
	if err != nil {
		return nil, err
	}

	page := &ExecutionPage{
		Executions: make([]types.Execution, 0, len(out.Output)),
		NextFK:     strings.TrimSpace(out.FK),
		NextNK:     strings.TrimSpace(out.NK),
	}
	switch resp.Header.Get("tr_cont") {
	case "M", "F":
		page.HasMore = true
	}
	for i, raw := range out.Output {
		var row executionRow
		if err := json.Unmarshal(raw, &row); err != nil {
			g.log.WithError(err).WithField("row", i).Warn("成交行解析失败，跳过")
			continue
		}
		e, err := row.execution()
		if err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{"row": i, "order_id": row.OrderNo}).Warn("成交行解析失败，跳过")
			continue
		}
		// 未成交委托
		if e.ExecutedQty <= 0 {
			continue
		}
		page.Executions = append(page.Executions, e)
	}
	return page, nil
}

// GetExecutions 查询成交记录，自动翻页
func (g *Gateway) GetExecutions(ctx context.Context, q ExecutionQuery) ([]types.Execution, error) {
	var all []types.Execution
	for i := 0; i < maxExecutionPages; i++ {
		page, err := g.GetExecutionsPage(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Executions...)
		if !page.HasMore {
			return all, nil
		}
		q.CtxAreaFK, q.CtxAreaNK = page.NextFK, page.NextNK
	}
	g.log.WithField("pages", maxExecutionPages).Warn("成交记录翻页次数达到上限，结果被截断")
	return all, nil
}

type balanceRow struct {
	TotalBalance    flexString `json:"tot_evlu_pfls_amt"`
	CashBalance     flexString `json:"frcr_dncl_amt_2"`
	AvailableCash   flexString `json:"frcr_buy_mgn_amt"`
	TotalProfitLoss flexString `json:"ovrs_tot_pfls"`
	ProfitLossRate  flexString `json:"tot_pftrt"`
}

// GetAccountBalance 查询可用资金，券商未返回 output 时返回空 Balance
func (g *Gateway) GetAccountBalance(ctx context.Context) (types.Balance, error) {
	params := g.baseParams()
	params["OVRS_ORD_UNPR"] = "0"
	params["ITEM_CD"] = ""

	var out struct {
		Output *balanceRow `json:"output"`
	}
	if _, err := g.query(ctx, "balance", trBalance, pathBuyingPower, params, "", ratelimit.KeyQuery, &out); err != nil {
		return types.Balance{}, err
	}
	if out.Output == nil {
		return types.Balance{}, nil
	}

	var (
		b   types.Balance
		err error
		row = out.Output
	)
	if b.TotalBalance, err = parseDecimalOrZero("tot_evlu_pfls_amt", row.TotalBalance); err != nil {
		return types.Balance{}, err
	}
	if b.CashBalance, err = parseDecimalOrZero("frcr_dncl_amt_2", row.CashBalance); err != nil {
		return types.Balance{}, err
	}
	if b.AvailableCash, err = parseDecimalOrZero("frcr_buy_mgn_amt", row.AvailableCash); err != nil {
		return types.Balance{}, err
	}
	if b.TotalProfitLoss, err = parseDecimalOrZero("ovrs_tot_pfls", row.TotalProfitLoss); err != nil {
		return types.Balance{}, err
	}
	if b.ProfitLossRate, err = parseDecimalOrZero("tot_pftrt", row.ProfitLossRate); err != nil {
		return types.Balance{}, err
	}
	return b, nil
}

package client

import (
	"context"
	"strings"

	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/ratelimit"
)

type quoteRow struct {
	Last      flexString `json:"last"`
	PrevClose flexString `json:"base"`
	Rate      flexString `json:"rate"`
	Volume    flexString `json:"tvol"`
}

// GetQuote 查询当前价，短时缓存
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, invalid("symbol 不能为空")
	}
	if q, ok := g.quotes.Get(symbol); ok {
		return q, nil
	}

	excd, ok := exchangeToQuoteCode[g.cfg.Exchange]
	if !ok {
		excd = g.cfg.Exchange
	}
	params := map[string]string{
		"AUTH": "",
		"EXCD": excd,
		"SYMB": symbol,
	}
	var out struct {
		Output *quoteRow `json:"output"`
	}
	if _, err := g.query(ctx, "quote", trQuote, pathQuote, params, "", ratelimit.KeyQuote, &out); err != nil {
		return nil, err
	}
	if out.Output == nil {
		return nil, &APIError{TrID: trQuote.For(g.cfg.Env), Msg: "应答缺少 output"}
	}

	q := &types.Quote{Symbol: symbol, FetchedAt: g.now()}
	var err error
	if q.Last, err = parseDecimal("last", out.Output.Last); err != nil {
		return nil, err
	}
	if q.PrevClose, err = parseDecimalOrZero("base", out.Output.PrevClose); err != nil {
		return nil, err
	}
	if q.ChangeRate, err = parseDecimalOrZero("rate", out.Output.Rate); err != nil {
		return nil, err
	}
	if out.Output.Volume.String() != "" {
		if q.Volume, err = parseQty("tvol", out.Output.Volume); err != nil {
			return nil, err
		}
	}
	if g.cfg.QuoteTTL > 0 {
		g.quotes.Set(symbol, q, g.cfg.QuoteTTL)
	}
	return q, nil
}

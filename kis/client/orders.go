package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gokis/internal/metrics"
	"github.com/betbot/gokis/kis/signing"
	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/ratelimit"
	sdkhttp "github.com/betbot/gokis/pkg/sdk/http"
)

// PlaceOrder 下单。券商拒绝（rt_cd != "0"）以非成功应答返回，不作为错误
func (g *Gateway) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid("%v", err)
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	exchange := req.Exchange
	if exchange == "" {
		exchange = g.cfg.Exchange
	}

	p := signing.NewPayload().
		Set("CANO", g.account.CANO).
		Set("ACNT_PRDT_CD", g.account.ProductCode).
		Set("OVRS_EXCG_CD", exchange).
		Set("PDNO", strings.ToUpper(req.Symbol)).
		Set("ORD_QTY", strconv.FormatInt(req.Quantity, 10)).
		Set("OVRS_ORD_UNPR", req.PriceString()).
		Set("ORD_SVR_DVSN_CD", "0").
		Set("ORD_DVSN", string(req.OrderType))
	hashkey, body, err := g.signer.SignOrder(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	tr := trOrderBuy
	if req.Side == types.SideSell {
		tr = trOrderSell
	}
	g.log.WithFields(logrus.Fields{
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             req.Quantity,
		"price":           req.PriceString(),
		"tif":             req.TimeInForce,
	}).Info("提交订单")

	return g.submit(ctx, "place_order", tr, pathOrder, hashkey, body, req.ClientOrderID)
}

// CancelOrder 撤单
func (g *Gateway) CancelOrder(ctx context.Context, orderID, symbol string, qty int64) (*types.OrderResponse, error) {
	if orderID == "" || symbol == "" || qty <= 0 {
		return nil, invalid("撤单需要订单号、代码和正数量")
	}
	p := g.rvseCnclPayload(orderID, symbol, qty, "0", rvseCnclCancel)
	hashkey, body, err := g.signer.SignCancel(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return g.submit(ctx, "cancel_order", trRvseCncl, pathRvseCncl, hashkey, body, uuid.NewString())
}

// ModifyOrder 改单
func (g *Gateway) ModifyOrder(ctx context.Context, orderID, symbol string, qty int64, price decimal.Decimal) (*types.OrderResponse, error) {
	if orderID == "" || symbol == "" || qty <= 0 {
		return nil, invalid("改单需要订单号、代码和正数量")
	}
	if !price.IsPositive() {
		return nil, invalid("改单价格必须大于 0: %s", price)
	}
	p := g.rvseCnclPayload(orderID, symbol, qty, price.String(), rvseCnclModify)
	hashkey, body, err := g.signer.SignModify(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return g.submit(ctx, "modify_order", trRvseCncl, pathRvseCncl, hashkey, body, uuid.NewString())
}

func (g *Gateway) rvseCnclPayload(orderID, symbol string, qty int64, price, dvsn string) *signing.Payload {
	return signing.NewPayload().
		Set("CANO", g.account.CANO).
		Set("ACNT_PRDT_CD", g.account.ProductCode).
		Set("OVRS_EXCG_CD", g.cfg.Exchange).
		Set("PDNO", strings.ToUpper(symbol)).
		Set("ORGN_ODNO", orderID).
		Set("RVSE_CNCL_DVSN_CD", dvsn).
		Set("ORD_QTY", strconv.FormatInt(qty, 10)).
		Set("OVRS_ORD_UNPR", price).
		Set("ORD_SVR_DVSN_CD", "0")
}

// submit 发送已签名的订单类请求并解析应答
func (g *Gateway) submit(ctx context.Context, op string, tr trPair, path, hashkey string, body []byte, corrID string) (*types.OrderResponse, error) {
	resp, err := g.call(ctx, request{
		op:       op,
		method:   http.MethodPost,
		path:     path,
		tr:       tr,
		body:     body,
		hashkey:  hashkey,
		limitKey: ratelimit.KeyOrder,
		corrID:   corrID,
	})
	if err != nil {
		g.log.WithError(err).WithFields(logrus.Fields{"op": op, "client_order_id": corrID}).Error("订单请求失败")
		return nil, err
	}
	return g.decodeOrder(op, resp, corrID)
}

func (g *Gateway) decodeOrder(op string, resp *sdkhttp.Response, corrID string) (*types.OrderResponse, error) {
	var out types.OrderResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	out.ClientOrderID = corrID

	log := g.log.WithFields(logrus.Fields{
		"op":              op,
		"client_order_id": corrID,
		"rt_cd":           out.RtCd,
		"msg_cd":          out.MsgCd,
	})
	if out.IsSuccess() {
		metrics.OrdersSubmitted.Add(1)
		log.WithField("order_id", out.OrderID()).Info("订单已受理")
	} else {
		metrics.OrdersRejected.Add(1)
		log.WithField("msg", out.Msg1).Warn("订单被券商拒绝")
	}
	return &out, nil
}

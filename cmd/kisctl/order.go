package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/betbot/gokis/kis/types"
)

func newOrderCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "下单、撤单与改单",
	}
	cmd.AddCommand(newOrderPlaceCmd(opts), newOrderCancelCmd(opts), newOrderModifyCmd(opts))
	return cmd
}

func parseOrderType(s string) (types.OrderType, error) {
	switch strings.ToLower(s) {
	case "limit", "00":
		return types.OrderTypeLimit, nil
	case "market", "01":
		return types.OrderTypeMarket, nil
	default:
		return "", errors.Errorf("未知的订单类型: %s (limit/market)", s)
	}
}

func newOrderPlaceCmd(opts *rootOptions) *cobra.Command {
	var (
		symbol, side, orderType, tif, price, exchange, clientID string
		qty                                                     int64
	)
	cmd := &cobra.Command{
		Use:   "place",
		Short: "提交新订单",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ot, err := parseOrderType(orderType)
			if err != nil {
				return err
			}
			req := types.OrderRequest{
				ClientOrderID: clientID,
				Symbol:        symbol,
				Side:          types.Side(strings.ToUpper(side)),
				Quantity:      qty,
				OrderType:     ot,
				TimeInForce:   types.TimeInForce(strings.ToUpper(tif)),
				Exchange:      exchange,
			}
			if price != "" {
				p, err := decimal.NewFromString(price)
				if err != nil {
					return errors.Wrapf(err, "价格格式不正确: %s", price)
				}
				req.Price = &p
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.gateway.PlaceOrder(ctx, req)
			if err != nil {
				return err
			}
			return printOrder(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "代码，例如 AAPL")
	cmd.Flags().StringVar(&side, "side", "", "BUY 或 SELL")
	cmd.Flags().Int64Var(&qty, "qty", 0, "数量")
	cmd.Flags().StringVar(&price, "price", "", "限价，市价单可省略")
	cmd.Flags().StringVar(&orderType, "type", "limit", "limit 或 market")
	cmd.Flags().StringVar(&tif, "tif", "DAY", "有效期 DAY/IOC/FOK/GTD")
	cmd.Flags().StringVar(&exchange, "exchange", "", "交易所代码，默认取配置")
	cmd.Flags().StringVar(&clientID, "client-id", "", "客户端订单号，默认自动生成")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("side")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func newOrderCancelCmd(opts *rootOptions) *cobra.Command {
	var (
		orderID, symbol string
		qty             int64
	)
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "撤销未成交订单",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.gateway.CancelOrder(ctx, orderID, symbol, qty)
			if err != nil {
				return err
			}
			return printOrder(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&orderID, "order-id", "", "原订单号 ODNO")
	cmd.Flags().StringVar(&symbol, "symbol", "", "代码")
	cmd.Flags().Int64Var(&qty, "qty", 0, "撤单数量")
	_ = cmd.MarkFlagRequired("order-id")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func newOrderModifyCmd(opts *rootOptions) *cobra.Command {
	var (
		orderID, symbol, price string
		qty                    int64
	)
	cmd := &cobra.Command{
		Use:   "modify",
		Short: "修改未成交订单的数量与价格",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := decimal.NewFromString(price)
			if err != nil {
				return errors.Wrapf(err, "价格格式不正确: %s", price)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.gateway.ModifyOrder(ctx, orderID, symbol, qty, p)
			if err != nil {
				return err
			}
			return printOrder(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&orderID, "order-id", "", "原订单号 ODNO")
	cmd.Flags().StringVar(&symbol, "symbol", "", "代码")
	cmd.Flags().Int64Var(&qty, "qty", 0, "新数量")
	cmd.Flags().StringVar(&price, "price", "", "新价格")
	for _, f := range []string{"order-id", "symbol", "qty", "price"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// printOrder 券商拒单时输出结果并以错误退出
func printOrder(cmd *cobra.Command, resp *types.OrderResponse) error {
	if err := printJSON(cmd.OutOrStdout(), map[string]any{
		"client_order_id": resp.ClientOrderID,
		"rt_cd":           resp.RtCd,
		"msg_cd":          resp.MsgCd,
		"msg":             resp.Msg1,
		"order_id":        resp.OrderID(),
		"order_time":      resp.OrderTime(),
	}); err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return errors.Errorf("券商拒绝: [%s] %s", resp.MsgCd, resp.Msg1)
	}
	return nil
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/betbot/gokis/kis/client"
	"github.com/betbot/gokis/pkg/journal"
)

func newPositionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "查询持仓",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			positions, err := a.gateway.GetPositions(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), positions)
		},
	}
}

func newExecutionsCmd(opts *rootOptions) *cobra.Command {
	var (
		q       client.ExecutionQuery
		record  bool
		onePage bool
	)
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "查询成交记录，可写入本地账本",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if onePage {
				page, err := a.gateway.GetExecutionsPage(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			}

			execs, err := a.gateway.GetExecutions(ctx, q)
			if err != nil {
				return err
			}
			if record {
				if a.cfg.JournalPath == "" {
					a.log.Warn("未配置 KIS_JOURNAL_PATH，跳过写入账本")
				} else {
					j, err := journal.Open(a.cfg.JournalPath)
					if err != nil {
						return err
					}
					defer j.Close()
					n, err := j.Record(ctx, a.cfg.KIS.AccountNo, execs)
					if err != nil {
						return err
					}
					a.log.WithField("inserted", n).Info("成交已写入账本")
				}
			}
			return printJSON(cmd.OutOrStdout(), execs)
		},
	}
	cmd.Flags().StringVar(&q.Symbol, "symbol", "", "代码，为空查询全部")
	cmd.Flags().StringVar(&q.StartDate, "start", "", "起始日期 YYYYMMDD，默认同结束日期")
	cmd.Flags().StringVar(&q.EndDate, "end", "", "结束日期 YYYYMMDD，默认今天（韩国时间）")
	cmd.Flags().BoolVar(&q.Ascending, "asc", false, "按时间正序")
	cmd.Flags().StringVar(&q.CtxAreaFK, "ctx-fk", "", "续查键 FK")
	cmd.Flags().StringVar(&q.CtxAreaNK, "ctx-nk", "", "续查键 NK")
	cmd.Flags().BoolVar(&onePage, "page", false, "只查询一页并输出续查键")
	cmd.Flags().BoolVar(&record, "journal", false, "写入本地成交账本")
	cmd.MarkFlagsMutuallyExclusive("page", "journal")
	return cmd
}

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "查询资金概要",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			bal, err := a.gateway.GetAccountBalance(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), bal)
		},
	}
}

func newQuoteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL...",
		Short: "查询当前价",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, symbol := range args {
				q, err := a.gateway.GetQuote(ctx, symbol)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), q); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/gokis/internal/metrics"
	"github.com/betbot/gokis/internal/server"
	"github.com/betbot/gokis/pkg/journal"
	"github.com/betbot/gokis/pkg/shutdown"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen   string
		symbols  []string
		rawTypes []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动状态服务，可同时维持实时推送",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataTypes, err := parseDataTypes(rawTypes)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}

			sm := shutdown.NewManager()
			sm.OnShutdown("components", func(context.Context) error {
				a.Close()
				return nil
			})
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if pending := sm.Shutdown(shutdownCtx); pending > 0 {
					a.log.WithField("pending", pending).Warn("部分组件未能按时关闭")
				}
			}()

			if _, err := a.tokens.EnsureToken(ctx); err != nil {
				return err
			}

			srvCfg := server.Config{
				Account: a.cfg.KIS.AccountNo,
				Tokens:  a.tokens,
				Quotes:  a.gateway,
			}
			if a.cfg.JournalPath != "" {
				j, err := journal.Open(a.cfg.JournalPath)
				if err != nil {
					return err
				}
				sm.OnShutdown("journal", func(context.Context) error { return j.Close() })
				srvCfg.Journal = j
			}
			if len(symbols) > 0 {
				handler, err := streamHandler(a, true)
				if err != nil {
					return err
				}
				feed, err := startFeed(ctx, a, handler, symbols, dataTypes)
				if err != nil {
					return err
				}
				srvCfg.Feed = feed
			}
			if a.cfg.MetricsListen != "" {
				if _, err := metrics.StartAsync(ctx, a.cfg.MetricsListen); err != nil {
					return err
				}
			}

			srv, err := server.New(srvCfg)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = a.cfg.ServerListen
			}
			return srv.Run(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "监听地址，默认取 KIS_SERVER_LISTEN")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "同时订阅的代码")
	cmd.Flags().StringSliceVar(&rawTypes, "types", []string{"quote", "trade"}, "订阅的数据类型")
	return cmd
}

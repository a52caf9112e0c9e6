package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	envFile    string
	sandbox    bool
	live       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "kisctl",
		Short:         "KIS 海外股票 Open API 命令行",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "配置文件路径 (.yaml/.yml/.json)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env 文件路径，不存在时忽略")
	cmd.PersistentFlags().BoolVar(&opts.sandbox, "sandbox", false, "强制使用模拟投资环境")
	cmd.PersistentFlags().BoolVar(&opts.live, "live", false, "强制使用实盘环境")
	cmd.MarkFlagsMutuallyExclusive("sandbox", "live")

	cmd.AddCommand(
		newTokenCmd(opts),
		newOrderCmd(opts),
		newPositionsCmd(opts),
		newExecutionsCmd(opts),
		newBalanceCmd(opts),
		newQuoteCmd(opts),
		newStreamCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

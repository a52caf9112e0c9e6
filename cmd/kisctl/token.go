package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/gokis/pkg/logger"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var force, revoke bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "获取、刷新或吊销访问令牌",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if revoke {
				ok := a.tokens.RevokeToken(ctx)
				return printJSON(cmd.OutOrStdout(), map[string]any{"env": a.env, "revoked": ok})
			}
			tok, err := a.tokens.GetToken(ctx, force)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"env":        a.env,
				"token":      logger.Mask(tok.Token),
				"issued_at":  tok.IssuedAt.Format(time.RFC3339),
				"expires_at": tok.ExpiresAt.Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "忽略缓存强制重新签发")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "吊销当前令牌")
	cmd.MarkFlagsMutuallyExclusive("force", "revoke")
	return cmd
}

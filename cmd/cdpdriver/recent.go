package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cdpdriver/internal/config"
	"cdpdriver/internal/logger"
	"cdpdriver/internal/storage"
)

func newRecentCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "查看最近归档的拦截记录",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			archive, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, logger.NewNop())
			if err != nil {
				return err
			}
			defer archive.Close()

			records, err := archive.Recent(limit)
			if err != nil {
				return err
			}
			for _, r := range records {
				ts := time.UnixMilli(r.Timestamp).Format(time.RFC3339)
				line := fmt.Sprintf("%s  %-9s  %-6s  %s", ts, r.Outcome, r.Method, r.URL)
				if r.StatusCode > 0 {
					line += fmt.Sprintf("  [%d]", r.StatusCode)
				}
				if r.ErrorCode != "" {
					line += "  " + r.ErrorCode
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "最多显示的记录数")
	return cmd
}

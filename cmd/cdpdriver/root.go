package main

import (
	"github.com/spf13/cobra"
)

var cfgPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cdpdriver",
		Short:         "页面请求拦截与选择器等待驱动",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "配置文件路径")
	root.AddCommand(newRunCmd())
	root.AddCommand(newRecentCmd())
	return root
}

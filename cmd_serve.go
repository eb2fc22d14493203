package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chaos-io/flagmatte/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					slog.Warn("close model backend", "error", err)
				}
			}()

			return server.New(cfg, a.pipeline, a.backgrounds).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址，覆盖配置文件")
	return cmd
}

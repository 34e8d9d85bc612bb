package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tokmz/chatd/internal/app"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, src, err := loadConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		ctx := cmd.Context()
		a, err := app.New(ctx, cfg, app.WithSource(src))
		if err != nil {
			return err
		}
		if serveMigrate {
			if err := a.Migrate(ctx); err != nil {
				return err
			}
		}

		printBanner(cmd.OutOrStdout(), cfg.Server.Addr)
		a.Logger().Info("chatd starting",
			zap.String("version", version),
			zap.String("addr", cfg.Server.Addr),
			zap.String("config", src.ConfigFileUsed()),
			zap.String("database", string(cfg.Database.Driver)),
			zap.String("cache", string(cfg.Cache.Driver)),
		)
		return a.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address, overrides server.addr")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "create missing tables before serving")
}

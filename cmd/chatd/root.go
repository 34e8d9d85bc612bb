package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokmz/chatd/internal/conf"
	"github.com/tokmz/chatd/pkg/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "chatd",
	Short:         "Real-time chat server",
	Long:          `chatd serves chat rooms over WebSocket with a REST API for accounts, rooms and message history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "chatd:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file (default ./chatd.yaml or /etc/chatd/chatd.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, configCmd, watchCmd, versionCmd)
}

func loadConfig() (*conf.Config, *config.Config, error) {
	return conf.Load(configFile)
}

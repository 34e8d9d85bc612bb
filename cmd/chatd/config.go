package main

import (
	"github.com/spf13/cobra"

	"github.com/tokmz/chatd/internal/conf"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, src, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := conf.Dump(src)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

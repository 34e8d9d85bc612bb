package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tokmz/chatd/internal/notify"
	"github.com/tokmz/chatd/pkg/cache"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print domain events published on the redis channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Cache.Driver != cache.DriverRedis || cfg.Notify.Driver != notify.DriverRedis {
			return errors.New("watch requires cache.driver and notify.driver set to redis")
		}
		store, err := cache.New(cfg.Cache)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		enc := json.NewEncoder(cmd.OutOrStdout())
		fmt.Fprintf(cmd.ErrOrStderr(), "watching %s\n", cfg.Notify.Channel)
		err = notify.Watch(ctx, store, cfg.Notify.Channel, func(e *notify.Event) {
			_ = enc.Encode(e)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenPort int

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept peers and serve the built-in methods until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Listen.Port = listenPort
		}

		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := registerBuiltins(rt.engine, rt.logger); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := rt.engine.Listen(ctx, cfg.Listen.Port); err != nil {
			return err
		}
		rt.logger.Info("peer ready", zap.Stringer("addr", rt.engine.Addr()))

		<-ctx.Done()
		rt.logger.Info("shutting down")
		return nil
	},
}

func init() {
	listenCmd.Flags().IntVarP(&listenPort, "port", "p", 0, "port to listen on (overrides listen.port)")
}

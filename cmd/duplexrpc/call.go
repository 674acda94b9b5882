package main

import (
	"encoding/json"
	"fmt"

	"duplex-rpc/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	dialHost      string
	dialPort      int
	dialLocalPort int
)

var callCmd = &cobra.Command{
	Use:   "call METHOD [JSON-ARG...]",
	Short: "Dial a peer, invoke METHOD and print its result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeer(cmd, func(rt *runtime, values []any) error {
			var reply any
			if err := rt.engine.Call(cmd.Context(), uuid.Nil, args[0], &reply, values...); err != nil {
				return err
			}
			out, err := json.Marshal(reply)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}, args[1:])
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify METHOD [JSON-ARG...]",
	Short: "Dial a peer and invoke METHOD without waiting for a result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeer(cmd, func(rt *runtime, values []any) error {
			return rt.engine.Notify(cmd.Context(), uuid.Nil, args[0], values...)
		}, args[1:])
	},
}

func init() {
	for _, cmd := range []*cobra.Command{callCmd, notifyCmd} {
		cmd.Flags().StringVar(&dialHost, "host", "", "peer host (overrides dial.host)")
		cmd.Flags().IntVarP(&dialPort, "port", "p", 0, "peer port (overrides dial.port)")
		cmd.Flags().IntVar(&dialLocalPort, "local-port", -1, "local port, 0 = same as peer port, -1 = any (overrides dial.local_port)")
	}
}

// parseArgs decodes each command-line argument as one JSON value.
func parseArgs(raw []string) ([]any, error) {
	values := make([]any, len(raw))
	for i, s := range raw {
		if err := json.Unmarshal([]byte(s), &values[i]); err != nil {
			return nil, fmt.Errorf("argument %d is not JSON: %w", i+1, err)
		}
	}
	return values, nil
}

func applyDialFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Dial.Host = dialHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Dial.Port = dialPort
	}
	if cmd.Flags().Changed("local-port") || configPath == "" {
		cfg.Dial.LocalPort = dialLocalPort
	}
}

// withPeer dials the configured peer, runs fn and disconnects.
func withPeer(cmd *cobra.Command, fn func(rt *runtime, values []any) error, rawArgs []string) error {
	values, err := parseArgs(rawArgs)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyDialFlags(cmd, cfg)
	if cfg.Dial.Port == 0 {
		return fmt.Errorf("no peer port: set --port or dial.port")
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.engine.Dial(cmd.Context(), cfg.Dial.Host, cfg.Dial.Port, cfg.Dial.LocalPort); err != nil {
		return err
	}
	return fn(rt, values)
}

// Command duplexrpc runs a duplex-rpc peer from the command line.
//
//	duplexrpc listen --port 9000
//	duplexrpc call --host 127.0.0.1 --port 9000 Echo '"hello"'
//	duplexrpc notify --port 9000 Ping
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"duplex-rpc/config"
	"duplex-rpc/logger"
	"duplex-rpc/metrics"
	"duplex-rpc/rpc"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath  string
	logLevel    string
	codecName   string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:           "duplexrpc",
	Short:         "Bidirectional RPC peer over one TCP connection",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
	rootCmd.PersistentFlags().StringVar(&codecName, "codec", "", "override rpc.codec (json or cbor)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "override metrics.addr, e.g. :9100")
	rootCmd.AddCommand(listenCmd, callCmd, notifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "duplexrpc:", err)
		os.Exit(1)
	}
}

// runtime is what every subcommand needs: configuration, a logger and an engine.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	engine  *rpc.Engine
	metrics *http.Server
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if codecName != "" {
		cfg.RPC.Codec = codecName
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, cfg.Validate()
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	engine, err := rpc.NewEngineFromConfig(cfg, log, m)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: log, engine: engine}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		rt.metrics = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := rt.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}
	return rt, nil
}

func (rt *runtime) Close() error {
	err := rt.engine.Close()
	if rt.metrics != nil {
		rt.metrics.Close()
	}
	rt.logger.Sync()
	return err
}

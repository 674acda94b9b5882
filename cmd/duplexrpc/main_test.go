package main

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"

	"duplex-rpc/config"
	"duplex-rpc/rpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseArgs(t *testing.T) {
	values, err := parseArgs([]string{`41`, `"x"`, `[1,2]`, `{"a":true}`})
	require.NoError(t, err)
	assert.Equal(t, []any{41.0, "x", []any{1.0, 2.0}, map[string]any{"a": true}}, values)

	_, err = parseArgs([]string{"not json"})
	assert.Error(t, err)
}

func TestCallBuiltins(t *testing.T) {
	server := rpc.NewEngine()
	t.Cleanup(func() { server.Close() })
	require.NoError(t, registerBuiltins(server, zap.NewNop()))
	require.NoError(t, server.Listen(context.Background(), 0))
	port := server.Addr().(*net.TCPAddr).Port

	for _, tc := range []struct {
		args []string
		want string
	}{
		{[]string{"Echo", `{"k":"v"}`}, `{"k":"v"}`},
		{[]string{"Sum", `[1,2,3.5]`}, `6.5`},
	} {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append([]string{"call", "--port", strconv.Itoa(port), "--log-level", "error"}, tc.args...))
		require.NoError(t, rootCmd.Execute())
		assert.Equal(t, tc.want, strings.TrimSpace(out.String()))
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Cleanup(func() { logLevel, codecName, metricsAddr = "", "", "" })
	logLevel, codecName = "debug", "cbor"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "cbor", cfg.RPC.Codec)

	codecName = "xml"
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestApplyDialFlags(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, callCmd.Flags().Set("port", "9001"))
	t.Cleanup(func() { callCmd.Flags().Set("port", "0") })

	applyDialFlags(callCmd, cfg)
	assert.Equal(t, 9001, cfg.Dial.Port)
	assert.Equal(t, "127.0.0.1", cfg.Dial.Host)
	assert.Equal(t, -1, cfg.Dial.LocalPort)
}

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/gasless-relayer/relay/go/config"
)

func readConfigWith(t *testing.T, args ...string) config.Config {
	t.Helper()
	var cfg config.Config
	app := &cli.App{
		Name:  "relayctl",
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			var err error
			cfg, err = ReadConfig(ctx)
			return err
		},
	}
	require.NoError(t, app.Run(append([]string{"relayctl"}, args...)))
	return cfg
}

func TestReadConfig_Defaults(t *testing.T) {
	cfg := readConfigWith(t)
	assert.Equal(t, config.Default(), cfg)
}

func TestReadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
chain_id = 11155111
relay_url = "https://relay.example.org"
access_key = "from-file"
`), 0o600))

	cfg := readConfigWith(t,
		"--config", path,
		"--access-key", "from-flag",
		"--deadline-window", "5m",
		"--access-keys", "a", "--access-keys", "b",
	)
	assert.Equal(t, uint64(11155111), cfg.ChainID)
	assert.Equal(t, "https://relay.example.org", cfg.RelayURL)
	assert.Equal(t, "from-flag", cfg.AccessKey)
	assert.Equal(t, 5*time.Minute, cfg.DeadlineWindow)
	assert.Equal(t, []string{"a", "b"}, cfg.AccessKeys)
}

func TestReadConfig_Env(t *testing.T) {
	t.Setenv("RELAY_URL", "http://relay.internal:8010")
	t.Setenv("RELAY_CHAIN_ID", "1")

	cfg := readConfigWith(t)
	assert.Equal(t, "http://relay.internal:8010", cfg.RelayURL)
	assert.Equal(t, uint64(1), cfg.ChainID)
}

func TestParseCall(t *testing.T) {
	to, data, value, err := parseCall("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512:0x3e6fec04")
	require.NoError(t, err)
	assert.Equal(t, "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", to)
	assert.Equal(t, "0x3e6fec04", data)
	assert.Equal(t, "0", value)

	_, _, value, err = parseCall("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512:0x:42")
	require.NoError(t, err)
	assert.Equal(t, "42", value)

	_, _, _, err = parseCall("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", log.LevelTrace},
		{"debug", log.LevelDebug},
		{"INFO", log.LevelInfo},
		{"", log.LevelInfo},
		{"warn", log.LevelWarn},
		{"error", log.LevelError},
		{"crit", log.LevelCrit},
		{"3", log.LevelInfo},
		{"5", log.LevelTrace},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseLogLevel("loud")
	assert.Error(t, err)
	assert.NoError(t, setupLogging("debug"))
	assert.Error(t, setupLogging("loud"))
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/gasless-relayer/relay/go/config"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
)

func main() {
	if err := config.LoadEnv(envFiles()...); err != nil {
		log.Crit("Failed to load environment", "err", err)
	}

	app := cli.NewApp()
	app.Name = "relayctl"
	app.Usage = "prepare, sign and relay gasless ERC-2771 forward requests"
	app.Version = Version
	if GitCommit != "" {
		app.Version += "-" + GitCommit
	}
	app.Flags = Flags
	app.Commands = Commands

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// envFiles returns the dotenv files named by RELAY_ENV_FILE, or .env.
func envFiles() []string {
	v := os.Getenv(EnvVarPrefix + "_ENV_FILE")
	if v == "" {
		return []string{".env"}
	}
	return strings.Split(v, ",")
}

func setupLogging(level string) error {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	return nil
}

// parseLogLevel accepts a level name or a legacy numeric verbosity (0-5).
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "", "info":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	if n, err := strconv.Atoi(level); err == nil && n >= 0 && n <= 5 {
		return log.FromLegacyLevel(n), nil
	}
	return 0, fmt.Errorf("unknown log level %q", level)
}

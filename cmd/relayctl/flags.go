package main

import (
	"github.com/urfave/cli/v2"

	"github.com/gasless-relayer/relay/go/config"
)

const EnvVarPrefix = "RELAY"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		EnvVars: prefixEnvVars("CONFIG"),
	}
	RPCURLFlag = &cli.StringFlag{
		Name:    "rpc-url",
		Usage:   "JSON-RPC endpoint of the chain",
		EnvVars: prefixEnvVars("RPC_URL"),
	}
	ChainIDFlag = &cli.Uint64Flag{
		Name:    "chain-id",
		Usage:   "Chain id requests are signed for",
		EnvVars: prefixEnvVars("CHAIN_ID"),
	}
	PrivateKeyFlag = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "Hex private key of the sender",
		EnvVars: prefixEnvVars("PRIVATE_KEY"),
	}
	ForwarderFlag = &cli.StringFlag{
		Name:    "forwarder",
		Usage:   "Trusted forwarder address",
		EnvVars: prefixEnvVars("FORWARDER"),
	}
	ForwarderNameFlag = &cli.StringFlag{
		Name:    "forwarder-name",
		Usage:   "EIP-712 domain name of the forwarder",
		EnvVars: prefixEnvVars("FORWARDER_NAME"),
	}
	DynamicDomainFlag = &cli.BoolFlag{
		Name:    "dynamic-domain",
		Usage:   "Read the forwarder domain with eip712Domain() instead of the static name",
		EnvVars: prefixEnvVars("DYNAMIC_DOMAIN"),
	}
	RelayURLFlag = &cli.StringFlag{
		Name:    "relay-url",
		Usage:   "Base URL of the relay service",
		EnvVars: prefixEnvVars("URL"),
	}
	AccessKeyFlag = &cli.StringFlag{
		Name:    "access-key",
		Usage:   "Relay access key",
		EnvVars: prefixEnvVars("ACCESS_KEY"),
	}
	TimeoutFlag = &cli.DurationFlag{
		Name:    "timeout",
		Usage:   "Relay request timeout (0 means none)",
		EnvVars: prefixEnvVars("TIMEOUT"),
	}
	DeadlineWindowFlag = &cli.DurationFlag{
		Name:    "deadline-window",
		Usage:   "How long a prepared request stays valid",
		EnvVars: prefixEnvVars("DEADLINE_WINDOW"),
	}
	ListenAddrFlag = &cli.StringFlag{
		Name:    "listen-addr",
		Usage:   "Address the local relay endpoint or MCP server listens on",
		EnvVars: prefixEnvVars("LISTEN_ADDR"),
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics-addr",
		Usage:   "Address to serve Prometheus metrics on (disabled when empty)",
		EnvVars: prefixEnvVars("METRICS_ADDR"),
	}
	AccessKeysFlag = &cli.StringSliceFlag{
		Name:    "access-keys",
		Usage:   "Access keys the local relay endpoint accepts (any when empty)",
		EnvVars: prefixEnvVars("ACCESS_KEYS"),
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "Log level: trace, debug, info, warn, error, crit",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
	}

	// Command flags
	ToFlag = &cli.StringFlag{
		Name:  "to",
		Usage: "Target contract address",
	}
	ValueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "Wei forwarded with the call, decimal",
		Value: "0",
	}
	DataFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "Call data, 0x-hex",
		Value: "0x",
	}
	NonceFlag = &cli.StringFlag{
		Name:  "nonce",
		Usage: "Explicit forwarder nonce (read from chain when unset)",
	}
	CallFlag = &cli.StringSliceFlag{
		Name:  "call",
		Usage: "Batch entry as to:data[:value], repeatable",
	}
	RefundReceiverFlag = &cli.StringFlag{
		Name:  "refund-receiver",
		Usage: "Address receiving the batch refund (defaults to the sender)",
	}
	RequestIDFlag = &cli.StringFlag{
		Name:     "id",
		Usage:    "Relay request id",
		Required: true,
	}
)

var Flags = []cli.Flag{
	ConfigFlag,
	RPCURLFlag,
	ChainIDFlag,
	PrivateKeyFlag,
	ForwarderFlag,
	ForwarderNameFlag,
	DynamicDomainFlag,
	RelayURLFlag,
	AccessKeyFlag,
	TimeoutFlag,
	DeadlineWindowFlag,
	ListenAddrFlag,
	MetricsAddrFlag,
	AccessKeysFlag,
	LogLevelFlag,
}

// ReadConfig loads the config file and applies flags and environment on top.
func ReadConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.LoadFile(ctx.String(ConfigFlag.Name))
	if err != nil {
		return config.Config{}, err
	}

	if ctx.IsSet(RPCURLFlag.Name) {
		cfg.RPCURL = ctx.String(RPCURLFlag.Name)
	}
	if ctx.IsSet(ChainIDFlag.Name) {
		cfg.ChainID = ctx.Uint64(ChainIDFlag.Name)
	}
	if ctx.IsSet(PrivateKeyFlag.Name) {
		cfg.PrivateKey = ctx.String(PrivateKeyFlag.Name)
	}
	if ctx.IsSet(ForwarderFlag.Name) {
		cfg.Forwarder = ctx.String(ForwarderFlag.Name)
	}
	if ctx.IsSet(ForwarderNameFlag.Name) {
		cfg.ForwarderName = ctx.String(ForwarderNameFlag.Name)
	}
	if ctx.IsSet(DynamicDomainFlag.Name) {
		cfg.DynamicDomain = ctx.Bool(DynamicDomainFlag.Name)
	}
	if ctx.IsSet(RelayURLFlag.Name) {
		cfg.RelayURL = ctx.String(RelayURLFlag.Name)
	}
	if ctx.IsSet(AccessKeyFlag.Name) {
		cfg.AccessKey = ctx.String(AccessKeyFlag.Name)
	}
	if ctx.IsSet(TimeoutFlag.Name) {
		cfg.RequestTimeout = ctx.Duration(TimeoutFlag.Name)
	}
	if ctx.IsSet(DeadlineWindowFlag.Name) {
		cfg.DeadlineWindow = ctx.Duration(DeadlineWindowFlag.Name)
	}
	if ctx.IsSet(ListenAddrFlag.Name) {
		cfg.ListenAddr = ctx.String(ListenAddrFlag.Name)
	}
	if ctx.IsSet(MetricsAddrFlag.Name) {
		cfg.MetricsAddr = ctx.String(MetricsAddrFlag.Name)
	}
	if ctx.IsSet(AccessKeysFlag.Name) {
		cfg.AccessKeys = ctx.StringSlice(AccessKeysFlag.Name)
	}
	if ctx.IsSet(LogLevelFlag.Name) {
		cfg.LogLevel = ctx.String(LogLevelFlag.Name)
	}
	return cfg, nil
}

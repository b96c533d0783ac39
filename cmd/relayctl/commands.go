package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	relay "github.com/gasless-relayer/relay/go"
	"github.com/gasless-relayer/relay/go/config"
	relayhttp "github.com/gasless-relayer/relay/go/http"
	"github.com/gasless-relayer/relay/go/mcp"
	"github.com/gasless-relayer/relay/go/mechanisms/evm"
	"github.com/gasless-relayer/relay/go/metrics"
	"github.com/gasless-relayer/relay/go/relayserver"
	signers "github.com/gasless-relayer/relay/go/signers/evm"
)

var callFlags = []cli.Flag{ToFlag, ValueFlag, DataFlag, NonceFlag}

var Commands = []*cli.Command{
	{
		Name:   "prepare",
		Usage:  "Prepare and sign a forward request and print its wire body",
		Flags:  callFlags,
		Action: prepareAction,
	},
	{
		Name:   "relay",
		Usage:  "Prepare, sign and submit a forward request",
		Flags:  callFlags,
		Action: relayAction,
	},
	{
		Name:   "batch-relay",
		Usage:  "Prepare several forward requests with sequential nonces and submit them as one batch",
		Flags:  []cli.Flag{CallFlag, RefundReceiverFlag},
		Action: batchRelayAction,
	},
	{
		Name:   "domain",
		Usage:  "Print the forwarder's EIP-712 domain and separator",
		Action: domainAction,
	},
	{
		Name:   "status",
		Usage:  "Query the relay for the status of a request",
		Flags:  []cli.Flag{RequestIDFlag},
		Action: statusAction,
	},
	{
		Name:   "serve-mock",
		Usage:  "Run a local relay endpoint that verifies and records requests without broadcasting",
		Action: serveMockAction,
	},
	{
		Name:   "mcp",
		Usage:  "Serve the relay tools over MCP (SSE)",
		Action: mcpAction,
	},
}

// runtime is what every command needs after flags are read.
type runtime struct {
	cfg     config.Config
	metrics *metrics.Metrics
	log     log.Logger
}

func setup(ctx *cli.Context) (*runtime, error) {
	cfg, err := ReadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	rt := &runtime{
		cfg:     cfg,
		metrics: metrics.NewMetrics(registry, metrics.Namespace),
		log:     log.Root(),
	}
	if cfg.MetricsAddr != "" {
		go rt.serveMetrics(ctx.Context, registry)
	}
	return rt, nil
}

func (rt *runtime) serveMetrics(ctx context.Context, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: rt.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	rt.log.Info("Serving metrics", "addr", rt.cfg.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rt.log.Error("Metrics server failed", "err", err)
	}
}

func (rt *runtime) builder(ctx context.Context) (*evm.RequestBuilder, func(), error) {
	if err := rt.cfg.ValidateSigner(); err != nil {
		return nil, nil, err
	}
	signer, err := signers.NewSignerFromPrivateKey(rt.cfg.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	chain, err := signers.DialChainClient(ctx, rt.cfg.RPCURL)
	if err != nil {
		return nil, nil, err
	}

	nodeChainID, err := chain.ChainID(ctx)
	if err != nil {
		chain.Close()
		return nil, nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if nodeChainID.Cmp(rt.cfg.ChainIDBig()) != 0 {
		chain.Close()
		return nil, nil, fmt.Errorf("node chain id %s does not match configured %d", nodeChainID, rt.cfg.ChainID)
	}

	opts := []evm.BuilderOption{
		evm.WithDeadlineWindow(rt.cfg.DeadlineWindow),
		evm.WithNonceSequencer(relay.NewNonceSequencer(rt.cfg.NonceTTL)),
		evm.WithMetrics(rt.metrics),
		evm.WithLogger(rt.log),
	}
	if rt.cfg.DynamicDomain {
		opts = append(opts, evm.WithDynamicDomain(16))
	}
	return evm.NewRequestBuilder(signer, chain, opts...), chain.Close, nil
}

func (rt *runtime) relayClient() *relayhttp.HTTPRelayClient {
	return relayhttp.NewHTTPRelayClient(&relayhttp.RelayConfig{
		URL:     rt.cfg.RelayURL,
		Timeout: rt.cfg.RequestTimeout,
		Metrics: rt.metrics,
		Logger:  rt.log,
	})
}

func (rt *runtime) params(to, value, data, nonce string) (evm.PrepareParams, error) {
	return mcp.ToPrepareParams(mcp.PrepareArgs{To: to, Value: value, Data: data, Nonce: nonce}, rt.defaults())
}

func (rt *runtime) defaults() mcp.Defaults {
	return mcp.Defaults{
		Forwarder:     rt.cfg.ForwarderAddress(),
		ForwarderName: rt.cfg.ForwarderName,
		ChainID:       rt.cfg.ChainIDBig(),
		AccessKey:     rt.cfg.AccessKey,
	}
}

// ============================================================================
// Actions
// ============================================================================

func prepareAction(ctx *cli.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	body, err := rt.prepareOne(ctx)
	if err != nil {
		return err
	}
	return printJSON(ctx, body)
}

func relayAction(ctx *cli.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	body, err := rt.prepareOne(ctx)
	if err != nil {
		return err
	}

	resp, err := rt.relayClient().Submit(ctx.Context, body)
	if err != nil {
		if errors.Is(err, relay.ErrTransmissionFailed) {
			rt.log.Warn("Relay outcome unknown; check the forwarder nonce before retrying", "from", body.From, "nonce", body.Nonce)
		}
		return err
	}
	return printResponse(ctx, resp)
}

func (rt *runtime) prepareOne(ctx *cli.Context) (relay.SingleRelayBody, error) {
	builder, closeChain, err := rt.builder(ctx.Context)
	if err != nil {
		return relay.SingleRelayBody{}, err
	}
	defer closeChain()

	p, err := rt.params(ctx.String(ToFlag.Name), ctx.String(ValueFlag.Name), ctx.String(DataFlag.Name), ctx.String(NonceFlag.Name))
	if err != nil {
		return relay.SingleRelayBody{}, err
	}
	signed, err := builder.PrepareRequest(ctx.Context, p)
	if err != nil {
		return relay.SingleRelayBody{}, err
	}
	return relay.ToWireFormat(signed)
}

func batchRelayAction(ctx *cli.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	calls := ctx.StringSlice(CallFlag.Name)
	if len(calls) == 0 {
		return errors.New("at least one --call is required")
	}

	params := make([]evm.PrepareParams, len(calls))
	for i, call := range calls {
		to, data, value, err := parseCall(call)
		if err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
		if params[i], err = rt.params(to, value, data, ""); err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
	}

	builder, closeChain, err := rt.builder(ctx.Context)
	if err != nil {
		return err
	}
	defer closeChain()

	refund, err := builder.Sender()
	if err != nil {
		return err
	}
	if v := ctx.String(RefundReceiverFlag.Name); v != "" {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("invalid refund receiver: %q", v)
		}
		refund = common.HexToAddress(v)
	}

	batch, err := builder.PrepareBatch(ctx.Context, params, refund)
	if err != nil {
		return err
	}
	body, err := relay.ToBatchWireFormat(batch)
	if err != nil {
		return err
	}

	resp, err := rt.relayClient().SubmitBatch(ctx.Context, body)
	if err != nil {
		if errors.Is(err, relay.ErrTransmissionFailed) {
			rt.log.Warn("Batch outcome unknown; any subset of entries may have executed", "entries", len(body.Requests))
		}
		return err
	}
	return printResponse(ctx, resp)
}

// parseCall splits to:data[:value].
func parseCall(s string) (to, data, value string, err error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		return parts[0], parts[1], "0", nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("expected to:data[:value], got %q", s)
	}
}

func domainAction(ctx *cli.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	if err := rt.cfg.Validate(); err != nil {
		return err
	}

	var resolver evm.DomainResolver = evm.StaticDomainResolver{}
	if rt.cfg.DynamicDomain {
		chain, err := signers.DialChainClient(ctx.Context, rt.cfg.RPCURL)
		if err != nil {
			return err
		}
		defer chain.Close()
		resolver = evm.DynamicDomainResolver{Reader: chain}
	}

	domain, err := resolver.ResolveDomain(ctx.Context, rt.cfg.Forwarder, rt.cfg.ForwarderName, rt.cfg.ChainIDBig())
	if err != nil {
		return err
	}
	separator, err := evm.HashDomain(domain)
	if err != nil {
		return err
	}
	return printJSON(ctx, map[string]interface{}{
		"domain":    domain,
		"types":     evm.DomainTypeFor(domain),
		"separator": evm.BytesToHex(separator),
	})
}

func statusAction(ctx *cli.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	status, err := rt.relayClient().GetRequestStatus(ctx.Context, ctx.String(RequestIDFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(ctx, status)
}

func serveMockAction(ctx *cli.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	if err := rt.cfg.Validate(); err != nil {
		return err
	}

	srv, err := relayserver.New(relayserver.Config{
		ChainID:       rt.cfg.ChainIDBig(),
		Forwarder:     rt.cfg.ForwarderAddress(),
		ForwarderName: rt.cfg.ForwarderName,
		AccessKeys:    rt.cfg.AccessKeys,
		Metrics:       rt.metrics,
		Logger:        rt.log,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx.Context, rt.cfg.ListenAddr)
}

func mcpAction(ctx *cli.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	builder, closeChain, err := rt.builder(ctx.Context)
	if err != nil {
		return err
	}
	defer closeChain()

	server := mcp.NewRelayToolServer(builder, rt.relayClient(), rt.defaults())
	handler := mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server { return server }, nil)

	mux := http.NewServeMux()
	mux.Handle("/sse", handler)
	mux.Handle("/messages", handler)

	httpServer := &http.Server{Addr: rt.cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Context.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	rt.log.Info("Serving MCP relay tools", "addr", rt.cfg.ListenAddr, "forwarder", rt.cfg.Forwarder, "chain_id", rt.cfg.ChainID)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ============================================================================
// Output
// ============================================================================

func printJSON(ctx *cli.Context, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(b))
	return err
}

func printResponse(ctx *cli.Context, resp *relay.RelayResponse) error {
	out := map[string]interface{}{
		"status_code": resp.StatusCode,
		"request_id":  resp.RequestID,
	}
	if json.Valid(resp.Body) {
		out["body"] = json.RawMessage(resp.Body)
	} else {
		out["body"] = string(resp.Body)
	}
	return printJSON(ctx, out)
}

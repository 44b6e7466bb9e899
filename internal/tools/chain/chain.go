// Package chain provides the chain_query tool, a read-only view of EVM
// compatible chains over JSON-RPC.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

// Name is the registry key of the tool.
const Name = "chain_query"

const (
	actionSnapshot = "snapshot"
	actionBalance  = "eth_getBalance"
	actionNonce    = "eth_getTransactionCount"
)

// Backend is the subset of ethclient.Client the tool relies on.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Endpoint describes one chain.
type Endpoint struct {
	RPCURL      string `mapstructure:"rpc_url"`
	Description string `mapstructure:"description"`
}

// Config is the tool's configuration section.
type Config struct {
	Default string              `mapstructure:"default"`
	Chains  map[string]Endpoint `mapstructure:"chains"`
}

// Dialer connects to an endpoint.
type Dialer func(ctx context.Context, rpcURL string) (Backend, func(), error)

type conn struct {
	backend Backend
	close   func()
}

// Tool answers chain queries, dialing each endpoint on first use.
type Tool struct {
	endpoints map[string]Endpoint
	fallback  string
	dial      Dialer
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[string]conn
}

// Option customizes the tool.
type Option func(*Tool)

// WithDialer replaces the JSON-RPC dialer.
func WithDialer(d Dialer) Option {
	return func(t *Tool) {
		if d != nil {
			t.dial = d
		}
	}
}

// New validates the configuration and returns the tool.
func New(cfg Config, opts ...Option) (*Tool, error) {
	if len(cfg.Chains) == 0 {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "未配置任何链节点")
	}
	for name, ep := range cfg.Chains {
		if strings.TrimSpace(ep.RPCURL) == "" {
			return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("链 %s 缺少 rpc_url", name))
		}
	}
	fallback := strings.TrimSpace(cfg.Default)
	if fallback == "" {
		fallback = sortedNames(cfg.Chains)[0]
	}
	if _, ok := cfg.Chains[fallback]; !ok {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("默认链 %s 未定义", fallback))
	}
	t := &Tool{
		endpoints: cfg.Chains,
		fallback:  fallback,
		dial:      dialRPC,
		logger:    logger.Named("tool.chain"),
		conns:     make(map[string]conn),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Factory builds the tool from a configuration section. Without any chain
// configured the tool is not registered.
func Factory(section map[string]any) (tool.Tool, error) {
	var cfg Config
	if err := tool.DecodeConfig(section, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Chains) == 0 {
		return nil, nil
	}
	return New(cfg)
}

func dialRPC(ctx context.Context, rpcURL string) (Backend, func(), error) {
	client, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, err
	}
	eth := ethclient.NewClient(client)
	return eth, eth.Close, nil
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return fmt.Sprintf("Queries EVM blockchains (read-only). Input is a dictionary with 'action' "+
		"('snapshot', 'eth_getBalance' or 'eth_getTransactionCount'), 'address' for account queries, "+
		"and optional 'chain' (one of: %s; default '%s'). Values are returned as hex quantities.",
		strings.Join(sortedNames(t.endpoints), ", "), t.fallback)
}

// Dangerous implements tool.Tool.
func (t *Tool) Dangerous() bool { return false }

type args struct {
	Action  string `mapstructure:"action"`
	Address string `mapstructure:"address"`
	Chain   string `mapstructure:"chain"`
}

// Execute implements tool.Tool.
func (t *Tool) Execute(ctx context.Context, in tool.Input) (string, error) {
	var a args
	if err := tool.Bind(in, &a, "action"); err != nil {
		return "", err
	}
	action := strings.TrimSpace(a.Action)
	name := strings.TrimSpace(a.Chain)
	if name == "" {
		name = t.fallback
	}
	if _, ok := t.endpoints[name]; !ok {
		return fmt.Sprintf("Error: Chain '%s' is not configured. Available chains: %s",
			name, strings.Join(sortedNames(t.endpoints), ", ")), nil
	}

	var address common.Address
	switch action {
	case actionSnapshot:
	case actionBalance, actionNonce:
		if !common.IsHexAddress(a.Address) {
			return fmt.Sprintf("Error: '%s' requires a valid hex 'address'.", action), nil
		}
		address = common.HexToAddress(a.Address)
	case "":
		return "Error: No action specified for chain_query tool.", nil
	default:
		return fmt.Sprintf("Error: Unsupported chain_query action '%s'.", action), nil
	}

	backend, err := t.backend(ctx, name)
	if err != nil {
		t.logger.Error("连接链节点失败", slog.String("chain", name), slog.Any("error", err))
		return fmt.Sprintf("Error: Could not connect to chain '%s': %v", name, err), nil
	}

	t.logger.Info("执行链上查询", slog.String("chain", name), slog.String("action", action))
	out, err := t.query(ctx, backend, name, action, address)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Error("链上查询失败", slog.String("chain", name), slog.String("action", action), slog.Any("error", err))
		return fmt.Sprintf("Error: Chain query '%s' on '%s' failed: %v", action, name, err), nil
	}
	return out, nil
}

func (t *Tool) query(ctx context.Context, backend Backend, name, action string, address common.Address) (string, error) {
	switch action {
	case actionBalance:
		balance, err := backend.BalanceAt(ctx, address, nil)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Balance of %s on '%s': %s wei", address.Hex(), name, toHexBig(balance)), nil
	case actionNonce:
		nonce, err := backend.PendingNonceAt(ctx, address)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Transaction count of %s on '%s': 0x%x", address.Hex(), name, nonce), nil
	default:
		chainID, err := backend.ChainID(ctx)
		if err != nil {
			return "", err
		}
		block, err := backend.BlockNumber(ctx)
		if err != nil {
			return "", err
		}
		out := fmt.Sprintf("Chain '%s': chain_id=%s block_number=0x%x", name, toHexBig(chainID), block)
		if desc := t.endpoints[name].Description; desc != "" {
			out += " (" + desc + ")"
		}
		return out, nil
	}
}

func (t *Tool) backend(ctx context.Context, name string) (Backend, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[name]; ok {
		return c.backend, nil
	}
	backend, closeFn, err := t.dial(ctx, t.endpoints[name].RPCURL)
	if err != nil {
		return nil, err
	}
	t.conns[name] = conn{backend: backend, close: closeFn}
	return backend, nil
}

// Close releases every open connection.
func (t *Tool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, c := range t.conns {
		if c.close != nil {
			c.close()
		}
		delete(t.conns, name)
	}
	return nil
}

func sortedNames(endpoints map[string]Endpoint) []string {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ tool.Tool = (*Tool)(nil)

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// GasSource returns the current gas price in wei.
type GasSource interface {
	Name() string
	GasPriceWei(ctx context.Context) (*big.Int, error)
}

// GasRPCOptions parameterise a JSON-RPC gas price source.
type GasRPCOptions struct {
	Label   string
	RPCURL  string
	Timeout time.Duration
}

// GasRPC calls eth_gasPrice against a chain RPC endpoint.
type GasRPC struct {
	opts      GasRPCOptions
	transport *Transport
	logger    zerolog.Logger

	client    *rpc.Client
	clientMux sync.Mutex
}

// NewGasRPC constructs a gas price source.
func NewGasRPC(opts GasRPCOptions, transport *Transport, logger zerolog.Logger) *GasRPC {
	if opts.Label == "" {
		opts.Label = "chain-rpc"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &GasRPC{
		opts:      opts,
		transport: transport,
		logger:    logger.With().Str("component", "gas_source").Str("source", opts.Label).Logger(),
	}
}

// Name implements GasSource.
func (g *GasRPC) Name() string { return g.opts.Label }

// GasPriceWei implements GasSource.
func (g *GasRPC) GasPriceWei(ctx context.Context) (*big.Int, error) {
	if g.opts.RPCURL == "" {
		return nil, unavailable(g.Name(), "rpc url not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	client, err := g.getClient()
	if err != nil {
		return nil, &SourceError{Source: g.Name(), Err: err}
	}

	var raw json.RawMessage
	if err := client.CallContext(ctx, &raw, "eth_gasPrice"); err != nil {
		var jsonErr *json.SyntaxError
		if errors.As(err, &jsonErr) {
			return nil, &DecodeError{Source: g.Name(), Err: err}
		}
		return nil, &SourceError{Source: g.Name(), Err: err}
	}

	var hexValue string
	if err := json.Unmarshal(raw, &hexValue); err != nil {
		return nil, &DecodeError{Source: g.Name(), Err: fmt.Errorf("gas price not a string: %w", err)}
	}
	wei, err := hexutil.DecodeBig(hexValue)
	if err != nil {
		return nil, &DecodeError{Source: g.Name(), Err: fmt.Errorf("gas price %q: %w", hexValue, err)}
	}
	return wei, nil
}

// Close releases the underlying RPC client.
func (g *GasRPC) Close() {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
}

func (g *GasRPC) getClient() (*rpc.Client, error) {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	client, err := rpc.DialHTTPWithClient(g.opts.RPCURL, g.transport.HTTPClient())
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

// WeiToGwei converts a wei amount to gwei.
func WeiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -9)
}

var _ GasSource = (*GasRPC)(nil)

package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker"

	"github.com/web3-frozen/yield-indexer/internal/metrics"
)

const (
	breakerFailures = 3
	breakerCooldown = 5 * time.Minute
)

// ErrUnknownChain is returned for a chain without a configured RPC endpoint.
var ErrUnknownChain = errors.New("no rpc endpoint for chain")

// Caller executes read-only contract calls. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainResolver returns the Caller for a chain name.
type ChainResolver interface {
	Caller(chain string) (Caller, error)
}

// Chains maps chain names (case-insensitive) to RPC callers.
type Chains struct {
	callers map[string]Caller
	closers []func()
}

// NewChains wraps pre-built callers, keyed by chain name.
func NewChains(callers map[string]Caller) *Chains {
	c := &Chains{callers: make(map[string]Caller, len(callers))}
	for chain, caller := range callers {
		c.callers[strings.ToLower(chain)] = caller
	}
	return c
}

// DialChains connects an ethclient per RPC URL and guards each one with a
// circuit breaker.
func DialChains(ctx context.Context, rpcURLs map[string]string, logger *slog.Logger) (*Chains, error) {
	c := &Chains{callers: make(map[string]Caller, len(rpcURLs))}
	for chain, url := range rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
		}
		c.closers = append(c.closers, client.Close)
		c.callers[strings.ToLower(chain)] = WithBreaker(chain, client, logger)
	}
	return c, nil
}

// Caller returns the caller for chain.
func (c *Chains) Caller(chain string) (Caller, error) {
	caller, ok := c.callers[strings.ToLower(chain)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChain, chain)
	}
	return caller, nil
}

// Close releases the underlying RPC clients.
func (c *Chains) Close() {
	for _, closeFn := range c.closers {
		closeFn()
	}
	c.closers = nil
}

type breakerCaller struct {
	next Caller
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker stops calling a chain's RPC endpoint after consecutive
// transport failures until the cooldown elapses. While open, calls fail with
// gobreaker.ErrOpenState without touching the network. Errors answered by
// the node for one contract (reverts, JSON-RPC error objects) are returned
// to the caller but do not count against the chain.
func WithBreaker(chain string, next Caller, logger *slog.Logger) Caller {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        chain,
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isContractError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("rpc breaker state change", "chain", name, "from", from.String(), "to", to.String())
		},
	})
	return &breakerCaller{next: next, cb: cb}
}

// isContractError reports whether the node answered the call with an error
// about the contract rather than failing to answer at all.
func isContractError(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return true
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func (b *breakerCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CallContract(ctx, msg, blockNumber)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// Package pricing resolves a token's current reference price. Every
// valuation method is a Valuer; the Adapter dispatches on the descriptor's
// method and turns any failure into an absent price.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sony/gobreaker"

	"github.com/web3-frozen/yield-indexer/internal/metrics"
	"github.com/web3-frozen/yield-indexer/internal/token"
)

// Valuer fetches the price of a token for one valuation method.
type Valuer interface {
	Price(ctx context.Context, d token.Descriptor) (float64, error)
}

// ValuerFunc adapts a function to Valuer.
type ValuerFunc func(ctx context.Context, d token.Descriptor) (float64, error)

func (f ValuerFunc) Price(ctx context.Context, d token.Descriptor) (float64, error) {
	return f(ctx, d)
}

// Adapter dispatches price lookups by valuation method. Fetch never fails:
// errors, panics and timeouts are logged and reported as an absent price so
// one token cannot abort a cycle.
type Adapter struct {
	valuers map[token.Method]Valuer
	timeout time.Duration
	logger  *slog.Logger
}

// NewAdapter creates an Adapter with no valuers. A positive timeout bounds
// every individual fetch.
func NewAdapter(logger *slog.Logger, timeout time.Duration) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		valuers: make(map[token.Method]Valuer),
		timeout: timeout,
		logger:  logger,
	}
}

// NewDefaultAdapter registers the built-in valuation methods.
func NewDefaultAdapter(chains ChainResolver, pyth *Pyth, logger *slog.Logger, timeout time.Duration) *Adapter {
	a := NewAdapter(logger, timeout)
	a.Register(token.MethodFixed, Fixed{})
	a.Register(token.MethodERC4626, NewShareConversion(chains))
	a.Register(token.MethodOracle, NewOracle(chains))
	if pyth != nil {
		a.Register(token.MethodPyth, pyth)
	}
	return a
}

// Register installs the valuer for a method, replacing any previous one.
func (a *Adapter) Register(m token.Method, v Valuer) {
	a.valuers[m] = v
}

// Fetch returns the token's current price, or false when it is unavailable.
func (a *Adapter) Fetch(ctx context.Context, d token.Descriptor) (float64, bool) {
	if !d.Resolved() {
		return 0, false
	}
	method := string(d.Type)
	v, ok := a.valuers[d.Type]
	if !ok {
		metrics.FetchTotal.WithLabelValues(method, "unsupported").Inc()
		a.logger.Warn("unsupported valuation method", "token", d.ID, "method", method)
		return 0, false
	}

	start := time.Now()
	price, err := a.call(ctx, v, d)
	metrics.FetchDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err == nil && !validPrice(price) {
		err = fmt.Errorf("invalid price %v", price)
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.FetchTotal.WithLabelValues(method, "breaker_open").Inc()
			a.logger.Warn("price fetch skipped, rpc breaker open", "token", d.ID, "chain", d.Chain)
			return 0, false
		}
		metrics.FetchTotal.WithLabelValues(method, "error").Inc()
		a.logger.Error("price fetch failed", "token", d.ID, "symbol", d.Symbol, "method", method, "error", err)
		return 0, false
	}

	metrics.FetchTotal.WithLabelValues(method, "ok").Inc()
	return price, true
}

func (a *Adapter) call(ctx context.Context, v Valuer, d token.Descriptor) (price float64, err error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return v.Price(ctx, d)
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// Fixed prices every token at 1.0. It tracks relative drift for tokens that
// have no external valuation source yet.
type Fixed struct{}

func (Fixed) Price(context.Context, token.Descriptor) (float64, error) {
	return 1.0, nil
}

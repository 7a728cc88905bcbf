package pricing

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/web3-frozen/yield-indexer/internal/token"
)

const vaultABIJSON = `[
	{"type":"function","name":"convertToAssets","stateMutability":"view",
	 "inputs":[{"name":"shares","type":"uint256"}],
	 "outputs":[{"name":"assets","type":"uint256"}]}
]`

const aggregatorABIJSON = `[
	{"type":"function","name":"decimals","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"latestRoundData","stateMutability":"view",
	 "inputs":[],
	 "outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}]}
]`

var (
	vaultABI      = mustABI(vaultABIJSON)
	aggregatorABI = mustABI(aggregatorABIJSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// ShareConversion prices an ERC-4626 vault share by asking the vault how
// many underlying assets one whole share converts to.
type ShareConversion struct {
	chains ChainResolver
}

func NewShareConversion(chains ChainResolver) *ShareConversion {
	return &ShareConversion{chains: chains}
}

func (s *ShareConversion) Price(ctx context.Context, d token.Descriptor) (float64, error) {
	caller, err := s.chains.Caller(d.Chain)
	if err != nil {
		return 0, err
	}
	oneShare := pow10(d.Decimals)
	out, err := call(ctx, caller, vaultABI, common.HexToAddress(d.Address), "convertToAssets", oneShare)
	if err != nil {
		return 0, err
	}
	assets, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("convertToAssets: unexpected output %T", out[0])
	}
	return scaleDown(assets, d.AssetDecimals()), nil
}

// Oracle reads the latest answer of a Chainlink-style aggregator and scales
// it by the feed's own decimals.
type Oracle struct {
	chains ChainResolver

	mu       sync.Mutex
	decimals map[common.Address]int
}

func NewOracle(chains ChainResolver) *Oracle {
	return &Oracle{chains: chains, decimals: make(map[common.Address]int)}
}

func (o *Oracle) Price(ctx context.Context, d token.Descriptor) (float64, error) {
	caller, err := o.chains.Caller(d.Chain)
	if err != nil {
		return 0, err
	}
	feed := common.HexToAddress(d.OracleTarget())

	dec, err := o.feedDecimals(ctx, caller, feed)
	if err != nil {
		return 0, err
	}
	out, err := call(ctx, caller, aggregatorABI, feed, "latestRoundData")
	if err != nil {
		return 0, err
	}
	answer, ok := out[1].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("latestRoundData: unexpected answer %T", out[1])
	}
	if answer.Sign() <= 0 {
		return 0, fmt.Errorf("latestRoundData: non-positive answer %s", answer)
	}
	return scaleDown(answer, dec), nil
}

// feedDecimals caches decimals() per feed; it never changes for a deployed
// aggregator.
func (o *Oracle) feedDecimals(ctx context.Context, caller Caller, feed common.Address) (int, error) {
	o.mu.Lock()
	dec, ok := o.decimals[feed]
	o.mu.Unlock()
	if ok {
		return dec, nil
	}

	out, err := call(ctx, caller, aggregatorABI, feed, "decimals")
	if err != nil {
		return 0, err
	}
	raw, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected output %T", out[0])
	}
	dec = int(raw)

	o.mu.Lock()
	o.decimals[feed] = dec
	o.mu.Unlock()
	return dec, nil
}

func call(ctx context.Context, caller Caller, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// scaleDown interprets v as a fixed-point integer with the given decimals.
func scaleDown(v *big.Int, decimals int) float64 {
	return decimal.NewFromBigInt(v, -int32(decimals)).InexactFloat64()
}

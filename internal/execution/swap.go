package execution

import (
	"context"
	"math/big"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/execution/signer"
	"github.com/ggonzalez94/kswap/internal/fees"
	"github.com/ggonzalez94/kswap/internal/providers/kyberswap"
)

// DefaultSwapGasLimit is used when the aggregator gives no usable estimate.
const DefaultSwapGasLimit uint64 = 500_000

type FeeSource interface {
	Suggest(ctx context.Context, tier fees.Tier) (fees.Suggestion, error)
}

type SwapRequest struct {
	Signer    signer.Signer
	Build     kyberswap.BuildResult
	Router    common.Address
	FromToken common.Address
	AmountIn  *big.Int
	Tier      fees.Tier
}

type SwapExecutor struct {
	tx   *Transactor
	fees FeeSource
}

func NewSwapExecutor(tx *Transactor, feeSource FeeSource) *SwapExecutor {
	return &SwapExecutor{tx: tx, fees: feeSource}
}

func (s *SwapExecutor) Execute(ctx context.Context, req SwapRequest) (Receipt, error) {
	data, err := cleanCalldata(req.Build.Data)
	if err != nil {
		return Receipt{}, err
	}
	router := req.Router
	if router == (common.Address{}) && common.IsHexAddress(req.Build.RouterAddress) {
		router = common.HexToAddress(req.Build.RouterAddress)
	}
	if router == (common.Address{}) {
		return Receipt{}, clierr.New(clierr.CodeSwapTx, "missing router address")
	}

	value := new(big.Int)
	if s.tx.chain.IsNative(req.FromToken) {
		if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
			return Receipt{}, clierr.New(clierr.CodeInvalidInput, "native swap amount must be positive")
		}
		value.Set(req.AmountIn)
	}
	gasLimit, ok := req.Build.GasLimit()
	if !ok {
		gasLimit = DefaultSwapGasLimit
	}

	// Fees are fetched right before building so they reflect the current block.
	suggestion, err := s.fees.Suggest(ctx, req.Tier)
	if err != nil {
		return Receipt{}, err
	}
	return s.tx.submit(ctx, req.Signer, txCall{
		kind:       TxKindSwap,
		to:         router,
		value:      value,
		data:       data,
		gasLimit:   gasLimit,
		fees:       suggestion,
		sendCode:   clierr.CodeSwapTx,
		revertCode: clierr.CodeSwapReverted,
	})
}

func cleanCalldata(raw string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	if clean == "" {
		return nil, clierr.New(clierr.CodeSwapTx, "missing swap calldata")
	}
	if !strings.HasPrefix(clean, "0x") {
		return nil, clierr.New(clierr.CodeSwapTx, "swap calldata must be 0x-prefixed hex")
	}
	data, err := decodeHex(clean)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSwapTx, "decode swap calldata", err)
	}
	if len(data) == 0 {
		return nil, clierr.New(clierr.CodeSwapTx, "missing swap calldata")
	}
	return data, nil
}

package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/execution/signer"
	"github.com/ggonzalez94/kswap/internal/fees"
	"github.com/ggonzalez94/kswap/internal/registry"
	"github.com/holiman/uint256"
)

const ApprovalGasLimit uint64 = 100_000

var erc20ABI = mustABI(registry.ERC20ABI)

type ApprovalPolicy string

const (
	ApprovalExact     ApprovalPolicy = "exact"
	ApprovalUnlimited ApprovalPolicy = "unlimited"
)

func ParseApprovalPolicy(v string) (ApprovalPolicy, error) {
	switch ApprovalPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case ApprovalExact, "":
		return ApprovalExact, nil
	case ApprovalUnlimited:
		return ApprovalUnlimited, nil
	}
	return "", clierr.New(clierr.CodeInvalidInput, fmt.Sprintf("approval policy must be exact or unlimited, got %q", v))
}

// ApprovalValue is amount+1 for exact approvals and 2^256-1 for unlimited.
func ApprovalValue(policy ApprovalPolicy, amount *big.Int) *big.Int {
	if policy == ApprovalUnlimited {
		return new(uint256.Int).SetAllOne().ToBig()
	}
	return new(big.Int).Add(amount, big.NewInt(1))
}

type ApprovalRequest struct {
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
	Policy  ApprovalPolicy
	Fees    fees.Suggestion
	Signer  signer.Signer
}

type Approver struct {
	tx *Transactor
}

func NewApprover(tx *Transactor) *Approver {
	return &Approver{tx: tx}
}

func (a *Approver) Approve(ctx context.Context, req ApprovalRequest) (Receipt, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Receipt{}, clierr.New(clierr.CodeInvalidInput, "approval amount must be positive")
	}
	if a.tx.chain.IsNative(req.Token) {
		return Receipt{}, clierr.New(clierr.CodeInvalidInput, "native token does not need approval")
	}
	data, err := erc20ABI.Pack("approve", req.Spender, ApprovalValue(req.Policy, req.Amount))
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	return a.tx.submit(ctx, req.Signer, txCall{
		kind:       TxKindApproval,
		to:         req.Token,
		data:       data,
		gasLimit:   ApprovalGasLimit,
		fees:       req.Fees,
		sendCode:   clierr.CodeApprovalTx,
		revertCode: clierr.CodeApprovalReverted,
	})
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

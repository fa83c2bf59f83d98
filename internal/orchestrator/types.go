package orchestrator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/execution"
	"github.com/ggonzalez94/kswap/internal/execution/signer"
	"github.com/ggonzalez94/kswap/internal/fees"
	"github.com/ggonzalez94/kswap/internal/permit"
	"github.com/ggonzalez94/kswap/internal/providers/kyberswap"
	"github.com/ggonzalez94/kswap/internal/token"
)

type State string

const (
	StateIdle             State = "Idle"
	StateBalanceChecked   State = "BalanceChecked"
	StateRouteFetched     State = "RouteFetched"
	StateAllowanceChecked State = "AllowanceChecked"
	StatePermitPath       State = "PermitPath"
	StateApprovalPath     State = "ApprovalPath"
	StateSkipNative       State = "SkipNative"
	StateEncoded          State = "Encoded"
	StateConfirmed        State = "Confirmed"
	StateExecuted         State = "Executed"
	StateSuccess          State = "Success"
	StateFailed           State = "Failed"
)

// AuthPath records how spending was authorized for the router.
type AuthPath string

const (
	AuthNative   AuthPath = "native"
	AuthExisting AuthPath = "existing-allowance"
	AuthPermit   AuthPath = "permit"
	AuthApproval AuthPath = "approval"
)

const ReasonUserCancelled = "user-cancelled"

type BalanceReader interface {
	BalanceOf(ctx context.Context, tokenAddr, owner common.Address) (token.Balance, error)
}

type AllowanceReader interface {
	CurrentAllowance(ctx context.Context, tokenAddr, owner, spender common.Address) (*big.Int, error)
}

type PermitProber interface {
	Probe(ctx context.Context, tokenAddr, owner common.Address) permit.ProbeResult
}

type PermitSigner interface {
	Sign(ctx context.Context, req permit.Request, wallet signer.Signer) (permit.Authorization, error)
}

type FeeSource interface {
	Suggest(ctx context.Context, tier fees.Tier) (fees.Suggestion, error)
}

type RouteSource interface {
	GetRoute(ctx context.Context, req kyberswap.RouteRequest) (kyberswap.RouteQuote, error)
	BuildRoute(ctx context.Context, summary kyberswap.RouteSummary, params kyberswap.BuildParams) (kyberswap.BuildResult, error)
}

type Approver interface {
	Approve(ctx context.Context, req execution.ApprovalRequest) (execution.Receipt, error)
}

type SwapSender interface {
	Execute(ctx context.Context, req execution.SwapRequest) (execution.Receipt, error)
}

type ApprovalPrompt struct {
	Wallet   common.Address
	Token    common.Address
	Spender  common.Address
	Value    *big.Int
	Policy   execution.ApprovalPolicy
	Decimals int
	Reason   string
}

type SwapPrompt struct {
	Wallet       common.Address
	FromToken    common.Address
	ToToken      common.Address
	AmountIn     string
	AmountInUSD  string
	AmountOut    string
	AmountOutUSD string
	FromDecimals int
	ToDecimals   int
	Gas          string
	GasUSD       string
	Path         AuthPath
}

// Confirmer gates the two on-chain writes. A false answer cancels the
// wallet's attempt.
type Confirmer interface {
	ConfirmApproval(ctx context.Context, p ApprovalPrompt) (bool, error)
	ConfirmSwap(ctx context.Context, p SwapPrompt) (bool, error)
}

// Recorder receives run counters. Metrics satisfies it.
type Recorder interface {
	SwapOutcome(chain, outcome string)
	Authorization(chain, path string)
}

// AmountSpec is either a decimal token amount or a percentage of the
// wallet's balance.
type AmountSpec struct {
	Decimal string
	Percent string
}

type Intent struct {
	FromToken      common.Address
	ToToken        common.Address
	ToDecimals     int
	Amount         AmountSpec
	SlippageBps    int64
	Tier           fees.Tier
	ApprovalPolicy execution.ApprovalPolicy
	// Recipient defaults to the swapping wallet.
	Recipient   common.Address
	FeeAmount   *big.Int
	ChargeFeeBy string
}

type Result struct {
	Index      int
	Wallet     common.Address
	Chain      string
	States     []State
	FinalState State
	Path       AuthPath
	AmountIn   *big.Int
	Decimals   int
	Router     common.Address
	Probe      *permit.ProbeResult
	Build      *kyberswap.BuildResult
	Approval   *execution.Receipt
	// AllowanceAfter is the allowance read back after an approval attempt.
	AllowanceAfter *big.Int
	Swap           *execution.Receipt
	Reason         string
	Err            error
}

func (r Result) Succeeded() bool {
	return r.FinalState == StateSuccess
}

// IsCancelled reports a user decline, which is not a failure.
func (r Result) IsCancelled() bool {
	return clierr.Is(r.Err, clierr.CodeUserCancelled)
}

type Skipped struct {
	Index  int
	Reason string
}

type WalletInput struct {
	Index int
	Key   string
}

type BatchResult struct {
	Results     []Result
	Skipped     []Skipped
	Interrupted bool
}

func (b BatchResult) Counts() (succeeded, failed, cancelled int) {
	for _, r := range b.Results {
		switch {
		case r.Succeeded():
			succeeded++
		case r.IsCancelled():
			cancelled++
		default:
			failed++
		}
	}
	return succeeded, failed, cancelled
}

// Package orchestrator drives one wallet's swap from balance check to
// settlement, choosing between an existing allowance, a permit and an
// on-chain approval.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/kswap/internal/amount"
	"github.com/ggonzalez94/kswap/internal/chain"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/execution"
	"github.com/ggonzalez94/kswap/internal/execution/signer"
	"github.com/ggonzalez94/kswap/internal/permit"
	"github.com/ggonzalez94/kswap/internal/providers/kyberswap"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const permitDeadline = 1200 * time.Second

type Deps struct {
	Balances   BalanceReader
	Allowances AllowanceReader
	Prober     PermitProber
	Permits    PermitSigner
	Fees       FeeSource
	Routes     RouteSource
	Approver   Approver
	Swapper    SwapSender
	Confirmer  Confirmer

	Logger  logrus.FieldLogger
	Tracer  trace.Tracer
	Metrics Recorder
}

type Orchestrator struct {
	chain chain.Context
	deps  Deps
	now   func() time.Time
	// parseKey turns a raw key into a signer for RunBatch.
	parseKey func(string) (signer.Signer, error)
}

func New(c chain.Context, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	return &Orchestrator{
		chain: c,
		deps:  deps,
		now:   time.Now,
		parseKey: func(raw string) (signer.Signer, error) {
			return signer.NewLocalSigner(raw)
		},
	}
}

// attempt is the mutable state of one Run.
type attempt struct {
	res    *Result
	log    logrus.FieldLogger
	wallet signer.Signer
	intent Intent
	quote  kyberswap.RouteQuote
	auth   *permit.Authorization
}

// Run never returns an error; the outcome, including any failure, is in
// the Result.
func (o *Orchestrator) Run(ctx context.Context, wallet signer.Signer, intent Intent) Result {
	res := &Result{Wallet: wallet.Address(), Chain: o.chain.Slug, States: []State{StateIdle}}
	a := &attempt{
		res:    res,
		wallet: wallet,
		intent: intent,
		log: o.deps.Logger.WithFields(logrus.Fields{
			"wallet": wallet.Address().Hex(),
			"chain":  o.chain.Slug,
		}),
	}

	ctx, span := o.deps.Tracer.Start(ctx, "kswap.swap", trace.WithAttributes(
		attribute.String("wallet", wallet.Address().Hex()),
		attribute.String("chain", o.chain.Slug),
	))
	defer span.End()

	err := o.run(ctx, a)
	switch {
	case err == nil:
		res.FinalState = StateSuccess
		res.States = append(res.States, StateSuccess)
		o.deps.Metrics.SwapOutcome(o.chain.Slug, "success")
		a.log.WithFields(logrus.Fields{"state": StateSuccess, "tx_hash": res.Swap.TxHash}).Info("swap confirmed")
	case clierr.Is(err, clierr.CodeUserCancelled):
		res.FinalState = StateFailed
		res.States = append(res.States, StateFailed)
		res.Reason = ReasonUserCancelled
		res.Err = err
		o.deps.Metrics.SwapOutcome(o.chain.Slug, "cancelled")
		a.log.WithFields(logrus.Fields{"state": StateFailed, "reason": ReasonUserCancelled}).Warn("swap cancelled")
	default:
		res.FinalState = StateFailed
		res.States = append(res.States, StateFailed)
		res.Err = err
		if res.Reason == "" {
			res.Reason = err.Error()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.deps.Metrics.SwapOutcome(o.chain.Slug, "failed")
		fields := logrus.Fields{"state": StateFailed, "reason": res.Reason}
		if hash := clierr.TxHash(err); hash != "" {
			fields["tx_hash"] = hash
		}
		a.log.WithFields(fields).Error("swap failed")
	}
	return *res
}

func (o *Orchestrator) run(ctx context.Context, a *attempt) error {
	if err := o.phase(ctx, a, StateBalanceChecked, o.checkBalance); err != nil {
		return err
	}
	if err := o.phase(ctx, a, StateRouteFetched, o.fetchRoute); err != nil {
		return err
	}

	// The native sentinel needs no allowance; its check passes without a read.
	native := o.chain.IsNative(a.intent.FromToken)
	var sufficient bool
	if err := o.phase(ctx, a, StateAllowanceChecked, func(ctx context.Context, a *attempt) error {
		if native {
			return nil
		}
		var err error
		sufficient, err = o.allowanceCovers(ctx, a)
		return err
	}); err != nil {
		return err
	}
	switch {
	case native:
		if err := o.phase(ctx, a, StateSkipNative, func(context.Context, *attempt) error {
			a.res.Path = AuthNative
			return nil
		}); err != nil {
			return err
		}
	case sufficient:
		a.res.Path = AuthExisting
	default:
		if err := o.authorize(ctx, a); err != nil {
			return err
		}
	}
	o.deps.Metrics.Authorization(o.chain.Slug, string(a.res.Path))

	if err := o.phase(ctx, a, StateEncoded, o.encode); err != nil {
		return err
	}
	if err := o.phase(ctx, a, StateConfirmed, o.confirmSwap); err != nil {
		return err
	}
	return o.phase(ctx, a, StateExecuted, o.execute)
}

// phase runs one state transition under its own span and appends the state
// to the trail only when the transition succeeds.
func (o *Orchestrator) phase(ctx context.Context, a *attempt, state State, fn func(context.Context, *attempt) error) error {
	if err := ctx.Err(); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "run interrupted", err)
	}
	ctx, span := o.deps.Tracer.Start(ctx, string(state))
	defer span.End()
	if err := fn(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	a.res.States = append(a.res.States, state)
	a.log.WithField("state", state).Debug("state reached")
	return nil
}

func (o *Orchestrator) checkBalance(ctx context.Context, a *attempt) error {
	bal, err := o.deps.Balances.BalanceOf(ctx, a.intent.FromToken, a.wallet.Address())
	if err != nil {
		return err
	}
	a.res.Decimals = bal.Decimals
	if bal.Raw == nil || bal.Raw.Sign() == 0 {
		a.res.Reason = "zero balance"
		return clierr.New(clierr.CodeInvalidInput, "zero balance")
	}
	amt, err := resolveAmount(a.intent.Amount, bal.Raw, bal.Decimals)
	if err != nil {
		return err
	}
	if amt.Cmp(bal.Raw) > 0 {
		a.res.Reason = "insufficient balance"
		return clierr.New(clierr.CodeInvalidInput, fmt.Sprintf("insufficient balance: have %s, need %s",
			amount.Format(bal.Raw, bal.Decimals), amount.Format(amt, bal.Decimals)))
	}
	a.res.AmountIn = amt
	return nil
}

func resolveAmount(spec AmountSpec, balance *big.Int, decimals int) (*big.Int, error) {
	dec := strings.TrimSpace(spec.Decimal)
	pct := strings.TrimSpace(spec.Percent)
	switch {
	case dec != "" && pct != "":
		return nil, clierr.New(clierr.CodeInvalidInput, "use either an amount or a percentage, not both")
	case pct != "":
		amt, err := amount.FromPercent(balance, pct)
		if err != nil {
			return nil, err
		}
		if amt.Sign() == 0 {
			return nil, clierr.New(clierr.CodeInvalidInput, fmt.Sprintf("%s%% of balance rounds to zero", pct))
		}
		return amt, nil
	case dec != "":
		amt, err := amount.ParseDecimal(dec, decimals)
		if err != nil {
			return nil, err
		}
		if amt.Sign() == 0 {
			return nil, clierr.New(clierr.CodeInvalidInput, "amount must be greater than zero")
		}
		return amt, nil
	}
	return nil, clierr.New(clierr.CodeInvalidInput, "amount or percentage is required")
}

func (o *Orchestrator) fetchRoute(ctx context.Context, a *attempt) error {
	quote, err := o.deps.Routes.GetRoute(ctx, kyberswap.RouteRequest{
		TokenIn:     a.intent.FromToken,
		TokenOut:    a.intent.ToToken,
		AmountIn:    a.res.AmountIn,
		FeeAmount:   a.intent.FeeAmount,
		ChargeFeeBy: a.intent.ChargeFeeBy,
	})
	if err != nil {
		return err
	}
	a.quote = quote
	a.res.Router = quote.RouterAddress
	return nil
}

func (o *Orchestrator) allowanceCovers(ctx context.Context, a *attempt) (bool, error) {
	allowance, err := o.readAllowance(ctx, a)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(a.res.AmountIn) >= 0, nil
}

func (o *Orchestrator) readAllowance(ctx context.Context, a *attempt) (*big.Int, error) {
	return o.deps.Allowances.CurrentAllowance(ctx, a.intent.FromToken, a.wallet.Address(), a.quote.RouterAddress)
}

func (o *Orchestrator) authorize(ctx context.Context, a *attempt) error {
	probe := o.deps.Prober.Probe(ctx, a.intent.FromToken, a.wallet.Address())
	a.res.Probe = &probe
	if probe.Capability == permit.Supported {
		return o.phase(ctx, a, StatePermitPath, o.signPermit)
	}
	a.log.WithFields(logrus.Fields{
		"state":  StateAllowanceChecked,
		"reason": fmt.Sprintf("permit %s at %s: %s", probe.Capability, probe.Step, probe.Reason),
	}).Info("falling back to on-chain approval")
	return o.phase(ctx, a, StateApprovalPath, o.approve)
}

func (o *Orchestrator) signPermit(ctx context.Context, a *attempt) error {
	auth, err := o.deps.Permits.Sign(ctx, permit.Request{
		Token:    a.intent.FromToken,
		Owner:    a.wallet.Address(),
		Spender:  a.quote.RouterAddress,
		Value:    a.res.AmountIn,
		Deadline: o.now().Add(permitDeadline).Unix(),
	}, a.wallet)
	if err != nil {
		return err
	}
	a.auth = &auth
	a.res.Path = AuthPermit
	return nil
}

func (o *Orchestrator) approve(ctx context.Context, a *attempt) error {
	policy := a.intent.ApprovalPolicy
	if policy == "" {
		policy = execution.ApprovalExact
	}
	ok, err := o.deps.Confirmer.ConfirmApproval(ctx, ApprovalPrompt{
		Wallet:   a.wallet.Address(),
		Token:    a.intent.FromToken,
		Spender:  a.quote.RouterAddress,
		Value:    execution.ApprovalValue(policy, a.res.AmountIn),
		Policy:   policy,
		Decimals: a.res.Decimals,
		Reason:   a.res.Probe.Reason,
	})
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "approval confirmation", err)
	}
	if !ok {
		return clierr.New(clierr.CodeUserCancelled, ReasonUserCancelled)
	}

	suggestion, err := o.deps.Fees.Suggest(ctx, a.intent.Tier)
	if err != nil {
		return err
	}
	receipt, err := o.deps.Approver.Approve(ctx, execution.ApprovalRequest{
		Token:   a.intent.FromToken,
		Spender: a.quote.RouterAddress,
		Amount:  a.res.AmountIn,
		Policy:  policy,
		Fees:    suggestion,
		Signer:  a.wallet,
	})
	if receipt.TxHash != "" {
		a.res.Approval = &receipt
	}
	if err != nil {
		return o.recheckFailedApproval(ctx, a, err)
	}
	a.log.WithFields(logrus.Fields{"state": StateApprovalPath, "tx_hash": receipt.TxHash}).Info("approval confirmed")

	allowance, err := o.readAllowance(ctx, a)
	if err != nil {
		return err
	}
	a.res.AllowanceAfter = allowance
	if allowance.Cmp(a.res.AmountIn) < 0 {
		return clierr.Wrap(clierr.CodeApprovalReverted, "allowance still below swap amount after approval",
			&clierr.TxError{Hash: receipt.TxHash, Status: receipt.Status, Block: receipt.BlockNumber})
	}
	a.res.Path = AuthApproval
	return nil
}

// recheckFailedApproval reads the allowance after an approval that reached
// the network but did not confirm cleanly. A timed-out approval that mined
// anyway lets the attempt continue; every other failure keeps its error.
func (o *Orchestrator) recheckFailedApproval(ctx context.Context, a *attempt, approveErr error) error {
	if a.res.Approval == nil && clierr.TxHash(approveErr) == "" {
		return approveErr
	}
	allowance, err := o.readAllowance(ctx, a)
	if err != nil {
		a.log.WithError(err).WithField("state", StateApprovalPath).Warn("allowance re-read after failed approval")
		return approveErr
	}
	a.res.AllowanceAfter = allowance
	if clierr.Is(approveErr, clierr.CodeReceiptTimeout) && allowance.Cmp(a.res.AmountIn) >= 0 {
		a.log.WithFields(logrus.Fields{
			"state":     StateApprovalPath,
			"tx_hash":   clierr.TxHash(approveErr),
			"allowance": allowance.String(),
		}).Warn("approval receipt timed out but allowance covers the swap")
		a.res.Path = AuthApproval
		return nil
	}
	a.res.Reason = fmt.Sprintf("%v (allowance after approval: %s)", approveErr, allowance)
	return approveErr
}

func (o *Orchestrator) encode(ctx context.Context, a *attempt) error {
	recipient := a.intent.Recipient
	if recipient == (common.Address{}) {
		recipient = a.wallet.Address()
	}
	params := kyberswap.BuildParams{
		Sender:              a.wallet.Address(),
		Recipient:           recipient,
		Deadline:            o.now().Add(kyberswap.RouteDeadline).Unix(),
		SlippageTolerance:   a.intent.SlippageBps,
		EnableGasEstimation: true,
		Permit:              a.auth,
	}
	if a.intent.FeeAmount != nil && a.intent.FeeAmount.Sign() > 0 {
		params.FeeAmount = a.intent.FeeAmount.String()
		params.ChargeFeeBy = a.intent.ChargeFeeBy
	}
	build, err := o.deps.Routes.BuildRoute(ctx, a.quote.Summary, params)
	if err != nil {
		return err
	}
	a.res.Build = &build
	return nil
}

func (o *Orchestrator) confirmSwap(ctx context.Context, a *attempt) error {
	b := a.res.Build
	ok, err := o.deps.Confirmer.ConfirmSwap(ctx, SwapPrompt{
		Wallet:       a.wallet.Address(),
		FromToken:    a.intent.FromToken,
		ToToken:      a.intent.ToToken,
		AmountIn:     firstNonEmpty(b.AmountIn.String(), a.res.AmountIn.String()),
		AmountInUSD:  b.AmountInUSD.String(),
		AmountOut:    firstNonEmpty(b.AmountOut.String(), a.quote.Summary.AmountOut()),
		AmountOutUSD: b.AmountOutUSD.String(),
		FromDecimals: a.res.Decimals,
		ToDecimals:   a.intent.ToDecimals,
		Gas:          b.Gas.String(),
		GasUSD:       b.GasUSD.String(),
		Path:         a.res.Path,
	})
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "swap confirmation", err)
	}
	if !ok {
		return clierr.New(clierr.CodeUserCancelled, ReasonUserCancelled)
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, a *attempt) error {
	receipt, err := o.deps.Swapper.Execute(ctx, execution.SwapRequest{
		Signer:    a.wallet,
		Build:     *a.res.Build,
		Router:    a.quote.RouterAddress,
		FromToken: a.intent.FromToken,
		AmountIn:  a.res.AmountIn,
		Tier:      a.intent.Tier,
	})
	if receipt.TxHash != "" {
		a.res.Swap = &receipt
	}
	return err
}

// RunBatch processes wallets one at a time. Bad keys are skipped, failures
// never stop the batch, and cancellation is checked between wallets.
func (o *Orchestrator) RunBatch(ctx context.Context, wallets []WalletInput, intent Intent) BatchResult {
	var out BatchResult
	seen := map[common.Address]int{}
	for _, w := range wallets {
		if ctx.Err() != nil {
			out.Interrupted = true
			break
		}
		s, err := o.parseKey(w.Key)
		if err != nil {
			reason := err.Error()
			var cliErr *clierr.Error
			if errors.As(err, &cliErr) {
				reason = cliErr.Message
			}
			out.Skipped = append(out.Skipped, Skipped{Index: w.Index, Reason: reason})
			o.deps.Logger.WithFields(logrus.Fields{"chain": o.chain.Slug, "reason": reason}).Warnf("skipping key entry %d", w.Index)
			continue
		}
		if first, dup := seen[s.Address()]; dup {
			out.Skipped = append(out.Skipped, Skipped{Index: w.Index, Reason: fmt.Sprintf("duplicate of entry %d", first)})
			continue
		}
		seen[s.Address()] = w.Index

		res := o.Run(ctx, s, intent)
		res.Index = w.Index
		out.Results = append(out.Results, res)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type nopRecorder struct{}

func (nopRecorder) SwapOutcome(string, string)   {}
func (nopRecorder) Authorization(string, string) {}

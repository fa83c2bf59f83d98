package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/kswap/internal/amount"
	"github.com/ggonzalez94/kswap/internal/chain"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/execution"
	"github.com/ggonzalez94/kswap/internal/execution/signer"
	"github.com/ggonzalez94/kswap/internal/fees"
	"github.com/ggonzalez94/kswap/internal/model"
	"github.com/ggonzalez94/kswap/internal/orchestrator"
	"github.com/ggonzalez94/kswap/internal/permit"
	"github.com/ggonzalez94/kswap/internal/policy"
	"github.com/ggonzalez94/kswap/internal/providers/kyberswap"
	"github.com/ggonzalez94/kswap/internal/runlock"
	"github.com/ggonzalez94/kswap/internal/telemetry"
	"github.com/ggonzalez94/kswap/internal/token"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type swapArgs struct {
	chainArg    string
	fromArg     string
	toArg       string
	amountArg   string
	percentArg  string
	slippageArg string
	approvalArg string
	recipient   string
	keysFile    string
	yes         bool
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var args swapArgs
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap from every configured wallet through the aggregator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.runSwap(cmd, args)
		},
	}
	cmd.Flags().StringVar(&args.chainArg, "chain", "", "Chain identifier")
	cmd.Flags().StringVar(&args.fromArg, "from", "", "Input token address or \"native\"")
	cmd.Flags().StringVar(&args.toArg, "to", "", "Output token address or \"native\"")
	cmd.Flags().StringVar(&args.amountArg, "amount", "", "Amount per wallet in decimal units")
	cmd.Flags().StringVar(&args.percentArg, "percent", "", "Percentage of each wallet's balance (0-100]")
	cmd.Flags().StringVar(&args.slippageArg, "slippage", "0.5", "Slippage tolerance in percent")
	cmd.Flags().StringVar(&args.approvalArg, "approval", string(execution.ApprovalExact), "Approval size when permit is unavailable (exact|unlimited)")
	cmd.Flags().StringVar(&args.recipient, "recipient", "", "Recipient of the output tokens (defaults to each wallet)")
	cmd.Flags().StringVar(&args.keysFile, "keys-file", "", "File with one private key per line")
	cmd.Flags().BoolVar(&args.yes, "yes", false, "Skip confirmation prompts")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (s *runtimeState) runSwap(cmd *cobra.Command, args swapArgs) error {
	c, err := s.resolveChain(args.chainArg)
	if err != nil {
		return err
	}
	intent, err := s.buildIntent(c, args)
	if err != nil {
		return err
	}
	if err := s.settings.Policy.CheckSwap(policy.SwapCheck{
		Chain:             c.Slug,
		SlippageBps:       intent.SlippageBps,
		UnlimitedApproval: intent.ApprovalPolicy == execution.ApprovalUnlimited,
	}); err != nil {
		return err
	}

	entries, err := signer.LoadKeyEntries(args.keysFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, err := runlock.Acquire(ctx, s.settings.LockPath, 0)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	client, err := s.dialChain(ctx, c)
	if err != nil {
		return err
	}
	defer client.Close()

	tp, shutdown, err := telemetry.InitTracer(ctx, s.settings.OTLPEndpoint, s.settings.OTLPInsecure)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "init tracing", err)
	}
	defer shutdown()

	inspector := token.NewInspector(c, client)
	if intent.ToDecimals, err = inspector.Decimals(ctx, intent.ToToken); err != nil {
		return err
	}

	confirmer := newPromptConfirmer(cmd.InOrStdin(), s.runner.stderr, args.yes, s.logger)
	for _, addr := range []common.Address{intent.FromToken, intent.ToToken} {
		confirmer.symbols[addr] = inspector.Symbol(ctx, addr)
	}

	oracle := fees.NewOracle(c, s.httpClient, s.settings.InfuraAPIKey)
	tx := execution.NewTransactor(c, client, execution.WaitOptions{
		PollInterval:   s.settings.PollInterval,
		ReceiptTimeout: s.settings.ReceiptTimeout,
	}, s.metrics)
	orch := orchestrator.New(c, orchestrator.Deps{
		Balances:   inspector,
		Allowances: token.NewLedger(c, client),
		Prober:     permit.NewProber(c, client),
		Permits:    permit.NewSigner(c, client),
		Fees:       oracle,
		Routes:     kyberswap.New(s.httpClient, c, s.settings.ClientID, s.settings.RatePerSecond),
		Approver:   execution.NewApprover(tx),
		Swapper:    execution.NewSwapExecutor(tx, oracle),
		Confirmer:  confirmer,
		Logger:     s.logger,
		Tracer:     tp.Tracer(telemetry.TracerName),
		Metrics:    s.metrics,
	})

	wallets := make([]orchestrator.WalletInput, 0, len(entries))
	for i, key := range entries {
		wallets = append(wallets, orchestrator.WalletInput{Index: i, Key: key})
	}
	batch := orch.RunBatch(ctx, wallets, intent)

	data := swapRunModel(c, intent, batch)
	var warnings []string
	if batch.Interrupted {
		warnings = append(warnings, "interrupted before every wallet ran")
	}
	for _, k := range data.Skipped {
		warnings = append(warnings, fmt.Sprintf("skipped key entry %d: %s", k.Index, k.Reason))
	}
	partial := data.Failed > 0 || data.Cancelled > 0 || len(data.Skipped) > 0 || batch.Interrupted

	if len(batch.Results) == 0 && !batch.Interrupted {
		return clierr.New(clierr.CodeSigner, "no usable signing keys")
	}
	if data.Failed > 0 && data.Succeeded == 0 && data.Cancelled == 0 {
		if err := s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, nil, partial); err != nil {
			return err
		}
		return firstFailure(batch)
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, nil, partial)
}

func (s *runtimeState) buildIntent(c chain.Context, args swapArgs) (orchestrator.Intent, error) {
	from, err := parseToken(c, args.fromArg, "from")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	to, err := parseToken(c, args.toArg, "to")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	if from == to {
		return orchestrator.Intent{}, clierr.New(clierr.CodeInvalidInput, "--from and --to must differ")
	}
	hasAmount := strings.TrimSpace(args.amountArg) != ""
	hasPercent := strings.TrimSpace(args.percentArg) != ""
	if hasAmount == hasPercent {
		return orchestrator.Intent{}, clierr.New(clierr.CodeUsage, "pass exactly one of --amount or --percent")
	}
	slippage, err := amount.SlippageBps(args.slippageArg)
	if err != nil {
		return orchestrator.Intent{}, err
	}
	tier, err := fees.ParseTier(s.settings.GasTier)
	if err != nil {
		return orchestrator.Intent{}, err
	}
	approval, err := execution.ParseApprovalPolicy(args.approvalArg)
	if err != nil {
		return orchestrator.Intent{}, err
	}
	intent := orchestrator.Intent{
		FromToken:      from,
		ToToken:        to,
		Amount:         orchestrator.AmountSpec{Decimal: args.amountArg, Percent: args.percentArg},
		SlippageBps:    slippage,
		Tier:           tier,
		ApprovalPolicy: approval,
		ChargeFeeBy:    s.settings.ChargeFeeBy,
	}
	if r := strings.TrimSpace(args.recipient); r != "" {
		if !common.IsHexAddress(r) {
			return orchestrator.Intent{}, clierr.New(clierr.CodeInvalidInput, "--recipient must be an address")
		}
		intent.Recipient = common.HexToAddress(r)
	}
	if v := strings.TrimSpace(s.settings.FeeAmount); v != "" {
		fee, ok := parseBig(v)
		if !ok || fee.Sign() < 0 {
			return orchestrator.Intent{}, clierr.New(clierr.CodeUsage, "aggregator.fee_amount must be a non-negative integer")
		}
		intent.FeeAmount = fee
	}
	return intent, nil
}

func firstFailure(batch orchestrator.BatchResult) error {
	for _, r := range batch.Results {
		if r.Err != nil && !r.IsCancelled() {
			return r.Err
		}
	}
	return nil
}

func swapRunModel(c chain.Context, intent orchestrator.Intent, batch orchestrator.BatchResult) model.SwapRun {
	run := model.SwapRun{
		ChainID:     c.CAIP2(),
		FromToken:   intent.FromToken.Hex(),
		ToToken:     intent.ToToken.Hex(),
		Attempts:    make([]model.SwapAttempt, 0, len(batch.Results)),
		Skipped:     make([]model.SkippedKey, 0, len(batch.Skipped)),
		Interrupted: batch.Interrupted,
	}
	run.Succeeded, run.Failed, run.Cancelled = batch.Counts()
	for _, k := range batch.Skipped {
		run.Skipped = append(run.Skipped, model.SkippedKey{Index: k.Index, Reason: k.Reason})
	}
	for _, r := range batch.Results {
		run.Attempts = append(run.Attempts, attemptModel(r, intent.ToDecimals))
	}
	return run
}

func attemptModel(r orchestrator.Result, toDecimals int) model.SwapAttempt {
	a := model.SwapAttempt{
		Index:      r.Index,
		Wallet:     r.Wallet.Hex(),
		FinalState: string(r.FinalState),
		States:     make([]string, 0, len(r.States)),
		Path:       string(r.Path),
		Approval:   txInfo(r.Approval),
		Swap:       txInfo(r.Swap),
		Reason:     r.Reason,
	}
	for _, st := range r.States {
		a.States = append(a.States, string(st))
	}
	if r.AmountIn != nil {
		a.AmountIn = &model.AmountInfo{BaseUnits: r.AmountIn.String(), Decimal: amount.Format(r.AmountIn, r.Decimals)}
	}
	if r.Build != nil {
		a.AmountOut = amountInfo(r.Build.AmountOut.String(), toDecimals).Decimal
	}
	if r.AllowanceAfter != nil {
		a.AllowanceAfter = r.AllowanceAfter.String()
	}
	if r.Router != (common.Address{}) {
		a.Router = r.Router.Hex()
	}
	if r.Probe != nil {
		a.Probe = &model.PermitProbe{Capability: r.Probe.Capability.String(), Step: string(r.Probe.Step), Reason: r.Probe.Reason}
	}
	if r.Err != nil {
		code := clierr.ExitCode(r.Err)
		a.ErrorCode = code
		a.ErrorType = clierr.TypeName(clierr.Code(code))
		a.TxHash = clierr.TxHash(r.Err)
	}
	return a
}

func parseBig(v string) (*big.Int, bool) {
	return new(big.Int).SetString(strings.TrimSpace(v), 10)
}

// promptConfirmer asks on the terminal before each write. With autoYes it
// only logs what it approved.
type promptConfirmer struct {
	in      *bufio.Reader
	out     io.Writer
	autoYes bool
	log     logrus.FieldLogger
	symbols map[common.Address]string
}

func newPromptConfirmer(in io.Reader, out io.Writer, autoYes bool, log logrus.FieldLogger) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out, autoYes: autoYes, log: log, symbols: map[common.Address]string{}}
}

// unit is " SYMBOL" for tokens whose symbol was readable.
func (p *promptConfirmer) unit(token common.Address) string {
	if sym := p.symbols[token]; sym != "" {
		return " " + sym
	}
	return ""
}

func (p *promptConfirmer) ConfirmApproval(_ context.Context, prompt orchestrator.ApprovalPrompt) (bool, error) {
	value := "unlimited"
	if prompt.Policy != execution.ApprovalUnlimited {
		value = amount.Format(prompt.Value, prompt.Decimals) + p.unit(prompt.Token)
	}
	summary := fmt.Sprintf("Wallet %s: approve %s to spend %s of token %s", prompt.Wallet.Hex(), prompt.Spender.Hex(), value, prompt.Token.Hex())
	if prompt.Reason != "" {
		summary += fmt.Sprintf(" (permit unavailable: %s)", prompt.Reason)
	}
	return p.ask(summary)
}

func (p *promptConfirmer) ConfirmSwap(_ context.Context, prompt orchestrator.SwapPrompt) (bool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Wallet %s swap via %s\n", prompt.Wallet.Hex(), prompt.Path)
	fmt.Fprintf(&b, "  amount in:  %s%s%s\n", formatRaw(prompt.AmountIn, prompt.FromDecimals), p.unit(prompt.FromToken), usd(prompt.AmountInUSD))
	fmt.Fprintf(&b, "  amount out: %s%s%s\n", formatRaw(prompt.AmountOut, prompt.ToDecimals), p.unit(prompt.ToToken), usd(prompt.AmountOutUSD))
	fmt.Fprintf(&b, "  gas:        %s units%s", prompt.Gas, usd(prompt.GasUSD))
	return p.ask(b.String())
}

func (p *promptConfirmer) ask(summary string) (bool, error) {
	if p.autoYes {
		p.log.WithField("auto_confirm", true).Info(strings.ReplaceAll(summary, "\n", ";"))
		return true, nil
	}
	if _, err := fmt.Fprintf(p.out, "%s\nProceed? [y/N]: ", summary); err != nil {
		return false, err
	}
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func formatRaw(raw string, decimals int) string {
	v, ok := parseBig(raw)
	if !ok {
		return raw
	}
	return amount.Format(v, decimals)
}

func usd(v string) string {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return fmt.Sprintf(" (~$%s)", v)
}

package app

import (
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/kswap/internal/amount"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/execution"
	"github.com/ggonzalez94/kswap/internal/execution/signer"
	"github.com/ggonzalez94/kswap/internal/fees"
	"github.com/ggonzalez94/kswap/internal/model"
	"github.com/ggonzalez94/kswap/internal/providers/kyberswap"
	"github.com/ggonzalez94/kswap/internal/token"
	"github.com/spf13/cobra"
)

const aggregatorProvider = "kyberswap"

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var chainArg, fromArg, toArg, amountArg string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch the best aggregator route without signing anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := s.resolveChain(chainArg)
			if err != nil {
				return err
			}
			from, err := parseToken(c, fromArg, "from")
			if err != nil {
				return err
			}
			to, err := parseToken(c, toArg, "to")
			if err != nil {
				return err
			}

			ctx, cancel := s.commandContext()
			defer cancel()

			fromDecimals, toDecimals := token.NativeDecimals, token.NativeDecimals
			if !c.IsNative(from) || !c.IsNative(to) {
				client, err := s.dialChain(ctx, c)
				if err != nil {
					return err
				}
				defer client.Close()
				inspector := token.NewInspector(c, client)
				if fromDecimals, err = inspector.Decimals(ctx, from); err != nil {
					return err
				}
				if toDecimals, err = inspector.Decimals(ctx, to); err != nil {
					return err
				}
			}
			amountIn, err := amount.ParseDecimal(amountArg, fromDecimals)
			if err != nil {
				return err
			}
			if amountIn.Sign() == 0 {
				return clierr.New(clierr.CodeInvalidInput, "amount must be greater than zero")
			}

			client := kyberswap.New(s.httpClient, c, s.settings.ClientID, s.settings.RatePerSecond)
			start := time.Now()
			quote, err := client.GetRoute(ctx, kyberswap.RouteRequest{TokenIn: from, TokenOut: to, AmountIn: amountIn})
			status := []model.ProviderStatus{{Name: aggregatorProvider, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.lastProviders = status
			if err != nil {
				return err
			}

			data := model.SwapQuote{
				Provider:      aggregatorProvider,
				ChainID:       c.CAIP2(),
				FromToken:     from.Hex(),
				ToToken:       to.Hex(),
				AmountIn:      amountInfo(quote.Summary.AmountIn(), fromDecimals),
				AmountOut:     amountInfo(quote.Summary.AmountOut(), toDecimals),
				AmountInUSD:   quote.Summary.AmountInUSD(),
				AmountOutUSD:  quote.Summary.AmountOutUSD(),
				Gas:           quote.Summary.Gas(),
				GasUSD:        quote.Summary.GasUSD(),
				RouterAddress: quote.RouterAddress.Hex(),
				FetchedAt:     s.runner.now().UTC().Format(time.RFC3339),
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, status, false)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain identifier")
	cmd.Flags().StringVar(&fromArg, "from", "", "Input token address or \"native\"")
	cmd.Flags().StringVar(&toArg, "to", "", "Output token address or \"native\"")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Amount in decimal units")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newFeesCommand() *cobra.Command {
	var chainArg string
	cmd := &cobra.Command{
		Use:   "fees",
		Short: "Show suggested EIP-1559 fees for a chain and tier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := s.resolveChain(chainArg)
			if err != nil {
				return err
			}
			tier, err := fees.ParseTier(s.settings.GasTier)
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()

			start := time.Now()
			suggestion, err := fees.NewOracle(c, s.httpClient, s.settings.InfuraAPIKey).Suggest(ctx, tier)
			status := []model.ProviderStatus{{Name: "infura-gas", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.lastProviders = status
			if err != nil {
				return err
			}
			data := model.FeeSuggestion{
				ChainID:                 c.CAIP2(),
				Tier:                    string(suggestion.Tier),
				MaxFeePerGasWei:         suggestion.MaxFeePerGas.String(),
				MaxPriorityFeePerGasWei: suggestion.MaxPriorityFeePerGas.String(),
				FetchedAt:               suggestion.FetchedAt.Format(time.RFC3339),
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, status, false)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain identifier")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List supported chains with resolved endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			all := s.chains.All()
			data := make([]model.ChainInfo, 0, len(all))
			for _, c := range all {
				data = append(data, model.ChainInfo{
					Name:           c.Name,
					Slug:           c.Slug,
					ChainID:        c.ChainID,
					CAIP2:          c.CAIP2(),
					RPCHost:        rpcHost(c.RPCURL),
					AggregatorSlug: c.AggregatorSlug,
					PermitEnabled:  c.PermitEnabled,
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, nil, false)
		},
	}
}

// rpcHost drops path and query so that API keys embedded in RPC URLs never
// reach output.
func rpcHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

func (s *runtimeState) newTxCommand() *cobra.Command {
	root := &cobra.Command{Use: "tx", Short: "Transaction commands"}
	var chainArg, hashArg string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Look up a transaction receipt, e.g. after a receipt timeout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := s.resolveChain(chainArg)
			if err != nil {
				return err
			}
			raw := strings.TrimSpace(hashArg)
			if len(strings.TrimPrefix(raw, "0x")) != 64 {
				return clierr.New(clierr.CodeInvalidInput, "--hash must be a 32-byte transaction hash")
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			client, err := s.dialChain(ctx, c)
			if err != nil {
				return err
			}
			defer client.Close()

			hash := common.HexToHash(raw)
			receipt, found, err := execution.LookupReceipt(ctx, client, hash)
			if err != nil {
				return err
			}
			data := model.TxStatus{ChainID: c.CAIP2(), TxHash: hash.Hex(), Found: found}
			if found {
				data.Receipt = txInfo(&receipt)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, nil, false)
		},
	}
	statusCmd.Flags().StringVar(&chainArg, "chain", "", "Chain identifier")
	statusCmd.Flags().StringVar(&hashArg, "hash", "", "Transaction hash")
	_ = statusCmd.MarkFlagRequired("chain")
	_ = statusCmd.MarkFlagRequired("hash")
	root.AddCommand(statusCmd)
	return root
}

func (s *runtimeState) newWalletsCommand() *cobra.Command {
	root := &cobra.Command{Use: "wallets", Short: "Signing key commands"}
	var keysFile string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate signing keys and print their addresses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := signer.LoadKeyEntries(keysFile)
			if err != nil {
				return err
			}
			signers, skipped := signer.ParseKeys(entries)
			data := model.WalletCheck{Wallets: []model.WalletEntry{}, Skipped: skippedKeys(skipped)}
			bad := make(map[int]bool, len(skipped))
			for _, k := range skipped {
				bad[k.Index] = true
			}
			next := 0
			for i := range entries {
				if bad[i] {
					continue
				}
				data.Wallets = append(data.Wallets, model.WalletEntry{Index: i, Address: signers[next].Address().Hex()})
				next++
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, nil, len(skipped) > 0)
		},
	}
	checkCmd.Flags().StringVar(&keysFile, "keys-file", "", "File with one private key per line")
	root.AddCommand(checkCmd)
	return root
}

func skippedKeys(in []signer.InvalidKey) []model.SkippedKey {
	out := make([]model.SkippedKey, 0, len(in))
	for _, k := range in {
		out = append(out, model.SkippedKey{Index: k.Index, Reason: k.Reason})
	}
	return out
}

func amountInfo(raw string, decimals int) model.AmountInfo {
	info := model.AmountInfo{BaseUnits: raw}
	if v, ok := parseBig(raw); ok {
		info.Decimal = amount.Format(v, decimals)
	}
	return info
}

func txInfo(r *execution.Receipt) *model.TxInfo {
	if r == nil {
		return nil
	}
	return &model.TxInfo{Hash: r.TxHash, Status: r.Status, BlockNumber: r.BlockNumber, GasUsed: r.GasUsed}
}

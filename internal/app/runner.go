package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggonzalez94/kswap/internal/chain"
	"github.com/ggonzalez94/kswap/internal/config"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/execution"
	"github.com/ggonzalez94/kswap/internal/httpx"
	"github.com/ggonzalez94/kswap/internal/model"
	"github.com/ggonzalez94/kswap/internal/out"
	"github.com/ggonzalez94/kswap/internal/permit"
	"github.com/ggonzalez94/kswap/internal/policy"
	"github.com/ggonzalez94/kswap/internal/schema"
	"github.com/ggonzalez94/kswap/internal/telemetry"
	"github.com/ggonzalez94/kswap/internal/token"
	"github.com/ggonzalez94/kswap/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	dial   dialFunc
}

func NewRunner() *Runner {
	return NewRunnerWithIO(os.Stdin, os.Stdout, os.Stderr)
}

func NewRunnerWithIO(stdin io.Reader, stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		dial:   dialEthClient,
	}
}

// chainClient is everything the swap components need from a node.
type chainClient interface {
	token.Reader
	permit.Backend
	execution.TxBackend
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

type dialFunc func(ctx context.Context, rawURL string) (chainClient, error)

func dialEthClient(ctx context.Context, rawURL string) (chainClient, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	root          *cobra.Command
	lastCommand   string
	lastProviders []model.ProviderStatus

	logger     *logrus.Logger
	metrics    *telemetry.Metrics
	chains     *chain.Registry
	httpClient *httpx.Client
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.flushMetrics()
	if err == nil {
		return 0
	}

	state.renderError("", err, state.lastProviders)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Multi-wallet KyberSwap aggregator swaps with permit-first authorization",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			registry, err := chain.NewRegistry(settings.ChainOptions())
			if err != nil {
				return err
			}
			s.chains = registry
			s.logger = telemetry.NewLogger(s.runner.stderr, settings.LogLevel, settings.LogFormat)
			s.metrics = telemetry.NewMetrics()
			s.httpClient = httpx.New(settings.Timeout, settings.Retries)
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	s.flags.Register(cmd.PersistentFlags())

	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newFeesCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newTxCommand())
	cmd.AddCommand(s.newWalletsCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Describe commands and flags as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), doc, nil, nil, false)
		},
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = io.WriteString(cmd.OutOrStdout(), version.Long()+"\n")
				return
			}
			_, _ = io.WriteString(cmd.OutOrStdout(), version.CLIVersion+"\n")
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) resolveChain(input string) (chain.Context, error) {
	return s.chains.Resolve(input)
}

// dialChain connects to the chain's RPC and refuses a node that reports a
// different chain id.
func (s *runtimeState) dialChain(ctx context.Context, c chain.Context) (chainClient, error) {
	client, err := s.runner.dial(ctx, c.RPCURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read rpc chain id", err)
	}
	if id.Int64() != c.ChainID {
		client.Close()
		return nil, clierr.New(clierr.CodeUsage, "rpc chain id "+id.String()+" does not match "+c.Slug)
	}
	return client, nil
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, providers []model.ProviderStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.renderOptions())
}

func (s *runtimeState) renderOptions() out.Options {
	return out.Options{
		Mode:         s.settings.OutputMode,
		SelectFields: s.settings.SelectFields,
		ResultsOnly:  s.settings.ResultsOnly,
	}
}

func (s *runtimeState) renderError(commandPath string, err error, providers []model.ProviderStatus) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.TypeName(clierr.CodeInternal)
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		typ = clierr.TypeName(cErr.Code)
	}

	opts := s.renderOptions()
	opts.ResultsOnly = false
	opts.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
			TxHash:  clierr.TxHash(err),
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
		},
	}
	_ = out.Render(s.runner.stderr, env, opts)
}

func (s *runtimeState) flushMetrics() {
	if s.metrics == nil || s.settings.MetricsTextfile == "" {
		return
	}
	if err := s.metrics.WriteTextfile(s.settings.MetricsTextfile); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("write metrics textfile")
	}
}

func (s *runtimeState) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.settings.Timeout)
}

// parseToken accepts an address or "native" for the chain's gas token.
func parseToken(c chain.Context, input, flag string) (common.Address, error) {
	v := strings.TrimSpace(input)
	switch strings.ToLower(v) {
	case "":
		return common.Address{}, clierr.New(clierr.CodeUsage, "--"+flag+" is required")
	case "native", "eth", "gas":
		return c.NativeSentinel, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, clierr.New(clierr.CodeInvalidInput, "--"+flag+" must be a token address or \"native\"")
	}
	return common.HexToAddress(v), nil
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		default:
			return "error"
		}
	}
	return "error"
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

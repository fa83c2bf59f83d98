// Package permit decides whether a token accepts EIP-2612 permits and signs
// them when it does.
package permit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ggonzalez94/kswap/internal/chain"
	"github.com/ggonzalez94/kswap/internal/registry"
)

var (
	permitABI      = mustABI(registry.ERC20PermitABI)
	noncesOwnerABI = mustABI(registry.NoncesByOwnerABI)
	noncesNoArgABI = mustABI(registry.NoncesNoArgABI)

	// permit(address,address,uint256,uint256,uint8,bytes32,bytes32)
	permitSelector = []byte{0xd5, 0x05, 0xac, 0xcf}
)

// Backend is the read surface of ethclient.Client the probe and signer use.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

type Capability int

const (
	Unsupported Capability = iota
	Supported
	// Unknown means the probe could not reach a verdict because the RPC
	// transport failed.
	Unknown
)

func (c Capability) String() string {
	switch c {
	case Supported:
		return "supported"
	case Unknown:
		return "unknown"
	default:
		return "unsupported"
	}
}

type Step string

const (
	StepChain           Step = "chain"
	StepSignature       Step = "signature"
	StepNonces          Step = "nonces"
	StepDomainSeparator Step = "domain_separator"
)

// ProbeResult carries the failing step and reason for every non-Supported
// verdict.
type ProbeResult struct {
	Capability Capability
	Step       Step
	Reason     string
}

type Prober struct {
	chain  chain.Context
	client Backend
}

func NewProber(c chain.Context, client Backend) *Prober {
	return &Prober{chain: c, client: client}
}

func (p *Prober) Probe(ctx context.Context, token, owner common.Address) ProbeResult {
	if !p.chain.PermitEnabled {
		return ProbeResult{Capability: Unsupported, Step: StepChain, Reason: "permits disabled for " + p.chain.Slug}
	}

	if _, err := permitABI.MethodById(permitSelector); err != nil {
		return ProbeResult{Capability: Unsupported, Step: StepSignature, Reason: "permit signature missing from abi"}
	}
	code, err := p.client.CodeAt(ctx, token, nil)
	if err != nil {
		return classify(StepSignature, err)
	}
	if len(code) == 0 {
		return ProbeResult{Capability: Unsupported, Step: StepSignature, Reason: "no contract code at " + token.Hex()}
	}

	if _, _, err := readNonce(ctx, p.client, token, owner); err != nil {
		return classify(StepNonces, err)
	}

	if _, err := readDomainSeparator(ctx, p.client, token); err != nil {
		return classify(StepDomainSeparator, err)
	}
	return ProbeResult{Capability: Supported}
}

type nonceCandidate struct {
	name string
	abi  abi.ABI
	args func(owner common.Address) []any
}

// nonceCandidates lists accessor shapes in the order they are tried.
func nonceCandidates() []nonceCandidate {
	return []nonceCandidate{
		{name: "nonces(address)", abi: noncesOwnerABI, args: func(owner common.Address) []any { return []any{owner} }},
		{name: "nonces()", abi: noncesNoArgABI, args: func(common.Address) []any { return nil }},
	}
}

// readNonce returns the first candidate that answers. When all fail the
// error is a transport error if any candidate hit one.
func readNonce(ctx context.Context, client Backend, token, owner common.Address) (*big.Int, string, error) {
	var (
		failures  []string
		transport error
	)
	for _, candidate := range nonceCandidates() {
		out, err := callView(ctx, client, candidate.abi, token, "nonces", candidate.args(owner)...)
		if err == nil {
			nonce, ok := out.(*big.Int)
			if ok {
				return nonce, candidate.name, nil
			}
			err = &unpackError{err: fmt.Errorf("unexpected nonce type %T", out)}
		}
		if isTransport(err) && transport == nil {
			transport = err
		}
		failures = append(failures, candidate.name+": "+err.Error())
	}
	if transport != nil {
		return nil, "", fmt.Errorf("nonce lookup: %w", transport)
	}
	return nil, "", &unpackError{err: errors.New("no nonce accessor answered (" + strings.Join(failures, "; ") + ")")}
}

func readDomainSeparator(ctx context.Context, client Backend, token common.Address) ([32]byte, error) {
	out, err := callView(ctx, client, permitABI, token, "DOMAIN_SEPARATOR")
	if err != nil {
		return [32]byte{}, err
	}
	sep, ok := out.([32]byte)
	if !ok {
		return [32]byte{}, &unpackError{err: fmt.Errorf("unexpected DOMAIN_SEPARATOR type %T", out)}
	}
	return sep, nil
}

func readString(ctx context.Context, client Backend, token common.Address, method string) (string, error) {
	out, err := callView(ctx, client, permitABI, token, method)
	if err != nil {
		return "", err
	}
	s, ok := out.(string)
	if !ok {
		return "", &unpackError{err: fmt.Errorf("unexpected %s type %T", method, out)}
	}
	return s, nil
}

func callView(ctx context.Context, client Backend, contract abi.ABI, target common.Address, method string, args ...any) (any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, &unpackError{err: fmt.Errorf("pack %s: %w", method, err)}
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &unpackError{err: fmt.Errorf("%s returned no data", method)}
	}
	values, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, &unpackError{err: fmt.Errorf("unpack %s: %w", method, err)}
	}
	if len(values) != 1 {
		return nil, &unpackError{err: fmt.Errorf("unexpected %s output length %d", method, len(values))}
	}
	return values[0], nil
}

// unpackError marks failures that prove the contract does not speak the
// expected interface, as opposed to failures talking to the node.
type unpackError struct{ err error }

func (e *unpackError) Error() string { return e.err.Error() }
func (e *unpackError) Unwrap() error { return e.err }

func isTransport(err error) bool {
	if err == nil {
		return false
	}
	var contractErr *unpackError
	if errors.As(err, &contractErr) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	return true
}

func classify(step Step, err error) ProbeResult {
	capability := Unsupported
	if isTransport(err) {
		capability = Unknown
	}
	return ProbeResult{Capability: capability, Step: step, Reason: err.Error()}
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Package token reads ERC-20 balances and allowances, treating the chain's
// native sentinel as a special case.
package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/kswap/internal/chain"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/registry"
	"github.com/holiman/uint256"
)

const NativeDecimals = 18

var erc20ABI = mustABI(registry.ERC20ABI)

type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Reader is the subset of ethclient.Client this package needs.
type Reader interface {
	ContractCaller
	BalanceReader
}

type Balance struct {
	Token    common.Address
	Raw      *big.Int
	Decimals int
}

// Inspector is the balance side: BalanceOf and Symbol.
type Inspector struct {
	chain  chain.Context
	client Reader
}

func NewInspector(c chain.Context, client Reader) *Inspector {
	return &Inspector{chain: c, client: client}
}

func (i *Inspector) BalanceOf(ctx context.Context, tokenAddr, owner common.Address) (Balance, error) {
	if i.chain.IsNative(tokenAddr) {
		raw, err := i.client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return Balance{}, clierr.Wrap(clierr.CodeTokenQuery, "read native balance", err)
		}
		return Balance{Token: tokenAddr, Raw: raw, Decimals: NativeDecimals}, nil
	}

	var raw *big.Int
	if err := call(ctx, i.client, tokenAddr, "balanceOf", []any{owner}, &raw); err != nil {
		return Balance{}, clierr.Wrap(clierr.CodeTokenQuery, fmt.Sprintf("read balanceOf on %s", tokenAddr.Hex()), err)
	}
	var decimals uint8
	if err := call(ctx, i.client, tokenAddr, "decimals", nil, &decimals); err != nil {
		return Balance{}, clierr.Wrap(clierr.CodeTokenQuery, fmt.Sprintf("read decimals on %s", tokenAddr.Hex()), err)
	}
	return Balance{Token: tokenAddr, Raw: raw, Decimals: int(decimals)}, nil
}

// Decimals reads only the token's decimals. The native sentinel has 18.
func (i *Inspector) Decimals(ctx context.Context, tokenAddr common.Address) (int, error) {
	if i.chain.IsNative(tokenAddr) {
		return NativeDecimals, nil
	}
	var decimals uint8
	if err := call(ctx, i.client, tokenAddr, "decimals", nil, &decimals); err != nil {
		return 0, clierr.Wrap(clierr.CodeTokenQuery, fmt.Sprintf("read decimals on %s", tokenAddr.Hex()), err)
	}
	return int(decimals), nil
}

// Symbol is best effort and only used for display.
func (i *Inspector) Symbol(ctx context.Context, tokenAddr common.Address) string {
	if i.chain.IsNative(tokenAddr) {
		return "native"
	}
	var symbol string
	if err := call(ctx, i.client, tokenAddr, "symbol", nil, &symbol); err != nil {
		return ""
	}
	return strings.TrimSpace(symbol)
}

// Ledger is the allowance side.
type Ledger struct {
	chain  chain.Context
	client ContractCaller
}

func NewLedger(c chain.Context, client ContractCaller) *Ledger {
	return &Ledger{chain: c, client: client}
}

// Unlimited is 2^256-1, the allowance reported for the native sentinel.
func Unlimited() *big.Int {
	return new(uint256.Int).SetAllOne().ToBig()
}

func (l *Ledger) CurrentAllowance(ctx context.Context, tokenAddr, owner, spender common.Address) (*big.Int, error) {
	if l.chain.IsNative(tokenAddr) {
		return Unlimited(), nil
	}
	var allowance *big.Int
	if err := call(ctx, l.client, tokenAddr, "allowance", []any{owner, spender}, &allowance); err != nil {
		return nil, clierr.Wrap(clierr.CodeAllowanceQuery, fmt.Sprintf("read allowance on %s", tokenAddr.Hex()), err)
	}
	return allowance, nil
}

func call(ctx context.Context, client ContractCaller, target common.Address, method string, args []any, out any) error {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s returned no data (not an ERC-20 contract?)", method)
	}
	values, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return fmt.Errorf("unexpected %s output length %d", method, len(values))
	}
	return assign(out, values[0])
}

func assign(out any, v any) error {
	switch dst := out.(type) {
	case **big.Int:
		n, ok := v.(*big.Int)
		if !ok {
			return fmt.Errorf("unexpected type %T", v)
		}
		*dst = n
	case *uint8:
		n, ok := v.(uint8)
		if !ok {
			return fmt.Errorf("unexpected type %T", v)
		}
		*dst = n
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T", v)
		}
		*dst = s
	default:
		return fmt.Errorf("unsupported output %T", out)
	}
	return nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

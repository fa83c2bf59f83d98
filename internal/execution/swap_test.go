package execution

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/fees"
	"github.com/ggonzalez94/kswap/internal/providers/kyberswap"
)

func TestSwapNativeSendsValueAndCleansCalldata(t *testing.T) {
	node := newMockChain(t)
	c := baseChain(t)
	feeSource := &staticFees{}
	exec := NewSwapExecutor(NewTransactor(c, node.client(t), fastWait(), nil), feeSource)

	amountIn := big.NewInt(1_000_000_000_000_000)
	receipt, err := exec.Execute(context.Background(), SwapRequest{
		Signer:    testWallet(t),
		Build:     kyberswap.BuildResult{Data: "0xe21f\n 0d0e9a ", Gas: ""},
		Router:    router,
		FromToken: c.NativeSentinel,
		AmountIn:  amountIn,
		Tier:      fees.TierHigh,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if receipt.Kind != TxKindSwap || receipt.Status != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	tx := node.sentTx(t)
	if tx.Value().Cmp(amountIn) != 0 {
		t.Fatalf("expected native value %s, got %s", amountIn, tx.Value())
	}
	if common.Bytes2Hex(tx.Data()) != "e21f0d0e9a" {
		t.Fatalf("unexpected calldata %x", tx.Data())
	}
	if tx.Gas() != 500_000 || tx.Gas() != DefaultSwapGasLimit {
		t.Fatalf("expected default router gas 500000, got %d", tx.Gas())
	}
	if *tx.To() != router || tx.ChainId().Int64() != 8453 || tx.Nonce() != 5 {
		t.Fatalf("unexpected tx to=%s chain=%s nonce=%d", tx.To().Hex(), tx.ChainId(), tx.Nonce())
	}
	if feeSource.calls != 1 {
		t.Fatalf("expected fees fetched once right before build, got %d", feeSource.calls)
	}
}

func TestSwapERC20HasZeroValueAndAggregatorGas(t *testing.T) {
	node := newMockChain(t)
	exec := NewSwapExecutor(NewTransactor(baseChain(t), node.client(t), fastWait(), nil), &staticFees{})

	_, err := exec.Execute(context.Background(), SwapRequest{
		Signer:    testWallet(t),
		Build:     kyberswap.BuildResult{Data: "0xe21fd0e9", Gas: "185000", RouterAddress: router.Hex()},
		FromToken: usdc,
		AmountIn:  big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	tx := node.sentTx(t)
	if tx.Value().Sign() != 0 {
		t.Fatalf("expected zero value for ERC-20 swap, got %s", tx.Value())
	}
	if tx.Gas() != 185000 {
		t.Fatalf("expected aggregator gas, got %d", tx.Gas())
	}
	if *tx.To() != router {
		t.Fatalf("expected router from build result, got %s", tx.To().Hex())
	}
}

func TestSwapRejectsMalformedCalldataBeforeSend(t *testing.T) {
	for _, data := range []string{"", "e21fd0e9", "0xzz", "0xabc"} {
		node := newMockChain(t)
		feeSource := &staticFees{}
		exec := NewSwapExecutor(NewTransactor(baseChain(t), node.client(t), fastWait(), nil), feeSource)

		_, err := exec.Execute(context.Background(), SwapRequest{
			Signer: testWallet(t), Build: kyberswap.BuildResult{Data: data}, Router: router, FromToken: usdc, AmountIn: big.NewInt(1),
		})
		if clierr.ExitCode(err) != int(clierr.CodeSwapTx) {
			t.Fatalf("data %q: expected swap tx error, got %v", data, err)
		}
		if node.called("eth_sendRawTransaction") || feeSource.calls != 0 {
			t.Fatalf("data %q: nothing should be fetched or sent", data)
		}
	}
}

func TestSwapRevertAndTimeout(t *testing.T) {
	node := newMockChain(t)
	node.receiptStatus = 0
	exec := NewSwapExecutor(NewTransactor(baseChain(t), node.client(t), fastWait(), nil), &staticFees{})
	req := SwapRequest{Signer: testWallet(t), Build: kyberswap.BuildResult{Data: "0x01"}, Router: router, FromToken: usdc, AmountIn: big.NewInt(1)}

	_, err := exec.Execute(context.Background(), req)
	if clierr.ExitCode(err) != int(clierr.CodeSwapReverted) {
		t.Fatalf("expected swap reverted, got %v", err)
	}

	pending := newMockChain(t)
	pending.neverMine = true
	slow := NewSwapExecutor(NewTransactor(baseChain(t), pending.client(t), WaitOptions{
		PollInterval: 5 * time.Millisecond, ReceiptTimeout: 60 * time.Millisecond,
	}, nil), &staticFees{})
	receipt, err := slow.Execute(context.Background(), req)
	if clierr.ExitCode(err) != int(clierr.CodeReceiptTimeout) {
		t.Fatalf("expected receipt timeout, got %v", err)
	}
	if receipt.TxHash == "" || clierr.TxHash(err) != receipt.TxHash {
		t.Fatalf("timeout must carry tx hash, got %q", clierr.TxHash(err))
	}
}

func TestSwapFeeFailureStopsBeforeSend(t *testing.T) {
	node := newMockChain(t)
	exec := NewSwapExecutor(NewTransactor(baseChain(t), node.client(t), fastWait(), nil), &staticFees{
		err: clierr.New(clierr.CodeFeeUnavailable, "gas api down"),
	})
	_, err := exec.Execute(context.Background(), SwapRequest{
		Signer: testWallet(t), Build: kyberswap.BuildResult{Data: "0x01"}, Router: router, FromToken: usdc, AmountIn: big.NewInt(1),
	})
	if clierr.ExitCode(err) != int(clierr.CodeFeeUnavailable) {
		t.Fatalf("expected fee unavailable, got %v", err)
	}
	if node.called("eth_sendRawTransaction") {
		t.Fatal("did not expect a broadcast")
	}
}

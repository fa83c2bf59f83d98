package execution

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/providers/kyberswap"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorCode() int { return 3 }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func TestDecodeRevertDataReasonString(t *testing.T) {
	if reason := decodeRevertData(encodeErrorString(t, "slippage too high")); reason != "slippage too high" {
		t.Fatalf("expected decoded revert reason, got %q", reason)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	reason := decodeRevertData(common.FromHex("0x12345678"))
	if !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
}

func TestWrapEVMExecutionErrorIncludesDecodedRevert(t *testing.T) {
	rootErr := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "Return amount is not enough")),
	}
	wrapped := wrapEVMExecutionError(clierr.CodeSwapTx, "broadcast swap transaction", rootErr)
	typed, ok := clierr.As(wrapped)
	if !ok || typed.Code != clierr.CodeSwapTx {
		t.Fatalf("expected swap tx error, got %v", wrapped)
	}
	if !strings.Contains(typed.Error(), "Return amount is not enough") {
		t.Fatalf("expected decoded reason in wrapped error, got: %v", typed)
	}
}

func TestBroadcastRevertDataReachesError(t *testing.T) {
	node := newMockChain(t)
	node.sendError = "execution reverted"
	node.sendErrorData = "0x" + common.Bytes2Hex(encodeErrorString(t, "TRANSFER_FROM_FAILED"))
	exec := NewSwapExecutor(NewTransactor(baseChain(t), node.client(t), fastWait(), nil), &staticFees{})

	_, err := exec.Execute(context.Background(), SwapRequest{
		Signer: testWallet(t), Build: kyberswap.BuildResult{Data: "0x01"}, Router: router, FromToken: usdc, AmountIn: big.NewInt(1),
	})
	if clierr.ExitCode(err) != int(clierr.CodeSwapTx) {
		t.Fatalf("expected swap tx error, got %v", err)
	}
	if !strings.Contains(err.Error(), "TRANSFER_FROM_FAILED") {
		t.Fatalf("expected revert reason in error, got %v", err)
	}
}

func TestAcquireSignerNonceLockSerializesSameSignerChain(t *testing.T) {
	unlock := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	secondAcquired := make(chan struct{})
	go func() {
		unlockSecond := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000AA"))
		close(secondAcquired)
		unlockSecond()
	}()

	select {
	case <-secondAcquired:
		t.Fatal("expected second lock attempt to block while first lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-secondAcquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected second lock attempt to acquire after unlock")
	}
}

func TestLookupReceipt(t *testing.T) {
	node := newMockChain(t)
	hash := common.HexToHash("0x" + strings.Repeat("cd", 32))

	_, found, err := LookupReceipt(context.Background(), node.client(t), hash)
	if err != nil || found {
		t.Fatalf("expected pending lookup, got found=%v err=%v", found, err)
	}

	node.mu.Lock()
	node.sent = append(node.sent, nil)
	node.mu.Unlock()
	receipt, found, err := LookupReceipt(context.Background(), node.client(t), hash)
	if err != nil || !found {
		t.Fatalf("expected mined receipt, got found=%v err=%v", found, err)
	}
	if receipt.Status != 1 || receipt.BlockNumber != 12 || receipt.GasUsed != 50000 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestSubmitRequiresFees(t *testing.T) {
	node := newMockChain(t)
	approver := NewApprover(NewTransactor(baseChain(t), node.client(t), fastWait(), nil))
	_, err := approver.Approve(context.Background(), ApprovalRequest{
		Token: usdc, Spender: router, Amount: big.NewInt(1), Signer: testWallet(t),
	})
	if !clierr.Is(err, clierr.CodeFeeUnavailable) {
		t.Fatalf("expected fee unavailable, got %v", err)
	}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	args := abi.Arguments{{Type: stringTy}}
	encoded, err := args.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}

package execution

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ggonzalez94/kswap/internal/chain"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/execution/signer"
	"github.com/ggonzalez94/kswap/internal/fees"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultReceiptTimeout = 300 * time.Second
)

// TxBackend is the write side of ethclient.Client.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type WaitOptions struct {
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

// WaitObserver receives how long each receipt wait took, whatever its outcome.
type WaitObserver interface {
	ObserveReceiptWait(kind TxKind, d time.Duration)
}

type Transactor struct {
	chain    chain.Context
	backend  TxBackend
	opts     WaitOptions
	observer WaitObserver
	now      func() time.Time
}

func NewTransactor(c chain.Context, backend TxBackend, opts WaitOptions, observer WaitObserver) *Transactor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = DefaultReceiptTimeout
	}
	return &Transactor{chain: c, backend: backend, opts: opts, observer: observer, now: time.Now}
}

type txCall struct {
	kind     TxKind
	to       common.Address
	value    *big.Int
	data     []byte
	gasLimit uint64
	fees     fees.Suggestion
	// failure codes for broadcast and on-chain revert
	sendCode   clierr.Code
	revertCode clierr.Code
}

func (t *Transactor) submit(ctx context.Context, wallet signer.Signer, call txCall) (Receipt, error) {
	if wallet == nil {
		return Receipt{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if call.fees.MaxFeePerGas == nil || call.fees.MaxPriorityFeePerGas == nil {
		return Receipt{}, clierr.New(clierr.CodeFeeUnavailable, "missing fee suggestion")
	}
	value := call.value
	if value == nil {
		value = new(big.Int)
	}
	chainID := t.chain.ChainIDBig()
	from := wallet.Address()

	unlock := acquireSignerNonceLock(chainID, from)
	nonce, err := t.backend.PendingNonceAt(ctx, from)
	if err != nil {
		unlock()
		return Receipt{}, clierr.Wrap(call.sendCode, "fetch pending nonce", err)
	}
	to := call.to
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: new(big.Int).Set(call.fees.MaxPriorityFeePerGas),
		GasFeeCap: new(big.Int).Set(call.fees.MaxFeePerGas),
		Gas:       call.gasLimit,
		To:        &to,
		Value:     value,
		Data:      call.data,
	})
	signed, err := wallet.SignTx(chainID, tx)
	if err != nil {
		unlock()
		return Receipt{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	err = t.backend.SendTransaction(ctx, signed)
	unlock()
	if err != nil {
		return Receipt{}, wrapEVMExecutionError(call.sendCode, fmt.Sprintf("broadcast %s transaction", call.kind), err)
	}

	receipt := Receipt{Kind: call.kind, TxHash: signed.Hash().Hex(), Nonce: nonce, GasLimit: call.gasLimit}
	return t.wait(ctx, signed.Hash(), receipt, call.revertCode)
}

func (t *Transactor) wait(ctx context.Context, hash common.Hash, receipt Receipt, revertCode clierr.Code) (Receipt, error) {
	started := t.now()
	defer func() {
		if t.observer != nil {
			t.observer.ObserveReceiptWait(receipt.Kind, t.now().Sub(started))
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, t.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for {
		got, err := t.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && got != nil {
			receipt.Status = got.Status
			receipt.GasUsed = got.GasUsed
			if got.BlockNumber != nil {
				receipt.BlockNumber = got.BlockNumber.Uint64()
			}
			if got.Status != types.ReceiptStatusSuccessful {
				return receipt, clierr.Wrap(revertCode, fmt.Sprintf("%s reverted", receipt.Kind), &clierr.TxError{
					Hash:   receipt.TxHash,
					Status: got.Status,
					Block:  receipt.BlockNumber,
				})
			}
			return receipt, nil
		}
		// Anything but NotFound is treated as a transient polling failure.
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return receipt, clierr.Wrap(clierr.CodeReceiptTimeout, "receipt wait cancelled", &clierr.TxError{Hash: receipt.TxHash, Err: ctx.Err()})
			}
			return receipt, clierr.Wrap(clierr.CodeReceiptTimeout,
				fmt.Sprintf("no %s receipt after %s; check with `kswap tx status`", receipt.Kind, t.opts.ReceiptTimeout),
				&clierr.TxError{Hash: receipt.TxHash})
		case <-ticker.C:
		}
	}
}

// LookupReceipt is a single receipt query with no waiting. found is false
// while the transaction is pending or unknown.
func LookupReceipt(ctx context.Context, backend TxBackend, hash common.Hash) (Receipt, bool, error) {
	got, err := backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return Receipt{TxHash: hash.Hex()}, false, nil
	}
	if err != nil {
		return Receipt{}, false, clierr.Wrap(clierr.CodeUnavailable, "fetch transaction receipt", err)
	}
	out := Receipt{TxHash: hash.Hex(), Status: got.Status, GasUsed: got.GasUsed}
	if got.BlockNumber != nil {
		out.BlockNumber = got.BlockNumber.Uint64()
	}
	return out, true, nil
}

var signerNonceLocks sync.Map

// acquireSignerNonceLock serializes nonce read and broadcast per signer and
// chain within this process.
func acquireSignerNonceLock(chainID *big.Int, addr common.Address) func() {
	key := chainID.String() + ":" + strings.ToLower(addr.Hex())
	mu, _ := signerNonceLocks.LoadOrStore(key, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}

func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(code, fmt.Sprintf("%s (revert: %s)", message, reason), err)
	}
	return clierr.Wrap(code, message, err)
}

func decodeRevertFromError(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decodeErr := decodeHex(raw)
	if decodeErr != nil {
		return ""
	}
	return decodeRevertData(data)
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return "custom error 0x" + hex.EncodeToString(data[:4])
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(v), "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex")
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}

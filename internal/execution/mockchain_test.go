package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggonzalez94/kswap/internal/chain"
	"github.com/ggonzalez94/kswap/internal/execution/signer"
	"github.com/ggonzalez94/kswap/internal/fees"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// mockChain is a minimal JSON-RPC node: it accepts raw transactions and
// serves receipts for them after receiptAfter polls.
type mockChain struct {
	t             *testing.T
	server        *httptest.Server
	mu            sync.Mutex
	nonce         uint64
	receiptStatus uint64
	receiptAfter  int
	neverMine     bool
	sendError     string
	sendErrorData string
	polls         int
	methods       []string
	sent          []*types.Transaction
}

func newMockChain(t *testing.T) *mockChain {
	t.Helper()
	m := &mockChain{t: t, nonce: 5, receiptStatus: 1}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockChain) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, -32700, "parse error", "")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods = append(m.methods, req.Method)

	switch req.Method {
	case "eth_chainId":
		writeRPCResult(w, req.ID, `"0x2105"`)
	case "eth_getTransactionCount":
		writeRPCResult(w, req.ID, fmt.Sprintf(`"0x%x"`, m.nonce))
	case "eth_sendRawTransaction":
		if m.sendError != "" {
			writeRPCError(w, req.ID, 3, m.sendError, m.sendErrorData)
			return
		}
		var raw string
		_ = json.Unmarshal(req.Params[0], &raw)
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(common.FromHex(raw)); err != nil {
			m.t.Errorf("decode raw tx: %v", err)
		}
		m.sent = append(m.sent, tx)
		writeRPCResult(w, req.ID, fmt.Sprintf("%q", tx.Hash().Hex()))
	case "eth_getTransactionReceipt":
		m.polls++
		if m.neverMine || m.polls <= m.receiptAfter || len(m.sent) == 0 {
			writeRPCResult(w, req.ID, "null")
			return
		}
		var hash string
		_ = json.Unmarshal(req.Params[0], &hash)
		writeRPCResult(w, req.ID, receiptJSON(hash, m.receiptStatus))
	default:
		writeRPCError(w, req.ID, -32601, "method not found: "+req.Method, "")
	}
}

func (m *mockChain) client(t *testing.T) *ethclient.Client {
	t.Helper()
	c, err := ethclient.Dial(m.server.URL)
	if err != nil {
		t.Fatalf("dial mock rpc: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func (m *mockChain) sentTx(t *testing.T) *types.Transaction {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", len(m.sent))
	}
	return m.sent[0]
}

func (m *mockChain) called(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, got := range m.methods {
		if got == method {
			return true
		}
	}
	return false
}

func receiptJSON(hash string, status uint64) string {
	return fmt.Sprintf(`{
		"type":"0x2",
		"status":"0x%x",
		"cumulativeGasUsed":"0x186a0",
		"gasUsed":"0xc350",
		"effectiveGasPrice":"0x3b9aca00",
		"logsBloom":"0x%s",
		"logs":[],
		"transactionHash":%q,
		"transactionIndex":"0x0",
		"blockHash":"0x%s",
		"blockNumber":"0xc"
	}`, status, strings.Repeat("0", 512), hash, strings.Repeat("ab", 32))
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, rawResult string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, rawIDOrDefault(id), rawResult)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message, data string) {
	w.Header().Set("Content-Type", "application/json")
	if data != "" {
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":%d,"message":%q,"data":%q}}`, rawIDOrDefault(id), code, message, data)
		return
	}
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":%d,"message":%q}}`, rawIDOrDefault(id), code, message)
}

func rawIDOrDefault(id json.RawMessage) string {
	if len(id) == 0 {
		return "1"
	}
	return string(id)
}

func baseChain(t *testing.T) chain.Context {
	t.Helper()
	reg, err := chain.NewRegistry(chain.Options{})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	c, err := reg.Resolve("base")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return c
}

func testWallet(t *testing.T) *signer.LocalSigner {
	t.Helper()
	w, err := signer.NewLocalSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	return w
}

func fastWait() WaitOptions {
	return WaitOptions{PollInterval: 5 * time.Millisecond, ReceiptTimeout: 2 * time.Second}
}

func testFees() fees.Suggestion {
	return fees.Suggestion{
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(100_000_000),
		Tier:                 fees.TierMedium,
	}
}

type staticFees struct {
	calls int
	err   error
}

func (f *staticFees) Suggest(context.Context, fees.Tier) (fees.Suggestion, error) {
	f.calls++
	if f.err != nil {
		return fees.Suggestion{}, f.err
	}
	return testFees(), nil
}

type recordingObserver struct {
	kinds []TxKind
}

func (r *recordingObserver) ObserveReceiptWait(kind TxKind, _ time.Duration) {
	r.kinds = append(r.kinds, kind)
}

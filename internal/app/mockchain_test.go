package app

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// mockNode answers the handful of JSON-RPC calls a native swap makes.
type mockNode struct {
	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	balance  string
	decimals int
	sent     []*types.Transaction
}

func newMockNode(t *testing.T) *mockNode {
	t.Helper()
	m := &mockNode{t: t, balance: "0x8ac7230489e80000", decimals: 6}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockNode) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch req.Method {
	case "eth_chainId":
		writeResult(w, req.ID, `"0x2105"`)
	case "eth_getBalance":
		writeResult(w, req.ID, fmt.Sprintf("%q", m.balance))
	case "eth_call":
		if callSelector(req) == symbolSelector {
			writeResult(w, req.ID, `"0x`+abiString("USDC")+`"`)
			return
		}
		writeResult(w, req.ID, fmt.Sprintf(`"0x%064x"`, m.decimals))
	case "eth_getTransactionCount":
		writeResult(w, req.ID, `"0x3"`)
	case "eth_sendRawTransaction":
		var raw string
		_ = json.Unmarshal(req.Params[0], &raw)
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(common.FromHex(raw)); err != nil {
			m.t.Errorf("decode raw tx: %v", err)
		}
		m.sent = append(m.sent, tx)
		writeResult(w, req.ID, fmt.Sprintf("%q", tx.Hash().Hex()))
	case "eth_getTransactionReceipt":
		var hash string
		_ = json.Unmarshal(req.Params[0], &hash)
		if len(m.sent) == 0 || !strings.EqualFold(hash, m.sent[len(m.sent)-1].Hash().Hex()) {
			writeResult(w, req.ID, "null")
			return
		}
		writeResult(w, req.ID, receiptJSON(hash))
	default:
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method not found"}}`, idOrDefault(req.ID))
	}
}

func (m *mockNode) sentTxs() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Transaction(nil), m.sent...)
}

const symbolSelector = "95d89b41"

func callSelector(req rpcRequest) string {
	if len(req.Params) == 0 {
		return ""
	}
	var msg struct {
		Input string `json:"input"`
		Data  string `json:"data"`
	}
	_ = json.Unmarshal(req.Params[0], &msg)
	raw := strings.TrimPrefix(msg.Input, "0x")
	if raw == "" {
		raw = strings.TrimPrefix(msg.Data, "0x")
	}
	if len(raw) < 8 {
		return ""
	}
	return strings.ToLower(raw[:8])
}

// abiString encodes a short string return value.
func abiString(v string) string {
	data := hex.EncodeToString([]byte(v))
	return fmt.Sprintf("%064x%064x", 32, len(v)) + data + strings.Repeat("0", 64-len(data))
}

func receiptJSON(hash string) string {
	return fmt.Sprintf(`{
		"type":"0x2",
		"status":"0x1",
		"cumulativeGasUsed":"0x186a0",
		"gasUsed":"0xc350",
		"effectiveGasPrice":"0x3b9aca00",
		"logsBloom":"0x%s",
		"logs":[],
		"transactionHash":%q,
		"transactionIndex":"0x0",
		"blockHash":"0x%s",
		"blockNumber":"0x10"
	}`, strings.Repeat("0", 512), hash, strings.Repeat("cd", 32))
}

func writeResult(w http.ResponseWriter, id json.RawMessage, raw string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, idOrDefault(id), raw)
}

func idOrDefault(id json.RawMessage) string {
	if len(id) == 0 {
		return "1"
	}
	return string(id)
}

const (
	testRouter = "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5"
	testUSDC   = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
)

// mockUpstreams serves both the aggregator and the gas API.
type mockUpstreams struct {
	server *httptest.Server
	mu     sync.Mutex
	routes int
	builds []map[string]any
}

func newMockUpstreams(t *testing.T) *mockUpstreams {
	t.Helper()
	m := &mockUpstreams{}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockUpstreams) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/suggestedGasFees"):
		_, _ = w.Write([]byte(`{"low":{"suggestedMaxPriorityFeePerGas":"0.01","suggestedMaxFeePerGas":"0.05"},"medium":{"suggestedMaxPriorityFeePerGas":"0.02","suggestedMaxFeePerGas":"0.1"},"high":{"suggestedMaxPriorityFeePerGas":"0.05","suggestedMaxFeePerGas":"0.2"},"estimatedBaseFee":"0.04"}`))
	case r.URL.Path == "/base/api/v1/routes":
		m.routes++
		amountIn := r.URL.Query().Get("amountIn")
		_, _ = fmt.Fprintf(w, `{"code":0,"message":"successfully","data":{"routeSummary":{"amountIn":%q,"amountInUsd":"1250.5","amountOut":"1249000000","amountOutUsd":"1249.0","gas":"180000","gasUsd":"0.03"},"routerAddress":%q},"requestId":"r-1"}`, amountIn, testRouter)
	case r.URL.Path == "/base/api/v1/route/build":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.builds = append(m.builds, body)
		_, _ = fmt.Fprintf(w, `{"code":0,"message":"successfully","data":{"amountIn":"500000000000000000","amountInUsd":"1250.5","amountOut":"1249000000","amountOutUsd":"1249.0","gas":"180000","gasUsd":"0.03","data":"0xe21f0d0e9a","routerAddress":%q},"requestId":"r-2"}`, testRouter)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":4040,"message":"not found"}`))
	}
}

package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/kswap/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []model.WalletEntry{{Index: 0, Address: "0xabc"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{Mode: "json", SelectFields: []string{"address"}, ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["address"] != "0xabc" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["index"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []model.SkippedKey{{Index: 2, Reason: "duplicate of entry 0"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{Mode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "index=2") || !strings.Contains(buf.String(), "reason=duplicate of entry 0") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderErrorEnvelopeCarriesTxHash(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: false,
		Data:    []any{},
		Error:   &model.ErrorBody{Code: 29, Type: "swap_reverted", Message: "swap reverted", TxHash: "0xdead"},
		Meta:    model.EnvelopeMeta{Command: "swap", Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var decoded model.Envelope
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if decoded.Error == nil || decoded.Error.TxHash != "0xdead" || decoded.Success {
		t.Fatalf("unexpected envelope: %s", buf.String())
	}
}

func TestRenderSelectDottedPathThroughList(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data: model.SwapRun{
			ChainID: "eip155:8453",
			Attempts: []model.SwapAttempt{
				{Index: 0, Wallet: "0x01", FinalState: "Success", TxHash: "0xaa"},
				{Index: 1, Wallet: "0x02", FinalState: "Failed"},
			},
		},
		Meta: model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{SelectFields: []string{"chain_id", "attempts.final_state"}, ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if out["chain_id"] != "eip155:8453" {
		t.Fatalf("unexpected chain id: %s", buf.String())
	}
	states, ok := out["attempts.final_state"].([]any)
	if !ok || len(states) != 2 || states[0] != "Success" || states[1] != "Failed" {
		t.Fatalf("unexpected projected states: %s", buf.String())
	}
}

func TestRenderPlainFlattensNestedObjects(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data: []model.SwapAttempt{{
			Index:      0,
			Wallet:     "0x01",
			FinalState: "Success",
			AmountIn:   &model.AmountInfo{BaseUnits: "1500000", Decimal: "1.5"},
		}},
		Meta: model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, Options{Mode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"amount_in.decimal=1.5", "final_state=Success", "index=0"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in plain output: %s", want, line)
		}
	}
}

package signer

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func TestNewLocalSignerSignsTxAndHash(t *testing.T) {
	s, err := NewLocalSigner("0x" + testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
	to := common.HexToAddress("0x0000000000000000000000000000000000000001")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(8453),
		Nonce:     0,
		To:        &to,
		Value:     big.NewInt(0),
		Gas:       21_000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
	})
	signed, err := s.SignTx(big.NewInt(8453), tx)
	if err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), signed)
	if err != nil || sender != s.Address() {
		t.Fatalf("unexpected sender %s (%v)", sender.Hex(), err)
	}

	hash := crypto.Keccak256([]byte("hello"))
	sig, err := s.SignHash(hash)
	if err != nil {
		t.Fatalf("SignHash failed: %v", err)
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil || crypto.PubkeyToAddress(*pub) != s.Address() {
		t.Fatalf("signature does not recover to signer: %v", err)
	}
}

func TestValidateKey(t *testing.T) {
	valid := []string{testPrivateKey, "0x" + testPrivateKey, "  " + strings.ToUpper(testPrivateKey) + "\n"}
	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Fatalf("expected %q to validate: %v", k, err)
		}
	}
	invalid := []string{"", "0x", testPrivateKey[:63], testPrivateKey + "0", "zz" + testPrivateKey[2:]}
	for _, k := range invalid {
		if err := ValidateKey(k); err == nil {
			t.Fatalf("expected %q to be rejected", k)
		}
	}
}

func TestParseKeysSkipsInvalidAndDuplicates(t *testing.T) {
	other := "8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba"
	signers, skipped := ParseKeys([]string{testPrivateKey, "not-a-key", other, "0x" + testPrivateKey})
	if len(signers) != 2 {
		t.Fatalf("expected 2 signers, got %d", len(signers))
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped entries, got %+v", skipped)
	}
	if skipped[0].Index != 1 || !strings.Contains(skipped[0].Reason, "64 hex") {
		t.Fatalf("unexpected first skip: %+v", skipped[0])
	}
	if skipped[1].Index != 3 || !strings.Contains(skipped[1].Reason, "duplicate") {
		t.Fatalf("unexpected second skip: %+v", skipped[1])
	}
}

func TestLoadKeyEntriesPrecedence(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "keys.txt")
	content := "# wallets\n" + testPrivateKey + "\n\n0xabc\n"
	if err := os.WriteFile(keyFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write keys file: %v", err)
	}
	t.Setenv(EnvPrivateKeys, "a, b")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	fromFile, err := LoadKeyEntries(keyFile)
	if err != nil {
		t.Fatalf("LoadKeyEntries(file) failed: %v", err)
	}
	if len(fromFile) != 2 || fromFile[0] != testPrivateKey || fromFile[1] != "0xabc" {
		t.Fatalf("unexpected entries from file: %v", fromFile)
	}

	fromEnv, err := LoadKeyEntries("")
	if err != nil {
		t.Fatalf("LoadKeyEntries(env) failed: %v", err)
	}
	if len(fromEnv) != 2 || fromEnv[1] != "b" {
		t.Fatalf("unexpected entries from env: %v", fromEnv)
	}

	t.Setenv(EnvPrivateKeys, "")
	t.Setenv(EnvKeysFile, "")
	if _, err := LoadKeyEntries(""); err == nil {
		t.Fatal("expected missing keys error")
	}
}

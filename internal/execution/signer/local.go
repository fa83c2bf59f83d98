package signer

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
)

const (
	EnvPrivateKeys = "KSWAP_PRIVATE_KEYS"
	EnvKeysFile    = "KSWAP_KEYS_FILE"

	defaultKeysRelativePath = "kswap/keys.txt"
)

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, s.privateKey)
}

func (s *LocalSigner) SignHash(hash []byte) ([]byte, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return crypto.Sign(hash, s.privateKey)
}

// ValidateKey checks the 64-hex-character form, with or without 0x.
func ValidateKey(raw string) error {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return clierr.New(clierr.CodeInvalidInput, "empty private key")
	}
	if !hexKeyPattern.MatchString(clean) {
		return clierr.New(clierr.CodeInvalidInput, fmt.Sprintf("private key must be 64 hex characters, got %d characters", len(clean)))
	}
	return nil
}

func NewLocalSigner(raw string) (*LocalSigner, error) {
	if err := ValidateKey(raw); err != nil {
		return nil, err
	}
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInvalidInput, "parse private key", err)
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// InvalidKey records a key entry that was skipped and why.
type InvalidKey struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// ParseKeys builds a signer per valid entry. Invalid entries never abort the
// batch; they come back as InvalidKey values. Duplicate keys are skipped too.
func ParseKeys(entries []string) ([]*LocalSigner, []InvalidKey) {
	signers := make([]*LocalSigner, 0, len(entries))
	var skipped []InvalidKey
	seen := map[common.Address]int{}
	for i, entry := range entries {
		s, err := NewLocalSigner(entry)
		if err != nil {
			reason := err.Error()
			if cErr, ok := clierr.As(err); ok {
				reason = cErr.Message
			}
			skipped = append(skipped, InvalidKey{Index: i, Reason: reason})
			continue
		}
		if first, dup := seen[s.Address()]; dup {
			skipped = append(skipped, InvalidKey{Index: i, Reason: fmt.Sprintf("duplicate of entry %d", first)})
			continue
		}
		seen[s.Address()] = i
		signers = append(signers, s)
	}
	return signers, skipped
}

// LoadKeyEntries collects raw key entries from, in order: the explicit file,
// KSWAP_PRIVATE_KEYS, KSWAP_KEYS_FILE, and the default keys file.
func LoadKeyEntries(keysFile string) ([]string, error) {
	if path := strings.TrimSpace(keysFile); path != "" {
		return readKeyFile(path)
	}
	if v := strings.TrimSpace(os.Getenv(EnvPrivateKeys)); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
	if path := strings.TrimSpace(os.Getenv(EnvKeysFile)); path != "" {
		return readKeyFile(path)
	}
	if path := discoverDefaultKeysFile(); path != "" {
		return readKeyFile(path)
	}
	return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("missing signing keys: pass --keys-file or set %s or %s", EnvPrivateKeys, EnvKeysFile))
}

// readKeyFile reads one key per line; blank lines and # comments are ignored.
func readKeyFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "read keys file", err)
	}
	defer f.Close()
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "scan keys file", err)
	}
	return out, nil
}

func discoverDefaultKeysFile() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	path := filepath.Join(base, defaultKeysRelativePath)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}

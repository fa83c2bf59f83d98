package registry

import (
	"fmt"
	"strings"
)

// Public fallback endpoints for the supported networks, used when neither
// config nor an Alchemy key provides one.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	137:   "https://polygon-rpc.com",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
	59144: "https://rpc.linea.build",
}

var alchemyHostByChainID = map[int64]string{
	1:     "eth-mainnet",
	10:    "opt-mainnet",
	137:   "polygon-mainnet",
	8453:  "base-mainnet",
	42161: "arb-mainnet",
	59144: "linea-mainnet",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

// AlchemyRPCURL builds the hosted endpoint for a chain when a key is present.
func AlchemyRPCURL(chainID int64, apiKey string) (string, bool) {
	apiKey = strings.TrimSpace(apiKey)
	host, ok := alchemyHostByChainID[chainID]
	if !ok || apiKey == "" {
		return "", false
	}
	return fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", host, apiKey), true
}

// ResolveRPCURL picks override, then Alchemy, then the public default.
func ResolveRPCURL(override string, chainID int64, alchemyKey string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := AlchemyRPCURL(chainID, alchemyKey); ok {
		return value, nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; set chains.<slug>.rpc_url", chainID)
}

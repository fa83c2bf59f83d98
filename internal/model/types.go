package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type AmountInfo struct {
	BaseUnits string `json:"base_units"`
	Decimal   string `json:"decimal"`
}

type ChainInfo struct {
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	ChainID        int64  `json:"chain_id"`
	CAIP2          string `json:"caip2"`
	RPCHost        string `json:"rpc_host"`
	AggregatorSlug string `json:"aggregator_slug"`
	PermitEnabled  bool   `json:"permit_enabled"`
}

type SwapQuote struct {
	Provider      string     `json:"provider"`
	ChainID       string     `json:"chain_id"`
	FromToken     string     `json:"from_token"`
	ToToken       string     `json:"to_token"`
	AmountIn      AmountInfo `json:"amount_in"`
	AmountOut     AmountInfo `json:"amount_out"`
	AmountInUSD   string     `json:"amount_in_usd,omitempty"`
	AmountOutUSD  string     `json:"amount_out_usd,omitempty"`
	Gas           string     `json:"gas,omitempty"`
	GasUSD        string     `json:"gas_usd,omitempty"`
	RouterAddress string     `json:"router_address"`
	FetchedAt     string     `json:"fetched_at"`
}

type FeeSuggestion struct {
	ChainID                 string `json:"chain_id"`
	Tier                    string `json:"tier"`
	MaxFeePerGasWei         string `json:"max_fee_per_gas_wei"`
	MaxPriorityFeePerGasWei string `json:"max_priority_fee_per_gas_wei"`
	FetchedAt               string `json:"fetched_at"`
}

type TxInfo struct {
	Hash        string `json:"hash"`
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
}

type TxStatus struct {
	ChainID string  `json:"chain_id"`
	TxHash  string  `json:"tx_hash"`
	Found   bool    `json:"found"`
	Receipt *TxInfo `json:"receipt,omitempty"`
}

type WalletEntry struct {
	Index   int    `json:"index"`
	Address string `json:"address"`
}

type SkippedKey struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type WalletCheck struct {
	Wallets []WalletEntry `json:"wallets"`
	Skipped []SkippedKey  `json:"skipped"`
}

type PermitProbe struct {
	Capability string `json:"capability"`
	Step       string `json:"step,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type SwapAttempt struct {
	Index      int          `json:"index"`
	Wallet     string       `json:"wallet"`
	FinalState string       `json:"final_state"`
	States     []string     `json:"states"`
	Path       string       `json:"authorization,omitempty"`
	AmountIn   *AmountInfo  `json:"amount_in,omitempty"`
	AmountOut  string       `json:"amount_out,omitempty"`
	Router     string       `json:"router,omitempty"`
	Probe      *PermitProbe `json:"permit_probe,omitempty"`
	Approval   *TxInfo      `json:"approval_tx,omitempty"`
	// AllowanceAfter is in base units, read back after an approval.
	AllowanceAfter string  `json:"allowance_after,omitempty"`
	Swap           *TxInfo `json:"swap_tx,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	ErrorCode      int     `json:"error_code,omitempty"`
	ErrorType      string  `json:"error_type,omitempty"`
	TxHash         string  `json:"tx_hash,omitempty"`
}

type SwapRun struct {
	ChainID     string        `json:"chain_id"`
	FromToken   string        `json:"from_token"`
	ToToken     string        `json:"to_token"`
	Attempts    []SwapAttempt `json:"attempts"`
	Skipped     []SkippedKey  `json:"skipped"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Cancelled   int           `json:"cancelled"`
	Interrupted bool          `json:"interrupted"`
}

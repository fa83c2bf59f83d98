// Package fees fetches EIP-1559 fee suggestions from the Infura gas API.
package fees

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ggonzalez94/kswap/internal/chain"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/httpx"
)

type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

func ParseTier(v string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(v))) {
	case TierLow:
		return TierLow, nil
	case TierMedium, "":
		return TierMedium, nil
	case TierHigh:
		return TierHigh, nil
	}
	return "", clierr.New(clierr.CodeInvalidInput, fmt.Sprintf("gas tier must be low, medium or high, got %q", v))
}

type Suggestion struct {
	MaxFeePerGas         *big.Int  `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas *big.Int  `json:"max_priority_fee_per_gas"`
	Tier                 Tier      `json:"tier"`
	FetchedAt            time.Time `json:"fetched_at"`
}

type tierFees struct {
	MaxPriorityFee string `json:"suggestedMaxPriorityFeePerGas"`
	MaxFee         string `json:"suggestedMaxFeePerGas"`
}

type suggestedFeesResponse struct {
	Low            *tierFees `json:"low"`
	Medium         *tierFees `json:"medium"`
	High           *tierFees `json:"high"`
	EstimatedBase  string    `json:"estimatedBaseFee"`
	NetworkCongest float64   `json:"networkCongestion"`
}

func (r suggestedFeesResponse) tier(t Tier) *tierFees {
	switch t {
	case TierLow:
		return r.Low
	case TierHigh:
		return r.High
	default:
		return r.Medium
	}
}

type Oracle struct {
	chain  chain.Context
	http   *httpx.Client
	apiKey string
	now    func() time.Time
}

func NewOracle(c chain.Context, httpClient *httpx.Client, apiKey string) *Oracle {
	return &Oracle{chain: c, http: httpClient, apiKey: strings.TrimSpace(apiKey), now: time.Now}
}

// Suggest is never cached; every call hits the API.
func (o *Oracle) Suggest(ctx context.Context, tier Tier) (Suggestion, error) {
	if o.apiKey == "" {
		return Suggestion{}, clierr.New(clierr.CodeFeeUnavailable, "missing gas api key (set INFURA_API_KEY)")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.chain.GasAPIURL(o.apiKey), nil)
	if err != nil {
		return Suggestion{}, clierr.Wrap(clierr.CodeFeeUnavailable, "build gas api request", err)
	}
	var resp suggestedFeesResponse
	if _, err := o.http.DoJSON(ctx, req, &resp); err != nil {
		return Suggestion{}, clierr.Wrap(clierr.CodeFeeUnavailable, fmt.Sprintf("fetch suggested fees for %s", o.chain.Slug), err)
	}
	fees := resp.tier(tier)
	if fees == nil {
		return Suggestion{}, clierr.New(clierr.CodeFeeUnavailable, fmt.Sprintf("gas api response has no %s tier", tier))
	}
	maxFee, err := GweiToWei(fees.MaxFee)
	if err != nil {
		return Suggestion{}, clierr.Wrap(clierr.CodeFeeUnavailable, "parse suggestedMaxFeePerGas", err)
	}
	tip, err := GweiToWei(fees.MaxPriorityFee)
	if err != nil {
		return Suggestion{}, clierr.Wrap(clierr.CodeFeeUnavailable, "parse suggestedMaxPriorityFeePerGas", err)
	}
	if maxFee.Cmp(tip) < 0 {
		return Suggestion{}, clierr.New(clierr.CodeFeeUnavailable, "suggested max fee is below the priority fee")
	}
	return Suggestion{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip, Tier: tier, FetchedAt: o.now().UTC()}, nil
}

// GweiToWei converts a decimal gwei string to wei, truncating any fraction
// below one wei.
func GweiToWei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	return new(big.Int).Quo(rat.Num(), rat.Denom()), nil
}

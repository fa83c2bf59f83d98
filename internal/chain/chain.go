// Package chain holds the per-network parameters every swap component reads.
package chain

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/registry"
)

const (
	DefaultAggregatorBase = "https://aggregator-api.kyberswap.com"
	DefaultGasAPIBase     = "https://gas.api.infura.io"
)

// NativeSentinel is the address the aggregator uses for a chain's gas token.
var NativeSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Context is immutable once resolved and is passed by value.
type Context struct {
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	ChainID        int64          `json:"chain_id"`
	RPCURL         string         `json:"rpc_url"`
	NativeSentinel common.Address `json:"native_sentinel"`
	AggregatorBase string         `json:"aggregator_base"`
	AggregatorSlug string         `json:"aggregator_slug"`
	GasAPIBase     string         `json:"gas_api_base"`
	PermitEnabled  bool           `json:"permit_enabled"`
}

func (c Context) CAIP2() string {
	return fmt.Sprintf("eip155:%d", c.ChainID)
}

func (c Context) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

func (c Context) IsNative(token common.Address) bool {
	return token == c.NativeSentinel
}

func (c Context) aggregatorPrefix() string {
	return strings.TrimRight(c.AggregatorBase, "/") + "/" + c.AggregatorSlug
}

func (c Context) RouteURL() string {
	return c.aggregatorPrefix() + "/api/v1/routes"
}

func (c Context) BuildURL() string {
	return c.aggregatorPrefix() + "/api/v1/route/build"
}

// GasAPIURL is the suggested-fees endpoint for this chain.
func (c Context) GasAPIURL(apiKey string) string {
	return fmt.Sprintf("%s/v3/%s/networks/%d/suggestedGasFees", strings.TrimRight(c.GasAPIBase, "/"), apiKey, c.ChainID)
}

type definition struct {
	name    string
	slug    string
	chainID int64
	aliases []string
}

var definitions = []definition{
	{name: "Ethereum", slug: "ethereum", chainID: 1, aliases: []string{"eth", "ether", "mainnet"}},
	{name: "Optimism", slug: "optimism", chainID: 10, aliases: []string{"op"}},
	{name: "Polygon", slug: "polygon", chainID: 137, aliases: []string{"matic", "pol"}},
	{name: "Base", slug: "base", chainID: 8453},
	{name: "Arbitrum", slug: "arbitrum", chainID: 42161, aliases: []string{"arb", "arbitrum-one"}},
	{name: "Linea", slug: "linea", chainID: 59144},
}

// Override replaces defaults for one chain. A nil Permit keeps the default.
type Override struct {
	RPCURL string
	Permit *bool
}

type Options struct {
	AggregatorBase string
	GasAPIBase     string
	AlchemyKey     string
	Overrides      map[string]Override
}

type Registry struct {
	bySlug  map[string]Context
	aliases map[string]string
	byID    map[int64]string
}

// NewRegistry resolves every supported network up front so that lookups
// never consult config again.
func NewRegistry(opts Options) (*Registry, error) {
	base := strings.TrimSpace(opts.AggregatorBase)
	if base == "" {
		base = DefaultAggregatorBase
	}
	gasBase := strings.TrimSpace(opts.GasAPIBase)
	if gasBase == "" {
		gasBase = DefaultGasAPIBase
	}
	r := &Registry{
		bySlug:  make(map[string]Context, len(definitions)),
		aliases: map[string]string{},
		byID:    map[int64]string{},
	}
	known := map[string]bool{}
	for _, def := range definitions {
		known[def.slug] = true
	}
	for slug := range opts.Overrides {
		if !known[strings.ToLower(strings.TrimSpace(slug))] {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("config overrides unknown chain %q", slug))
		}
	}

	for _, def := range definitions {
		override := opts.Overrides[def.slug]
		rpcURL, err := registry.ResolveRPCURL(override.RPCURL, def.chainID, opts.AlchemyKey)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc for "+def.slug, err)
		}
		permitEnabled := true
		if override.Permit != nil {
			permitEnabled = *override.Permit
		}
		r.bySlug[def.slug] = Context{
			Name:           def.name,
			Slug:           def.slug,
			ChainID:        def.chainID,
			RPCURL:         rpcURL,
			NativeSentinel: NativeSentinel,
			AggregatorBase: base,
			AggregatorSlug: def.slug,
			GasAPIBase:     gasBase,
			PermitEnabled:  permitEnabled,
		}
		r.byID[def.chainID] = def.slug
		r.aliases[def.slug] = def.slug
		for _, alias := range def.aliases {
			r.aliases[alias] = def.slug
		}
	}
	return r, nil
}

// Resolve accepts a slug, an alias, a numeric chain id or a CAIP-2 id.
func (r *Registry) Resolve(input string) (Context, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return Context{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	if slug, ok := r.aliases[norm]; ok {
		return r.bySlug[slug], nil
	}
	norm = strings.TrimPrefix(norm, "eip155:")
	if id, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if slug, ok := r.byID[id]; ok {
			return r.bySlug[slug], nil
		}
	}
	return Context{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported chain input: %s", input))
}

func (r *Registry) All() []Context {
	out := make([]Context, 0, len(r.bySlug))
	for _, c := range r.bySlug {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

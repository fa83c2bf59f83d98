package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
)

func TestResolveAcceptsAliasesAndIDs(t *testing.T) {
	reg, err := NewRegistry(Options{})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	cases := map[string]int64{
		"arbitrum":   42161,
		"ARB":        42161,
		"op":         10,
		"8453":       8453,
		"eip155:137": 137,
		" linea ":    59144,
		"ether":      1,
	}
	for input, want := range cases {
		ctx, err := reg.Resolve(input)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", input, err)
		}
		if ctx.ChainID != want {
			t.Fatalf("Resolve(%q) chain id = %d, want %d", input, ctx.ChainID, want)
		}
	}
	if _, err := reg.Resolve("solana"); !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestAggregatorURLs(t *testing.T) {
	reg, err := NewRegistry(Options{AggregatorBase: "https://agg.example/"})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	base, _ := reg.Resolve("base")
	if base.RouteURL() != "https://agg.example/base/api/v1/routes" {
		t.Fatalf("unexpected route url %s", base.RouteURL())
	}
	if base.BuildURL() != "https://agg.example/base/api/v1/route/build" {
		t.Fatalf("unexpected build url %s", base.BuildURL())
	}
	if got := base.GasAPIURL("k"); got != "https://gas.api.infura.io/v3/k/networks/8453/suggestedGasFees" {
		t.Fatalf("unexpected gas api url %s", got)
	}
	if !base.IsNative(common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")) {
		t.Fatal("expected sentinel to be native")
	}
}

func TestOverridesApplyAndValidate(t *testing.T) {
	off := false
	reg, err := NewRegistry(Options{
		AlchemyKey: "k",
		Overrides: map[string]Override{
			"polygon": {RPCURL: "http://127.0.0.1:8545", Permit: &off},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	polygon, _ := reg.Resolve("polygon")
	if polygon.RPCURL != "http://127.0.0.1:8545" || polygon.PermitEnabled {
		t.Fatalf("override not applied: %+v", polygon)
	}
	eth, _ := reg.Resolve("ethereum")
	if eth.RPCURL != "https://eth-mainnet.g.alchemy.com/v2/k" || !eth.PermitEnabled {
		t.Fatalf("unexpected ethereum context: %+v", eth)
	}

	if _, err := NewRegistry(Options{Overrides: map[string]Override{"fantom": {}}}); err == nil {
		t.Fatal("expected unknown chain override to fail")
	}
	if got := len(reg.All()); got != 6 {
		t.Fatalf("expected 6 chains, got %d", got)
	}
}

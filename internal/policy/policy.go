package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/kswap/internal/errors"
)

// Guard holds operator limits that apply before any wallet is touched.
type Guard struct {
	AllowedChains          []string
	MaxSlippageBps         int64
	AllowUnlimitedApproval bool
}

type SwapCheck struct {
	Chain             string
	SlippageBps       int64
	UnlimitedApproval bool
}

func (g Guard) CheckSwap(req SwapCheck) error {
	if len(g.AllowedChains) > 0 {
		allowed := false
		for _, c := range g.AllowedChains {
			if normalize(c) == normalize(req.Chain) {
				allowed = true
				break
			}
		}
		if !allowed {
			return clierr.New(clierr.CodeBlocked, fmt.Sprintf("chain %s is not in policy.allowed_chains", req.Chain))
		}
	}
	if g.MaxSlippageBps > 0 && req.SlippageBps > g.MaxSlippageBps {
		return clierr.New(clierr.CodeBlocked, fmt.Sprintf("slippage %d bps exceeds policy maximum of %d bps", req.SlippageBps, g.MaxSlippageBps))
	}
	if req.UnlimitedApproval && !g.AllowUnlimitedApproval {
		return clierr.New(clierr.CodeBlocked, "unlimited approvals are disabled by policy.allow_unlimited_approval")
	}
	return nil
}

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}

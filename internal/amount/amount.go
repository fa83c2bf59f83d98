// Package amount converts between human decimal strings and smallest-unit integers.
package amount

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/kswap/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseDecimal converts "1.25" with 6 decimals into 1250000.
func ParseDecimal(decimal string, decimals int) (*big.Int, error) {
	decimal = strings.TrimSpace(decimal)
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeInvalidInput, "decimals must be >= 0")
	}
	if !decimalPattern.MatchString(decimal) {
		return nil, clierr.New(clierr.CodeInvalidInput, fmt.Sprintf("amount %q must be in decimal form like 1.23", decimal))
	}
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeInvalidInput, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return new(big.Int), nil
	}
	out, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeInvalidInput, "invalid decimal amount")
	}
	return out, nil
}

// FromPercent takes percent (0 < p <= 100) of balance, rounding down so the
// result never exceeds the balance.
func FromPercent(balance *big.Int, percent string) (*big.Int, error) {
	if balance == nil || balance.Sign() < 0 {
		return nil, clierr.New(clierr.CodeInvalidInput, "balance must be non-negative")
	}
	p, ok := new(big.Rat).SetString(strings.TrimSpace(percent))
	if !ok {
		return nil, clierr.New(clierr.CodeInvalidInput, fmt.Sprintf("percentage %q is not a number", percent))
	}
	if p.Sign() <= 0 || p.Cmp(big.NewRat(100, 1)) > 0 {
		return nil, clierr.New(clierr.CodeInvalidInput, "percentage must be in (0, 100]")
	}
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(balance), p)
	scaled.Quo(scaled, big.NewRat(100, 1))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

// Format renders a smallest-unit integer as a trimmed decimal string.
func Format(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	neg := raw.Sign() < 0
	s := new(big.Int).Abs(raw).String()
	if decimals > 0 {
		if len(s) <= decimals {
			s = strings.Repeat("0", decimals-len(s)+1) + s
		}
		intPart := s[:len(s)-decimals]
		fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
		s = intPart
		if fracPart != "" {
			s += "." + fracPart
		}
	}
	if neg {
		return "-" + s
	}
	return s
}

// SlippageBps converts a percent such as "0.5" into basis points (50).
func SlippageBps(percent string) (int64, error) {
	p, ok := new(big.Rat).SetString(strings.TrimSpace(percent))
	if !ok {
		return 0, clierr.New(clierr.CodeInvalidInput, fmt.Sprintf("slippage %q is not a number", percent))
	}
	bps := new(big.Rat).Mul(p, big.NewRat(100, 1))
	if bps.Sign() < 0 || !bps.IsInt() {
		return 0, clierr.New(clierr.CodeInvalidInput, "slippage must be a non-negative multiple of 0.01%")
	}
	if bps.Num().Cmp(big.NewInt(10_000)) > 0 {
		return 0, clierr.New(clierr.CodeInvalidInput, "slippage cannot exceed 100%")
	}
	return bps.Num().Int64(), nil
}

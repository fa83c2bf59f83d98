package kyberswap

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/kswap/internal/permit"
)

// RouteSummary is kept as raw JSON so every field the aggregator sent is
// returned to it byte for byte.
type RouteSummary map[string]json.RawMessage

func (s RouteSummary) clone() RouteSummary {
	out := make(RouteSummary, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	return out
}

// WithPermit returns a copy carrying auth under the "permit" key.
func (s RouteSummary) WithPermit(auth permit.Authorization) (RouteSummary, error) {
	raw, err := json.Marshal(auth)
	if err != nil {
		return nil, err
	}
	out := s.clone()
	out["permit"] = raw
	return out, nil
}

func (s RouteSummary) field(key string) string {
	raw, ok := s[key]
	if !ok {
		return ""
	}
	var d Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return ""
	}
	return string(d)
}

func (s RouteSummary) AmountIn() string     { return s.field("amountIn") }
func (s RouteSummary) AmountOut() string    { return s.field("amountOut") }
func (s RouteSummary) AmountInUSD() string  { return s.field("amountInUsd") }
func (s RouteSummary) AmountOutUSD() string { return s.field("amountOutUsd") }
func (s RouteSummary) Gas() string          { return s.field("gas") }
func (s RouteSummary) GasUSD() string       { return s.field("gasUsd") }

type RouteQuote struct {
	Summary       RouteSummary
	RouterAddress common.Address
}

// Decimal accepts both quoted and bare JSON numbers.
type Decimal string

func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Decimal(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decimal: %w", err)
	}
	*d = Decimal(n.String())
	return nil
}

func (d Decimal) String() string { return string(d) }

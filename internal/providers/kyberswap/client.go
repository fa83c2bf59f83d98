package kyberswap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/kswap/internal/chain"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/httpx"
	"github.com/ggonzalez94/kswap/internal/permit"
	"golang.org/x/time/rate"
)

const (
	DefaultClientID = "kswap"

	// RouteDeadline is how far ahead route and build deadlines are set.
	RouteDeadline = 1200 * time.Second

	routeSlippageBps = 50
)

// APIError is a response whose envelope code is non-zero. Message is the
// aggregator's text, unmodified.
type APIError struct {
	Code      int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("kyberswap code %d: %s (request %s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("kyberswap code %d: %s", e.Code, e.Message)
}

type Client struct {
	http     *httpx.Client
	chain    chain.Context
	clientID string
	limiter  *rate.Limiter
	now      func() time.Time
}

// New returns a client bound to one chain. ratePerSecond <= 0 disables
// throttling.
func New(httpClient *httpx.Client, c chain.Context, clientID string, ratePerSecond float64) *Client {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = DefaultClientID
	}
	return &Client{
		http:     httpClient,
		chain:    c,
		clientID: clientID,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId"`
}

type routeData struct {
	RouteSummary  RouteSummary `json:"routeSummary"`
	RouterAddress string       `json:"routerAddress"`
}

type RouteRequest struct {
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	FeeAmount   *big.Int
	ChargeFeeBy string
}

func (c *Client) GetRoute(ctx context.Context, req RouteRequest) (RouteQuote, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return RouteQuote{}, clierr.New(clierr.CodeInvalidInput, "route amount must be positive")
	}
	vals := url.Values{}
	vals.Set("tokenIn", req.TokenIn.Hex())
	vals.Set("tokenOut", req.TokenOut.Hex())
	vals.Set("amountIn", req.AmountIn.String())
	vals.Set("deadline", strconv.FormatInt(c.now().Add(RouteDeadline).Unix(), 10))
	vals.Set("slippageTolerance", strconv.Itoa(routeSlippageBps))
	if req.FeeAmount != nil && req.FeeAmount.Sign() > 0 {
		vals.Set("feeAmount", req.FeeAmount.String())
		chargeBy := req.ChargeFeeBy
		if chargeBy == "" {
			chargeBy = "currency_in"
		}
		vals.Set("chargeFeeBy", chargeBy)
	}

	var data routeData
	if err := c.do(ctx, http.MethodGet, c.chain.RouteURL()+"?"+vals.Encode(), nil, &data); err != nil {
		return RouteQuote{}, clierr.Wrap(clierr.CodeRouteUnavailable, "fetch kyberswap route", err)
	}
	if len(data.RouteSummary) == 0 {
		return RouteQuote{}, clierr.New(clierr.CodeRouteUnavailable, "kyberswap route missing routeSummary")
	}
	if !common.IsHexAddress(data.RouterAddress) {
		return RouteQuote{}, clierr.New(clierr.CodeRouteUnavailable, "kyberswap route missing routerAddress")
	}
	return RouteQuote{Summary: data.RouteSummary, RouterAddress: common.HexToAddress(data.RouterAddress)}, nil
}

// BuildParams are the tx params of a build request. Zero values are left out
// of the request body.
type BuildParams struct {
	Sender               common.Address        `json:"sender"`
	Recipient            common.Address        `json:"recipient"`
	Deadline             int64                 `json:"deadline,omitempty"`
	SlippageTolerance    int64                 `json:"slippageTolerance,omitempty"`
	ChargeFeeBy          string                `json:"chargeFeeBy,omitempty"`
	FeeAmount            string                `json:"feeAmount,omitempty"`
	IsInBps              bool                  `json:"isInBps,omitempty"`
	FeeReceiver          string                `json:"feeReceiver,omitempty"`
	Sources              string                `json:"sources,omitempty"`
	Referral             string                `json:"referral,omitempty"`
	EnableGasEstimation  bool                  `json:"enableGasEstimation,omitempty"`
	IgnoreCappedSlippage bool                  `json:"ignoreCappedSlippage,omitempty"`
	Permit               *permit.Authorization `json:"permit,omitempty"`
}

type buildRequest struct {
	RouteSummary RouteSummary `json:"routeSummary"`
	BuildParams
}

type BuildResult struct {
	AmountIn      Decimal `json:"amountIn"`
	AmountInUSD   Decimal `json:"amountInUsd"`
	AmountOut     Decimal `json:"amountOut"`
	AmountOutUSD  Decimal `json:"amountOutUsd"`
	Gas           Decimal `json:"gas"`
	GasUSD        Decimal `json:"gasUsd"`
	Data          string  `json:"data"`
	RouterAddress string  `json:"routerAddress"`
}

// GasLimit returns the aggregator's gas estimate, if it parses.
func (b BuildResult) GasLimit() (uint64, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(string(b.Gas)), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

func (c *Client) BuildRoute(ctx context.Context, summary RouteSummary, params BuildParams) (BuildResult, error) {
	if len(summary) == 0 {
		return BuildResult{}, clierr.New(clierr.CodeRouteBuild, "missing route summary")
	}
	if params.Permit != nil {
		var err error
		summary, err = summary.WithPermit(*params.Permit)
		if err != nil {
			return BuildResult{}, clierr.Wrap(clierr.CodeRouteBuild, "embed permit", err)
		}
	}
	if params.Deadline == 0 {
		params.Deadline = c.now().Add(RouteDeadline).Unix()
	}
	body, err := json.Marshal(buildRequest{RouteSummary: summary, BuildParams: params})
	if err != nil {
		return BuildResult{}, clierr.Wrap(clierr.CodeInternal, "encode build request", err)
	}

	var out BuildResult
	if err := c.do(ctx, http.MethodPost, c.chain.BuildURL(), body, &out); err != nil {
		return BuildResult{}, clierr.Wrap(clierr.CodeRouteBuild, "build kyberswap route", err)
	}
	if strings.TrimSpace(out.Data) == "" {
		return BuildResult{}, clierr.New(clierr.CodeRouteBuild, "kyberswap build returned no calldata")
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	headers := map[string]string{
		"x-client-id": c.clientID,
		"source":      c.clientID,
	}
	var env envelope
	_, err := httpx.DoBodyJSON(ctx, c.http, method, endpoint, body, headers, &env)
	if err != nil {
		if raw, ok := httpx.ResponseBody(err); ok {
			var failed envelope
			if json.Unmarshal(bytes.TrimSpace(raw), &failed) == nil && failed.Code != 0 {
				return apiError(failed)
			}
		}
		return err
	}
	if env.Code != 0 {
		return apiError(env)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return clierr.New(clierr.CodeUnavailable, "kyberswap response missing data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "decode kyberswap data", err)
	}
	return nil
}

func apiError(env envelope) *APIError {
	return &APIError{Code: env.Code, Message: env.Message, RequestID: env.RequestID}
}

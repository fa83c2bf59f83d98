package permit

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/ggonzalez94/kswap/internal/chain"
	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/ggonzalez94/kswap/internal/execution/signer"
)

const defaultDomainVersion = "1"

var permitTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Permit": {
		{Name: "owner", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

type Request struct {
	Token    common.Address
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Deadline int64
}

// Authorization is a signed permit. It is used once and never stored.
type Authorization struct {
	V        uint8
	R        [32]byte
	S        [32]byte
	Deadline int64
}

type authorizationJSON struct {
	V        uint8         `json:"v"`
	R        hexutil.Bytes `json:"r"`
	S        hexutil.Bytes `json:"s"`
	Deadline int64         `json:"deadline"`
}

func (a Authorization) MarshalJSON() ([]byte, error) {
	return json.Marshal(authorizationJSON{V: a.V, R: a.R[:], S: a.S[:], Deadline: a.Deadline})
}

func (a *Authorization) UnmarshalJSON(data []byte) error {
	var raw authorizationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.R) != 32 || len(raw.S) != 32 {
		return fmt.Errorf("permit r and s must be 32 bytes")
	}
	a.V = raw.V
	copy(a.R[:], raw.R)
	copy(a.S[:], raw.S)
	a.Deadline = raw.Deadline
	return nil
}

type Signer struct {
	chain  chain.Context
	client Backend
}

func NewSigner(c chain.Context, client Backend) *Signer {
	return &Signer{chain: c, client: client}
}

func (s *Signer) Sign(ctx context.Context, req Request, wallet signer.Signer) (Authorization, error) {
	if req.Value == nil || req.Value.Sign() <= 0 {
		return Authorization{}, clierr.New(clierr.CodePermitSign, "permit value must be positive")
	}
	if wallet.Address() != req.Owner {
		return Authorization{}, clierr.New(clierr.CodePermitSign, "permit owner does not match signing wallet")
	}

	name, err := readString(ctx, s.client, req.Token, "name")
	if err != nil {
		return Authorization{}, clierr.Wrap(clierr.CodePermitSign, "read token name", err)
	}
	nonce, _, err := readNonce(ctx, s.client, req.Token, req.Owner)
	if err != nil {
		return Authorization{}, clierr.Wrap(clierr.CodePermitSign, "read permit nonce", err)
	}
	version, err := readString(ctx, s.client, req.Token, "version")
	if err != nil || version == "" {
		version = defaultDomainVersion
	}
	if _, err := readDomainSeparator(ctx, s.client, req.Token); err != nil {
		return Authorization{}, clierr.Wrap(clierr.CodePermitSign, "read DOMAIN_SEPARATOR", err)
	}

	typed := apitypes.TypedData{
		Types:       permitTypes,
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(s.chain.ChainIDBig()),
			VerifyingContract: req.Token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    req.Owner.Hex(),
			"spender":  req.Spender.Hex(),
			"value":    req.Value.String(),
			"nonce":    nonce.String(),
			"deadline": strconv.FormatInt(req.Deadline, 10),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return Authorization{}, clierr.Wrap(clierr.CodePermitSign, "hash permit typed data", err)
	}
	sig, err := wallet.SignHash(digest)
	if err != nil {
		return Authorization{}, clierr.Wrap(clierr.CodePermitSign, "sign permit", err)
	}
	if len(sig) != 65 {
		return Authorization{}, clierr.New(clierr.CodePermitSign, fmt.Sprintf("unexpected signature length %d", len(sig)))
	}

	auth := Authorization{V: sig[64] + 27, Deadline: req.Deadline}
	copy(auth.R[:], sig[:32])
	copy(auth.S[:], sig[32:64])
	return auth, nil
}

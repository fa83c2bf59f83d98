package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer holds one wallet's key. SignHash returns a 65-byte [R || S || V]
// signature with V in {0, 1}.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
	SignHash(hash []byte) ([]byte, error)
}

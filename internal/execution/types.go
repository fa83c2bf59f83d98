package execution

type TxKind string

const (
	TxKindApproval TxKind = "approval"
	TxKindSwap     TxKind = "swap"
)

// Receipt describes a transaction this process broadcast. Status and
// BlockNumber are zero until the receipt is mined.
type Receipt struct {
	Kind        TxKind `json:"kind,omitempty"`
	TxHash      string `json:"tx_hash"`
	Nonce       uint64 `json:"nonce"`
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasLimit    uint64 `json:"gas_limit,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
}

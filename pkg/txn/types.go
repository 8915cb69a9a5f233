package txn

import (
	"encoding/hex"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

// Inputs is the chain-specific part of an UnsignedTransaction.
// Implemented by NoInputs, UTXOInputs, EVMInputs, SolanaInputs and XRPInputs.
type Inputs interface {
	Kind() InputsKind
	isInputs()
}

type InputsKind string

const (
	KindNone   InputsKind = "none"
	KindUTXO   InputsKind = "utxo"
	KindEVM    InputsKind = "evm"
	KindSolana InputsKind = "solana"
	KindXRP    InputsKind = "xrp"
)

type NoInputs struct{}

type UTXOInput struct {
	TxID         string `json:"txid" validate:"required,len=64,hexadecimal"`
	OutputIndex  uint32 `json:"vout"`
	Value        int64  `json:"value" validate:"gt=0"`
	ScriptPubKey []byte `json:"scriptPubKey" validate:"required"`
	Address      string `json:"address" validate:"required"`
}

type UTXOInputs struct {
	UTXOs           []UTXOInput `json:"utxos" validate:"required,min=1,dive"`
	FeeRatePerVByte uint64      `json:"feeRate" validate:"gt=0"`
	ChangeAddress   string      `json:"changeAddress,omitempty"`
	RBFEnabled      bool        `json:"rbf"`
}

type EVMInputs struct {
	Nonce          uint64  `json:"nonce"`
	GasLimit       uint64  `json:"gasLimit" validate:"gt=0"`
	GasPrice       uint64  `json:"gasPrice" validate:"gt=0"` // max fee per gas when UseEIP1559 is set
	MaxPriorityFee *uint64 `json:"maxPriorityFee,omitempty"`
	ChainIDNumber  uint64  `json:"chainId" validate:"gt=0"`
	UseEIP1559     bool    `json:"eip1559"`
}

type SolanaInputs struct {
	RecentBlockhash  string  `json:"recentBlockhash" validate:"required"`
	ComputeUnitLimit *uint32 `json:"computeUnitLimit,omitempty"`
	PriorityFee      *uint64 `json:"priorityFee,omitempty"` // micro-lamports per compute unit
}

type XRPInputs struct {
	Sequence       uint32  `json:"sequence"`
	Fee            uint64  `json:"fee"`
	DestinationTag *uint32 `json:"destinationTag,omitempty"`
}

func (NoInputs) Kind() InputsKind     { return KindNone }
func (UTXOInputs) Kind() InputsKind   { return KindUTXO }
func (EVMInputs) Kind() InputsKind    { return KindEVM }
func (SolanaInputs) Kind() InputsKind { return KindSolana }
func (XRPInputs) Kind() InputsKind    { return KindXRP }

func (NoInputs) isInputs()     {}
func (UTXOInputs) isInputs()   {}
func (EVMInputs) isInputs()    {}
func (SolanaInputs) isInputs() {}
func (XRPInputs) isInputs()    {}

// Total sums the UTXO values, failing with ErrInvalidInputs when the sum does not fit in 64 bits.
func (in UTXOInputs) Total() (uint64, error) {
	var total, carry uint64
	for _, u := range in.UTXOs {
		if u.Value <= 0 {
			continue
		}
		total, carry = bits.Add64(total, uint64(u.Value), 0)
		if carry != 0 {
			return 0, errors.Wrap(signerr.ErrInvalidInputs, "utxo values overflow")
		}
	}
	return total, nil
}

// UnsignedTransaction is built by the caller and consumed by exactly one Sign call.
type UnsignedTransaction struct {
	ChainID   chain.ID `json:"chainId" validate:"required"`
	Recipient string   `json:"recipient" validate:"required"`
	Amount    uint64   `json:"amount"`
	Data      []byte   `json:"data,omitempty"`
	Inputs    Inputs   `json:"-"`
}

// SigningContext carries no secret material.
type SigningContext struct {
	IsTestnet        bool   `json:"isTestnet"`
	WalletID         string `json:"walletId"`
	RequireBiometric bool   `json:"requireBiometric"`
}

type SignedTransaction struct {
	ChainID chain.ID `json:"chainId"`
	TxID    string   `json:"txid"`
	RawHex  string   `json:"raw"`
	Size    int      `json:"size"`
	VSize   int      `json:"vsize"`
	Fee     uint64   `json:"fee"`
}

func NewSignedTransaction(chainID chain.ID, txid string, raw []byte, fee uint64) *SignedTransaction {
	return &SignedTransaction{
		ChainID: chainID,
		TxID:    txid,
		RawHex:  hex.EncodeToString(raw),
		Size:    len(raw),
		VSize:   len(raw),
		Fee:     fee,
	}
}

func (s *SignedTransaction) WithVSize(vsize int) *SignedTransaction {
	s.VSize = vsize
	return s
}

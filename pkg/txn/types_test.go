package txn

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

func evmTx() *UnsignedTransaction {
	tip := uint64(2_000_000_000)
	return &UnsignedTransaction{
		ChainID:   chain.Ethereum,
		Recipient: "0x000000000000000000000000000000000000dEaD",
		Amount:    1_000_000_000_000_000_000,
		Inputs: EVMInputs{
			Nonce:          5,
			GasLimit:       21000,
			GasPrice:       30_000_000_000,
			MaxPriorityFee: &tip,
			ChainIDNumber:  1,
			UseEIP1559:     true,
		},
	}
}

func TestValidateAcceptsMatchingVariant(t *testing.T) {
	require.NoError(t, evmTx().Validate())

	btc := &UnsignedTransaction{
		ChainID:   chain.Bitcoin,
		Recipient: "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
		Amount:    10_000,
		Inputs: UTXOInputs{
			UTXOs: []UTXOInput{{
				TxID:         strings.Repeat("ab", 32),
				Value:        50_000,
				ScriptPubKey: []byte{0x00, 0x14},
				Address:      "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
			}},
			FeeRatePerVByte: 10,
		},
	}
	require.NoError(t, btc.Validate())
}

func TestValidateRejectsMismatchedVariant(t *testing.T) {
	tx := evmTx()
	tx.ChainID = chain.Solana

	err := tx.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))
}

func TestValidateRejectsMissingInputs(t *testing.T) {
	tx := evmTx()
	tx.Inputs = nil
	assert.True(t, errors.Is(tx.Validate(), signerr.ErrInvalidInputs))
}

func TestValidateRejectsWrongNumericChainID(t *testing.T) {
	tx := evmTx()
	in := tx.Inputs.(EVMInputs)
	in.ChainIDNumber = 56
	tx.Inputs = in
	assert.True(t, errors.Is(tx.Validate(), signerr.ErrInvalidInputs))
}

func TestValidateRejectsEmptyUTXOSet(t *testing.T) {
	tx := &UnsignedTransaction{
		ChainID:   chain.Bitcoin,
		Recipient: "bc1q",
		Amount:    1,
		Inputs:    UTXOInputs{FeeRatePerVByte: 1},
	}
	assert.True(t, errors.Is(tx.Validate(), signerr.ErrInvalidInputs))
}

func TestUTXOTotalOverflow(t *testing.T) {
	huge := UTXOInput{
		TxID:         strings.Repeat("ab", 32),
		Value:        math.MaxInt64,
		ScriptPubKey: []byte{0x00, 0x14},
		Address:      "bc1q",
	}
	in := UTXOInputs{UTXOs: []UTXOInput{huge, huge}, FeeRatePerVByte: 1}
	total, err := in.Total()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), total)

	in.UTXOs = append(in.UTXOs, huge)
	_, err = in.Total()
	assert.True(t, errors.Is(err, signerr.ErrInvalidInputs))

	tx := &UnsignedTransaction{ChainID: chain.Bitcoin, Recipient: "bc1q", Amount: 1, Inputs: in}
	assert.True(t, errors.Is(tx.Validate(), signerr.ErrInvalidInputs))
}

func TestValidateUnsupportedChain(t *testing.T) {
	tx := &UnsignedTransaction{ChainID: chain.Cosmos, Recipient: "cosmos1", Inputs: NoInputs{}}
	assert.True(t, errors.Is(tx.Validate(), signerr.ErrUnsupportedChain))
}

func TestUnsignedTransactionJSON(t *testing.T) {
	tx := evmTx()

	data, err := json.Marshal(tx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"evm"`)

	var decoded UnsignedTransaction
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, tx.ChainID, decoded.ChainID)
	assert.Equal(t, tx.Amount, decoded.Amount)
	assert.Equal(t, tx.Inputs, decoded.Inputs)

	err = json.Unmarshal([]byte(`{"chainId":"ethereum","inputs":{"kind":"evm"}}`), &decoded)
	assert.Error(t, err)
}

func TestSignedTransactionDefaultsVSizeToSize(t *testing.T) {
	signed := NewSignedTransaction(chain.Ethereum, "0x01", []byte{1, 2, 3}, 7)
	assert.Equal(t, "010203", signed.RawHex)
	assert.Equal(t, 3, signed.Size)
	assert.Equal(t, 3, signed.VSize)
	assert.Equal(t, 2, signed.WithVSize(2).VSize)
}

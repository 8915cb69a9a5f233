package txn

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type inputsEnvelope struct {
	Kind   InputsKind    `json:"kind"`
	UTXO   *UTXOInputs   `json:"utxo,omitempty"`
	EVM    *EVMInputs    `json:"evm,omitempty"`
	Solana *SolanaInputs `json:"solana,omitempty"`
	XRP    *XRPInputs    `json:"xrp,omitempty"`
}

type unsignedAlias UnsignedTransaction

type unsignedJSON struct {
	*unsignedAlias
	Inputs *inputsEnvelope `json:"inputs,omitempty"`
}

func (tx UnsignedTransaction) MarshalJSON() ([]byte, error) {
	alias := unsignedAlias(tx)
	out := unsignedJSON{unsignedAlias: &alias}

	if tx.Inputs != nil {
		env := &inputsEnvelope{Kind: tx.Inputs.Kind()}
		switch in := tx.Inputs.(type) {
		case UTXOInputs:
			env.UTXO = &in
		case EVMInputs:
			env.EVM = &in
		case SolanaInputs:
			env.Solana = &in
		case XRPInputs:
			env.XRP = &in
		}
		out.Inputs = env
	}

	return json.Marshal(out)
}

func (tx *UnsignedTransaction) UnmarshalJSON(data []byte) error {
	in := unsignedJSON{unsignedAlias: (*unsignedAlias)(tx)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	if in.Inputs == nil {
		tx.Inputs = nil
		return nil
	}

	switch in.Inputs.Kind {
	case KindNone, "":
		tx.Inputs = NoInputs{}
	case KindUTXO:
		if in.Inputs.UTXO == nil {
			return errors.New("missing utxo inputs")
		}
		tx.Inputs = *in.Inputs.UTXO
	case KindEVM:
		if in.Inputs.EVM == nil {
			return errors.New("missing evm inputs")
		}
		tx.Inputs = *in.Inputs.EVM
	case KindSolana:
		if in.Inputs.Solana == nil {
			return errors.New("missing solana inputs")
		}
		tx.Inputs = *in.Inputs.Solana
	case KindXRP:
		if in.Inputs.XRP == nil {
			return errors.New("missing xrp inputs")
		}
		tx.Inputs = *in.Inputs.XRP
	default:
		return errors.Errorf("unknown inputs kind %q", in.Inputs.Kind)
	}

	return nil
}

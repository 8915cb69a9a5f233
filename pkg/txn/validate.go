package txn

import (
	goerrors "errors"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

var (
	validate = validator.New()
)

var familyInputs = map[chain.Family]InputsKind{
	chain.FamilyUTXO:   KindUTXO,
	chain.FamilyEVM:    KindEVM,
	chain.FamilySolana: KindSolana,
	chain.FamilyXRP:    KindXRP,
}

// Validate checks the transaction once at signer entry: field constraints and
// that the inputs variant belongs to the chain's family.
func (tx *UnsignedTransaction) Validate() error {
	if tx == nil {
		return errors.Wrap(signerr.ErrInvalidInputs, "nil transaction")
	}

	if err := validateStruct(tx); err != nil {
		return err
	}

	info, err := chain.Lookup(tx.ChainID)
	if err != nil {
		return err
	}

	expected, ok := familyInputs[info.Family]
	if !ok {
		return &signerr.UnsupportedChainError{Chain: string(tx.ChainID)}
	}

	if tx.Inputs == nil {
		return errors.Wrapf(signerr.ErrInvalidInputs, "%s transaction has no inputs", tx.ChainID)
	}

	if tx.Inputs.Kind() != expected {
		return errors.Wrapf(signerr.ErrInvalidInputs, "%s inputs supplied for %s transaction", tx.Inputs.Kind(), tx.ChainID)
	}

	if err := validateStruct(tx.Inputs); err != nil {
		return err
	}

	if utxo, ok := tx.Inputs.(UTXOInputs); ok {
		if _, err := utxo.Total(); err != nil {
			return err
		}
	}

	if evm, ok := tx.Inputs.(EVMInputs); ok && evm.ChainIDNumber != info.NumericID {
		return errors.Wrapf(signerr.ErrInvalidInputs, "chain id %d does not match %s (%d)", evm.ChainIDNumber, tx.ChainID, info.NumericID)
	}

	return nil
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if goerrors.As(err, &errs) {
		return errors.Wrap(signerr.ErrInvalidInputs, errs.Error())
	}
	return errors.Wrap(signerr.ErrInvalidInputs, err.Error())
}

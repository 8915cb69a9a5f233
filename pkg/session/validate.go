package session

import (
	goerrors "errors"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"

	"github.com/status-im/status-signer-go/internal/apps"
	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/signerr"
)

var (
	validate = validator.New()
)

func init() {
	for tag, fn := range map[string]validator.Func{
		"mnemonic":  isMnemonic,
		"bip32path": isBIP32Path,
		"chain":     isChain,
	} {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
}

func validateRequest(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if goerrors.As(err, &errs) {
		return errors.Wrap(signerr.ErrInvalidParameters, goerrors.Join(errs).Error())
	}
	return errors.Wrap(signerr.ErrInvalidParameters, err.Error())
}

func isMnemonic(fl validator.FieldLevel) bool {
	return bip39.IsMnemonicValid(fl.Field().String())
}

func isBIP32Path(fl validator.FieldLevel) bool {
	_, err := apps.ParsePath(fl.Field().String())
	return err == nil
}

func isChain(fl validator.FieldLevel) bool {
	return chain.ID(fl.Field().String()).Valid()
}

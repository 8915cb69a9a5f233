package apdu

import (
	"github.com/pkg/errors"
	kapdu "github.com/status-im/keycard-go/apdu"

	"github.com/status-im/status-signer-go/pkg/signerr"
)

const SwOK = kapdu.SwOK

const (
	SwUserRefused          = 0x5501
	SwPINNotValidated      = 0x5515
	SwWrongLength          = 0x6700
	SwAppNotFound          = 0x6807
	SwSecurityStatus       = 0x6982
	SwConditionsNotMet     = 0x6985
	SwInvalidData          = 0x6a80
	SwInvalidP1P2          = 0x6b00
	SwInsNotSupported      = 0x6d00
	SwInsNotSupported2     = 0x6d02
	SwClaNotSupported      = 0x6e00
	SwClaNotSupported2     = 0x6e01
	SwAppNotOpen           = 0x6511
	SwLockedDevice         = 0x6faa
	SwTechnicalProblem     = 0x6f00
	SwIncorrectP1P2        = 0x6a86
	SwReferencedDataAbsent = 0x6a88
)

var statusWords = map[uint16]*signerr.Kind{
	SwUserRefused:          signerr.ErrUserDenied,
	SwConditionsNotMet:     signerr.ErrUserDenied,
	SwPINNotValidated:      signerr.ErrDeviceLocked,
	SwSecurityStatus:       signerr.ErrDeviceLocked,
	SwLockedDevice:         signerr.ErrDeviceLocked,
	SwAppNotFound:          signerr.ErrAppNotFound,
	SwAppNotOpen:           signerr.ErrAppNotOpen,
	SwClaNotSupported:      signerr.ErrAppNotOpen,
	SwClaNotSupported2:     signerr.ErrAppNotOpen,
	SwInsNotSupported:      signerr.ErrIncompatibleFirmware,
	SwInsNotSupported2:     signerr.ErrIncompatibleFirmware,
	SwInvalidData:          signerr.ErrInvalidData,
	SwInvalidP1P2:          signerr.ErrInvalidParameters,
	SwIncorrectP1P2:        signerr.ErrInvalidParameters,
	SwReferencedDataAbsent: signerr.ErrInvalidData,
	SwWrongLength:          signerr.ErrWrongLength,
}

type Response struct {
	Data []byte
	Sw   uint16
}

func (r *Response) IsOK() bool {
	return r.Sw == SwOK
}

// Err returns the error mapped from the status word, nil on success.
func (r *Response) Err() error {
	return StatusWordToError(r.Sw)
}

// Parse splits a raw response into data and the trailing big-endian status word.
func Parse(raw []byte) (*Response, error) {
	resp, err := kapdu.ParseResponse(raw)
	if err == kapdu.ErrBadRawResponse {
		return nil, errors.Wrapf(signerr.ErrMalformedResponse, "response of %d bytes has no status word", len(raw))
	}
	if err != nil {
		return nil, errors.Wrap(signerr.ErrMalformedResponse, err.Error())
	}

	return &Response{Data: resp.Data, Sw: resp.Sw}, nil
}

// Check parses raw and fails with the mapped error unless the status word is 0x9000.
// Response data is never returned alongside an error.
func Check(raw []byte) ([]byte, error) {
	resp, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// StatusWordToError maps a status word to an error. Unmapped words keep the raw code.
func StatusWordToError(sw uint16) error {
	if sw == SwOK {
		return nil
	}

	kind, ok := statusWords[sw]
	if !ok {
		kind = signerr.ErrUnknownStatusWord
	}
	return signerr.NewStatusWordError(sw, kind)
}

// Encode appends the status word to data, as a device does.
func Encode(data []byte, sw uint16) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	return append(out, byte(sw>>8), byte(sw))
}

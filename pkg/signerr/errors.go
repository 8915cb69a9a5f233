package signerr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Category string

const (
	CategoryTransport   Category = "transport"
	CategoryProtocol    Category = "protocol"
	CategoryDeviceState Category = "device-state"
	CategoryTransaction Category = "transaction"
	CategoryCancelled   Category = "cancellation"
	CategorySigning     Category = "signing"
	CategoryKeys        Category = "keys"
)

// Kind is a sentinel error identifying one failure condition.
// Compare with errors.Is, never by message.
type Kind struct {
	name     string
	category Category
}

func newKind(name string, category Category) *Kind {
	return &Kind{name: name, category: category}
}

func (k *Kind) Error() string {
	return k.name
}

func (k *Kind) Category() Category {
	return k.category
}

var (
	ErrConnectionFailed   = newKind("connection failed", CategoryTransport)
	ErrDeviceNotFound     = newKind("device not found", CategoryTransport)
	ErrDeviceDisconnected = newKind("device disconnected", CategoryTransport)
	ErrTimeout            = newKind("timeout waiting for device response", CategoryTransport)
	ErrCommunication      = newKind("communication error", CategoryTransport)

	ErrMalformedResponse = newKind("malformed response", CategoryProtocol)
	ErrUnknownStatusWord = newKind("unknown device error", CategoryProtocol)
	ErrInvalidData       = newKind("invalid data", CategoryProtocol)
	ErrInvalidParameters = newKind("invalid parameters", CategoryProtocol)
	ErrWrongLength       = newKind("wrong length", CategoryProtocol)
	ErrPayloadTooLarge   = newKind("payload too large", CategoryProtocol)

	ErrWrongApp             = newKind("wrong app", CategoryDeviceState)
	ErrAppNotOpen           = newKind("app not open", CategoryDeviceState)
	ErrAppNotFound          = newKind("app not found", CategoryDeviceState)
	ErrUnsupportedChain     = newKind("unsupported chain", CategoryDeviceState)
	ErrInvalidPath          = newKind("invalid derivation path", CategoryDeviceState)
	ErrDeviceLocked         = newKind("device locked", CategoryDeviceState)
	ErrIncompatibleFirmware = newKind("incompatible firmware", CategoryDeviceState)
	ErrInvalidState         = newKind("invalid device state", CategoryDeviceState)

	ErrInvalidInputs     = newKind("invalid transaction inputs", CategoryTransaction)
	ErrInsufficientFunds = newKind("insufficient funds", CategoryTransaction)
	ErrDustOutput        = newKind("dust output", CategoryTransaction)

	ErrUserDenied = newKind("user denied on device", CategoryCancelled)
	ErrCancelled  = newKind("cancelled", CategoryCancelled)

	ErrSigningFailed = newKind("signing failed", CategorySigning)

	ErrSeedNotFound        = newKind("seed not found", CategoryKeys)
	ErrKeyDerivationFailed = newKind("key derivation failed", CategoryKeys)
)

type kinded interface {
	Kind() *Kind
}

// KindOf returns the first Kind found in the error chain, or nil.
func KindOf(err error) *Kind {
	for err != nil {
		if k, ok := err.(*Kind); ok {
			return k
		}
		if k, ok := err.(kinded); ok {
			return k.Kind()
		}
		err = errors.Unwrap(err)
	}
	return nil
}

func CategoryOf(err error) Category {
	k := KindOf(err)
	if k == nil {
		return ""
	}
	return k.category
}

// Retryable reports whether reconnecting and repeating the operation may succeed.
func Retryable(err error) bool {
	return CategoryOf(err) == CategoryTransport
}

type StatusWordError struct {
	SW   uint16
	kind *Kind
}

func NewStatusWordError(sw uint16, kind *Kind) *StatusWordError {
	return &StatusWordError{SW: sw, kind: kind}
}

func (e *StatusWordError) Error() string {
	return fmt.Sprintf("%s (status word 0x%04x)", e.kind.name, e.SW)
}

func (e *StatusWordError) Kind() *Kind {
	return e.kind
}

func (e *StatusWordError) Is(target error) bool {
	return target == e.kind
}

type WrongAppError struct {
	Expected string
	Actual   string
}

func (e *WrongAppError) Error() string {
	return fmt.Sprintf("wrong app: expected %q, active %q", e.Expected, e.Actual)
}

func (e *WrongAppError) Kind() *Kind {
	return ErrWrongApp
}

func (e *WrongAppError) Is(target error) bool {
	return target == ErrWrongApp
}

// AppNotOpenError is returned when an operation needs an app that the user has to open on the device.
type AppNotOpenError struct {
	App   string
	Cause error
}

func (e *AppNotOpenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("app %q is not open: %v", e.App, e.Cause)
	}
	return fmt.Sprintf("app %q is not open", e.App)
}

func (e *AppNotOpenError) Kind() *Kind {
	return ErrAppNotOpen
}

func (e *AppNotOpenError) Is(target error) bool {
	return target == ErrAppNotOpen
}

func (e *AppNotOpenError) Unwrap() error {
	return e.Cause
}

type InsufficientFundsError struct {
	Available uint64
	Required  uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %d, required %d", e.Available, e.Required)
}

func (e *InsufficientFundsError) Shortfall() uint64 {
	return e.Required - e.Available
}

func (e *InsufficientFundsError) Kind() *Kind {
	return ErrInsufficientFunds
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

type DustOutputError struct {
	Amount    uint64
	Threshold uint64
}

func (e *DustOutputError) Error() string {
	return fmt.Sprintf("output of %d is below dust threshold %d", e.Amount, e.Threshold)
}

func (e *DustOutputError) Kind() *Kind {
	return ErrDustOutput
}

func (e *DustOutputError) Is(target error) bool {
	return target == ErrDustOutput
}

type UnsupportedChainError struct {
	Chain    string
	CoinType uint32
}

func (e *UnsupportedChainError) Error() string {
	if e.Chain != "" {
		return fmt.Sprintf("unsupported chain %q", e.Chain)
	}
	return fmt.Sprintf("unsupported coin type %d", e.CoinType)
}

func (e *UnsupportedChainError) Kind() *Kind {
	return ErrUnsupportedChain
}

func (e *UnsupportedChainError) Is(target error) bool {
	return target == ErrUnsupportedChain
}

// SigningFailedError keeps the lower-layer cause reachable through errors.Is/As.
type SigningFailedError struct {
	Chain string
	Cause error
}

func NewSigningFailed(chain string, cause error) error {
	if cause == nil {
		return nil
	}
	var sf *SigningFailedError
	if errors.As(cause, &sf) {
		return cause
	}
	return &SigningFailedError{Chain: chain, Cause: cause}
}

func (e *SigningFailedError) Error() string {
	return fmt.Sprintf("signing %s transaction failed: %v", e.Chain, e.Cause)
}

func (e *SigningFailedError) Kind() *Kind {
	return ErrSigningFailed
}

func (e *SigningFailedError) Is(target error) bool {
	return target == ErrSigningFailed
}

func (e *SigningFailedError) Unwrap() error {
	return e.Cause
}

package provenance

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks a failure of the local event log. It is the only
// provenance error that reaches callers.
var ErrStoreUnavailable = errors.New("provenance store unavailable")

type ErrorKind int

const (
	ChainUnavailable ErrorKind = iota + 1
	ChainWriteFailed
	ChainReadFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ChainUnavailable:
		return "chain_unavailable"
	case ChainWriteFailed:
		return "chain_write_failed"
	case ChainReadFailed:
		return "chain_read_failed"
	default:
		return "unknown"
	}
}

// ChainError is returned by ledger implementations. TxReference is set when a
// transaction was submitted but its confirmation failed.
type ChainError struct {
	Kind        ErrorKind
	Op          string
	TxReference string
	Err         error
}

func (e *ChainError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Kind)
	if e.TxReference != "" {
		msg += " (tx " + e.TxReference + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// StoreFailure wraps a storage error so that errors.Is(err, ErrStoreUnavailable)
// holds while the cause stays inspectable.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreUnavailable, err))
}

func chainErrorKind(err error) (ErrorKind, bool) {
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Kind, true
	}
	return 0, false
}

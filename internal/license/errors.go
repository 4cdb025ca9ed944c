package license

import (
	"errors"
	"fmt"

	apperrors "macrotool/internal/errors"
)

// Kind classifies why a license was rejected
type Kind int

const (
	KindIO Kind = iota + 1
	KindCorrupt
	KindTampered
	KindExpired
	KindMachineMismatch
)

var kindNames = map[Kind]string{
	KindIO:              "io",
	KindCorrupt:         "corrupt",
	KindTampered:        "tampered",
	KindExpired:         "expired",
	KindMachineMismatch: "machine_mismatch",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel returns the error every failure of this kind wraps
func (k Kind) Sentinel() error {
	switch k {
	case KindIO:
		return apperrors.ErrLicenseIO
	case KindCorrupt:
		return apperrors.ErrLicenseCorrupt
	case KindTampered:
		return apperrors.ErrLicenseTampered
	case KindExpired:
		return apperrors.ErrLicenseExpired
	case KindMachineMismatch:
		return apperrors.ErrMachineMismatch
	}
	return nil
}

// Message is the text shown to the user when the application refuses to start
func (k Kind) Message() string {
	switch k {
	case KindIO:
		return "No license file could be read. Activate a license to use automation."
	case KindCorrupt:
		return "The license file is damaged or was not issued for this application."
	case KindTampered:
		return "The license file has been modified and is no longer valid."
	case KindExpired:
		return "Your license has expired. Please renew to continue."
	case KindMachineMismatch:
		return "This license is registered to a different machine."
	}
	return "License validation failed."
}

// Error is returned for every rejected license
type Error struct {
	Kind Kind
	Path string
	Err  error

	// Record is the decrypted record for Expired and MachineMismatch
	// failures; nil otherwise
	Record *Record
	// MachineID is this machine's identifier for MachineMismatch failures
	MachineID string
}

func (e *Error) Error() string {
	msg := "license"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if s := e.Kind.Sentinel(); s != nil {
		msg += ": " + s.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of a license failure, or zero when err is not one
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	for k := KindIO; k <= KindMachineMismatch; k++ {
		if errors.Is(err, k.Sentinel()) {
			return k
		}
	}
	return 0
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

package device

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is an SDK return code. Non-success values satisfy error.
type Status int32

const (
	StatusSuccess          Status = 0
	StatusError            Status = -1
	StatusNotFoundTL       Status = -2
	StatusNotFoundDevice   Status = -3
	StatusOfflineDevice    Status = -4
	StatusInvalidParameter Status = -5
	StatusInvalidHandle    Status = -6
	StatusInvalidCall      Status = -7
	StatusInvalidAccess    Status = -8
	StatusNeedMoreBuffer   Status = -9
	StatusErrorType        Status = -10
	StatusOutOfRange       Status = -11
	StatusNotImplemented   Status = -12
	StatusNotInitAPI       Status = -13
	StatusTimeout          Status = -14
)

var statusNames = map[Status]string{
	StatusSuccess:          "success",
	StatusError:            "unspecified error",
	StatusNotFoundTL:       "transport layer library not found",
	StatusNotFoundDevice:   "device not found",
	StatusOfflineDevice:    "device offline",
	StatusInvalidParameter: "invalid parameter",
	StatusInvalidHandle:    "invalid handle",
	StatusInvalidCall:      "invalid call",
	StatusInvalidAccess:    "invalid access",
	StatusNeedMoreBuffer:   "buffer too small",
	StatusErrorType:        "wrong feature type",
	StatusOutOfRange:       "value out of range",
	StatusNotImplemented:   "not implemented",
	StatusNotInitAPI:       "library not initialised",
	StatusTimeout:          "timeout",
}

func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("galaxy status %d: %s", int32(s), name)
	}
	return fmt.Sprintf("galaxy status %d", int32(s))
}

// Is lets errors.Is(StatusTimeout, ErrTimeout) hold.
func (s Status) Is(target error) bool {
	return s == StatusTimeout && target == ErrTimeout
}

// Err returns nil for StatusSuccess and s otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return s
}

var (
	// ErrTimeout is returned by Handle.Acquire when no frame arrived in time.
	ErrTimeout = errors.New("acquire timeout")
	// ErrNoDevice is returned when enumeration finds nothing to open.
	ErrNoDevice = errors.New("no device found")
	// ErrNotImplemented is returned for features the device lacks.
	ErrNotImplemented = errors.New("feature not implemented")
	// ErrUnknownDriver is returned by Lookup for unregistered names.
	ErrUnknownDriver = errors.New("unknown driver")
)

package central

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a peripheral or GATT resource is not known
type NotFoundError struct {
	Resource string   // "peripheral" or "characteristic"
	IDs      []string // e.g. [peripheralID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.IDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.IDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.IDs[len(e.IDs)-1], e.IDs[0])
}

// Is matches another NotFoundError of the same resource kind. A target without IDs
// (the sentinels below) matches any identifier.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	if t.Resource != e.Resource {
		return false
	}
	if len(t.IDs) == 0 {
		return true
	}
	return strings.Join(t.IDs, "/") == strings.Join(e.IDs, "/")
}

// ConnectionFailure is the specific kind of connection state failure
type ConnectionFailure string

const (
	NotConnected      ConnectionFailure = "not_connected"
	AlreadyConnected  ConnectionFailure = "already_connected"
	ConnectInProgress ConnectionFailure = "connect_in_progress"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	Failure ConnectionFailure
	Msg     string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Failure)
	}
	return fmt.Sprintf("%s: %s", e.Failure, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by Failure
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.Failure == t.Failure
}

// RadioError is returned when the radio cannot serve a request
type RadioError struct {
	State RadioState
}

func (e *RadioError) Error() string {
	return fmt.Sprintf("radio unavailable (%s)", e.State)
}

// Is matches ErrRadioUnavailable regardless of the reported state
func (e *RadioError) Is(target error) bool {
	_, ok := target.(*RadioError)
	return ok
}

// TimeoutError is returned when a bounded operation did not complete in time
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// Is matches ErrTimeout, and ErrConnectionTimeout or ErrOperationTimeout by operation
func (e *TimeoutError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return true
	case ErrConnectionTimeout:
		return e.Op == OpConnect
	case ErrOperationTimeout:
		return e.Op != OpConnect
	}
	return false
}

// Operation names used in timeout errors and logs
const (
	OpConnect    = "connect"
	OpDiscover   = "discover services"
	OpRead       = "read"
	OpWrite      = "write"
	OpNotify     = "set notify"
	OpDisconnect = "disconnect"
)

// Predefined sentinel errors
var (
	ErrRadioUnavailable       = &RadioError{}
	ErrDeviceNotFound         = &NotFoundError{Resource: "peripheral"}
	ErrCharacteristicNotFound = &NotFoundError{Resource: "characteristic"}
	ErrNotConnected           = &ConnectionError{Failure: NotConnected}
	ErrAlreadyConnected       = &ConnectionError{Failure: AlreadyConnected}
	ErrConnectInProgress      = &ConnectionError{Failure: ConnectInProgress}

	ErrTimeout           = errors.New("timeout")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrOperationTimeout  = errors.New("operation timeout")

	ErrUnsupported      = errors.New("unsupported")
	ErrScanInProgress   = errors.New("scan already in progress")
	ErrConnectCancelled = errors.New("connect cancelled by disconnect")
	ErrClosed           = errors.New("adapter closed")
)

// ErrorKind names an error category as reported to callers and in Error events
type ErrorKind string

const (
	KindRadioUnavailable       ErrorKind = "RadioUnavailable"
	KindDeviceNotFound         ErrorKind = "DeviceNotFound"
	KindConnectionTimeout      ErrorKind = "ConnectionTimeout"
	KindNotConnected           ErrorKind = "NotConnected"
	KindCharacteristicNotFound ErrorKind = "CharacteristicNotFound"
	KindOperationTimeout       ErrorKind = "OperationTimeout"
	KindUnknown                ErrorKind = "Unknown"
)

// KindOf classifies err into one of the error kinds
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRadioUnavailable):
		return KindRadioUnavailable
	case errors.Is(err, ErrDeviceNotFound):
		return KindDeviceNotFound
	case errors.Is(err, ErrConnectionTimeout):
		return KindConnectionTimeout
	case errors.Is(err, ErrOperationTimeout):
		return KindOperationTimeout
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, ErrCharacteristicNotFound):
		return KindCharacteristicNotFound
	default:
		return KindUnknown
	}
}

// IsConnectionFailure reports whether err is a ConnectionError with the given failure
func IsConnectionFailure(err error, failure ConnectionFailure) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.Failure == failure
	}
	return false
}

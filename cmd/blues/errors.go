package main

import (
	"errors"
	"fmt"

	"github.com/srg/blues/internal/central"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the peripheral dropped the link while a command was
	// using it. This is distinct from central.ErrNotConnected, which is returned when
	// an operation is attempted without a connection.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error into a message with a hint on what to do about it
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var rerr *central.RadioError
	var terr *central.TimeoutError

	switch {
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("%v (the peripheral went out of range or was switched off)", err)
	case errors.As(err, &rerr):
		switch rerr.State {
		case central.RadioPoweredOff:
			return "Bluetooth is turned off. Turn it on and try again."
		case central.RadioUnauthorized:
			return "Bluetooth access is not authorized. Grant this terminal Bluetooth permission and try again."
		case central.RadioUnsupported:
			return "Bluetooth Low Energy is not supported on this machine."
		default:
			return fmt.Sprintf("Bluetooth is unavailable (%s).", rerr.State)
		}
	}

	switch central.KindOf(err) {
	case central.KindDeviceNotFound:
		return fmt.Sprintf("%v (make sure the peripheral is advertising and in range, or scan longer with --duration)", err)
	case central.KindConnectionTimeout:
		if errors.As(err, &terr) {
			return fmt.Sprintf("connection timed out after %s (raise connect_timeout or connect_retries in the config file)", terr.After)
		}
		return fmt.Sprintf("%v (raise connect_timeout in the config file)", err)
	case central.KindOperationTimeout:
		if errors.As(err, &terr) {
			return fmt.Sprintf("%s timed out after %s (raise operation_timeout in the config file)", terr.Op, terr.After)
		}
		return err.Error()
	case central.KindNotConnected:
		return fmt.Sprintf("%v (the peripheral is not connected)", err)
	case central.KindCharacteristicNotFound:
		return fmt.Sprintf("%v (run 'blues inspect <id>' to list the available characteristics)", err)
	}

	if errors.Is(err, central.ErrUnsupported) {
		return fmt.Sprintf("%v (check the characteristic properties with 'blues inspect <id>')", err)
	}
	return err.Error()
}

package goble

import (
	"fmt"
	"strings"

	"github.com/srg/blues/internal/central"
)

// NormalizeError maps known go-ble error strings to the adapter's error types.
// The original error stays in the message; unknown errors pass through unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?",
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", &central.RadioError{State: central.RadioPoweredOff}, err)
	case containsIgnoreCase(msg, "have=3 want=5"), containsIgnoreCase(msg, "unauthorized"):
		return fmt.Errorf("%w: %v", &central.RadioError{State: central.RadioUnauthorized}, err)
	case containsIgnoreCase(msg, "have=2 want=5"):
		return fmt.Errorf("%w: %v", &central.RadioError{State: central.RadioUnsupported}, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", central.ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", central.ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", central.ErrNotConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/srg/blues/internal/central"
	"golang.org/x/term"
)

var validFormats = []string{"table", "json"}

func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// formatHex renders bytes as space separated hex pairs
func formatHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("% x", data))
}

// parseData decodes command line payloads. Hex input may use spaces, colons,
// dashes and 0x prefixes as separators.
func parseData(s string, isHex bool) ([]byte, error) {
	if !isHex {
		return []byte(s), nil
	}
	cleaned := strings.ReplaceAll(s, "0x", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")

	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

// eventRecord is the JSON shape of an event
type eventRecord struct {
	Seq            uint64 `json:"seq"`
	Time           string `json:"time"`
	Kind           string `json:"kind"`
	Peripheral     string `json:"peripheral,omitempty"`
	Name           string `json:"name,omitempty"`
	RSSI           *int   `json:"rssi,omitempty"`
	State          string `json:"state,omitempty"`
	Service        string `json:"service,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Value          string `json:"value,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	Error          string `json:"error,omitempty"`
}

func newEventRecord(e central.Event) eventRecord {
	r := eventRecord{
		Seq:        e.Seq,
		Time:       e.Time.Format(time.RFC3339Nano),
		Kind:       e.Kind.String(),
		Peripheral: e.PeripheralID,
	}
	switch e.Kind {
	case central.EventDeviceDiscovered:
		if e.Peripheral != nil {
			rssi := e.Peripheral.RSSI
			r.Name = e.Peripheral.Name
			r.RSSI = &rssi
		}
	case central.EventConnectionStateChanged:
		r.State = e.State.String()
	case central.EventCharacteristicValueUpdated:
		r.Service = e.ServiceUUID
		r.Characteristic = e.CharacteristicUUID
		r.Value = hex.EncodeToString(e.Value)
	case central.EventError:
		r.ErrorKind = string(e.ErrorKind())
		if e.Err != nil {
			r.Error = e.Err.Error()
		}
	}
	return r
}

// eventPrinter writes one line per event, colored on terminals, or one JSON object
// per line
type eventPrinter struct {
	w    io.Writer
	json bool

	discovered *color.Color
	state      *color.Color
	value      *color.Color
	failure    *color.Color
}

func newEventPrinter(w io.Writer, format string) *eventPrinter {
	p := &eventPrinter{
		w:          w,
		json:       format == "json",
		discovered: color.New(color.FgCyan),
		state:      color.New(color.FgYellow),
		value:      color.New(color.FgGreen),
		failure:    color.New(color.FgRed, color.Bold),
	}
	if !isTerminal(w) {
		for _, c := range []*color.Color{p.discovered, p.state, p.value, p.failure} {
			c.DisableColor()
		}
	}
	return p
}

// Print writes e
func (p *eventPrinter) Print(e central.Event) error {
	if p.json {
		data, err := json.Marshal(newEventRecord(e))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.w, string(data))
		return err
	}

	var line string
	switch e.Kind {
	case central.EventDeviceDiscovered:
		name, rssi := e.PeripheralID, 0
		if e.Peripheral != nil {
			name, rssi = e.Peripheral.DisplayName(), e.Peripheral.RSSI
		}
		line = p.discovered.Sprintf("%-10s %s %s rssi=%d", "discovered", e.PeripheralID, name, rssi)
	case central.EventConnectionStateChanged:
		line = p.state.Sprintf("%-10s %s %s", "state", e.PeripheralID, e.State)
	case central.EventCharacteristicValueUpdated:
		line = p.value.Sprintf("%-10s %s %s/%s %s", "value", e.PeripheralID, e.ServiceUUID, e.CharacteristicUUID, formatHex(e.Value))
	case central.EventError:
		line = p.failure.Sprintf("%-10s %s [%s] %v", "error", e.PeripheralID, e.ErrorKind(), e.Err)
	default:
		line = e.String()
	}
	_, err := fmt.Fprintf(p.w, "#%d %s\n", e.Seq, line)
	return err
}

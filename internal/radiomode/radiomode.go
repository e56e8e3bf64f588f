// Package radiomode holds the firmware-to-PHY lookup table described in
// spec §4.B: for a given firmware ID and radio-mode index it yields the PHY
// ID and base frequency the dongle needs, plus the coarse protocol/PHY-type
// tags the capture-record builder stamps into the TI vendor header.
package radiomode

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedMode is returned when a (firmware, radio-mode) pair has no
// PHY entry on this board (table value 0xFF).
var ErrUnsupportedMode = errors.New("radiomode: mode not supported on this firmware")

// ErrUnknownFirmware is returned when a ping response carries a firmware ID
// absent from fwTable.
var ErrUnknownFirmware = errors.New("radiomode: unrecognized firmware id")

// ErrInvalidChannelForMode is returned by FinalFrequency when the channel is
// outside the range the radio-mode formula accepts.
var ErrInvalidChannelForMode = errors.New("radiomode: invalid channel for radio mode")

const unsupported = 0xFF

// Entry is one cell of the lookup table: the PHY identifier the firmware
// expects in a set-phy command, and the base frequency (MHz) the
// set-frequency formula starts from.
type Entry struct {
	PHY      byte
	BaseFreq float64
}

const numModes = 22

// table is indexed [firmwareRow][radioMode]. Transcribed verbatim from the
// board's phy_table_entry matrix, sentinels (0xFF) and "maybe present, TI
// docs might be wrong" uncertainty included — these are not bugs to fix.
var table = [6][numModes]Entry{
	{ // row 0: LP-CC1352PX
		{0x00, f868}, {0x00, f915}, {0x01, f433}, {0x02, f868}, {0x02, f915},
		{0x03, f433}, {0x04, f868}, {0x05, f915}, {0x06, f868}, {0x07, f915},
		{0x08, f868}, {0x09, f915}, {0x0A, f915}, {0x0B, f868}, {0x0C, f868},
		{0x0D, f915}, {0x0E, f868}, {0x0F, f433}, {0x10, f868}, {0x11, f433},
		{0x12, f2405}, {0x13, f2405},
	},
	{ // row 1: LP-CC1312R1
		{0x00, f868}, {0x00, f915}, {unsupported, 0}, {0x01, f868}, {0x01, f915},
		{unsupported, 0}, {0x02, f868}, {0x03, f915}, {0x04, f868}, {0x05, f915},
		{0x06, f868}, {0x07, f915}, {0x08, f915}, {0x09, f868}, {0x0A, f868},
		{unsupported, 0}, // ieee_915: maybe present, TI docs might be wrong
		{0x0B, f868}, {unsupported, 0}, {0x0C, f868}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0},
	},
	{ // row 2: LP-CC1352R1
		{0x00, f868}, {0x00, f915}, {unsupported, 0}, {0x01, f868}, {0x01, f915},
		{unsupported, 0}, {0x02, f868}, {0x03, f915}, {0x04, f868}, {0x05, f915},
		{0x06, f868}, {0x07, f915}, {0x08, f915}, {0x09, f868}, {0x0A, f868},
		{unsupported, 0}, // ieee_915: maybe present, TI docs might be wrong
		{0x0B, f868}, {unsupported, 0}, {0x0C, f868}, {unsupported, 0},
		{0x0D, f2405}, {0x0E, f2405},
	},
	{ // row 3: LP-CC1350/LP-CC1310
		{0x00, f868}, {0x00, f915}, {0x01, f433},
		{0x04, f868}, // ieee_868_915_slr: 0x02 and 0x03 not supported
		{0x04, f915},
		{0x05, f433},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0},
		{unsupported, 0}, // ieee_915: maybe present, TI docs might be wrong
		{0x06, f868}, {0x07, f433},
		{0x09, f868}, // easyLink_868_915_slr: 0x08 not supported
		{0x0A, f433},
		{unsupported, 0}, {unsupported, 0},
	},
	{ // row 4: LP-CC26X2R1 / LP-CC26X2RB
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{0x00, f2405}, {0x01, f2405},
	},
	{ // row 5: LP-CC2650
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{unsupported, 0}, {unsupported, 0}, {unsupported, 0}, {unsupported, 0},
		{0x00, f2405}, {unsupported, 0},
	},
}

const (
	f433  = 433
	f868  = 868
	f915  = 915
	f2405 = 2405
)

// fwTable lists the firmware IDs a ping response may report.
var fwTable = [7]byte{0x00, 0x20, 0x21, 0x22, 0x30, 0x40, 0x50}

// fwToRow associates each fwTable entry with its row in table by index.
var fwToRow = [7]int{3, 5, 4, 4, 2, 1, 0}

// Protocol tags stamped into the TI vendor header's protocol byte.
const (
	ProtocolGeneric     byte = 0
	ProtocolIEEE802154G byte = 1
	ProtocolIEEE802154  byte = 2
	ProtocolBLE         byte = 3
	ProtocolWBMS        byte = 4
)

// PHY-type tags stamped into the TI vendor header's PHY-type byte.
const (
	PHYTypeUnused               byte = 0
	PHYType50KbpsGFSK           byte = 1
	PHYTypeSLR                  byte = 2
	PHYTypeOQPSK                byte = 3
	PHYType200KbpsGFSK          byte = 4
	PHYTypeBLE                  byte = 5
	PHYTypeWBMS                 byte = 6
	PHYType50KbpsGFSKWiSUN1A    byte = 7
	PHYType50KbpsGFSKWiSUN1B    byte = 8
	PHYType100KbpsGFSKWiSUN2A   byte = 9
	PHYType100KbpsGFSKWiSUN2B   byte = 10
	PHYType150KbpsGFSKWiSUN3    byte = 11
	PHYType200KbpsGFSKWiSUN4A   byte = 12
	PHYType200KbpsGFSKWiSUN4B   byte = 13
	PHYType100KbpsGFSKZigbeeR23 byte = 14
	PHYType500KbpsGFSKZigbeeR23 byte = 15
)

// RowForFirmware maps a ping-reported firmware ID to its table row.
func RowForFirmware(fwID byte) (int, error) {
	for i, id := range fwTable {
		if id == fwID {
			return fwToRow[i], nil
		}
	}
	return 0, fmt.Errorf("%w: 0x%02X", ErrUnknownFirmware, fwID)
}

// FirmwareRows reports how many firmware rows the table carries, for
// callers (such as --list_modes) that need to iterate the whole table
// without reaching into its unexported storage.
func FirmwareRows() int { return len(table) }

// NumModes reports how many radio-mode columns the table carries.
func NumModes() int { return numModes }

// Lookup returns the PHY/frequency entry for a firmware row and radio mode.
func Lookup(firmwareRow int, mode byte) (Entry, error) {
	if int(mode) >= numModes {
		return Entry{}, fmt.Errorf("%w: mode %d", ErrUnsupportedMode, mode)
	}
	e := table[firmwareRow][mode]
	if e.PHY == unsupported {
		return Entry{}, fmt.Errorf("%w: mode %d on firmware row %d", ErrUnsupportedMode, mode, firmwareRow)
	}
	return e, nil
}

// ProtocolTag returns the coarse protocol classification for a radio mode.
//
// TODO: Check each and every value. Only ProtocolIEEE802154 (mode 20) and
// ProtocolBLE (mode 21) are verified against real hardware.
func ProtocolTag(mode byte) byte {
	switch {
	case mode <= 15:
		return ProtocolIEEE802154G
	case mode >= 16 && mode <= 19:
		return ProtocolGeneric
	case mode == 20:
		return ProtocolIEEE802154
	case mode == 21:
		return ProtocolBLE
	default:
		return ProtocolGeneric
	}
}

// PHYTypeTag returns the coarse PHY-type classification for a radio mode.
//
// TODO: Check each and every value. Only PHYTypeOQPSK (mode 20) and
// PHYTypeBLE (mode 21) are verified against real hardware.
func PHYTypeTag(mode byte) byte {
	switch mode {
	case 0, 1, 2:
		return PHYType50KbpsGFSK
	case 3, 4, 5:
		return PHYTypeSLR
	case 6:
		return PHYType50KbpsGFSKWiSUN1A
	case 7:
		return PHYType50KbpsGFSKWiSUN1B
	case 8:
		return PHYType100KbpsGFSKWiSUN2A
	case 9:
		return PHYType100KbpsGFSKWiSUN2B
	case 10:
		return PHYType150KbpsGFSKWiSUN3
	case 11:
		return PHYType200KbpsGFSKWiSUN4A
	case 12:
		return PHYType200KbpsGFSKWiSUN4B
	case 13:
		return PHYType100KbpsGFSKZigbeeR23
	case 14:
		return PHYType500KbpsGFSKZigbeeR23
	case 15:
		return PHYType200KbpsGFSK
	case 16, 17:
		return PHYType50KbpsGFSK
	case 18, 19:
		return PHYTypeSLR
	case 20:
		return PHYTypeOQPSK
	case 21:
		return PHYTypeBLE
	default:
		return PHYTypeUnused
	}
}

// FinalFrequency applies the per-radio-mode channel formula. Values and
// ranges are taken from the SmartRF Packet Sniffer 2 tables; only modes 20
// (802.15.4 2.4GHz) and 21 (BLE) are tested against real hardware.
func FinalFrequency(mode byte, baseFreq float64, channel int) (float64, error) {
	invalid := func() (float64, error) {
		return 0, fmt.Errorf("%w: mode %d channel %d", ErrInvalidChannelForMode, mode, channel)
	}
	switch mode {
	case 0, 3:
		if channel < 0 || channel > 128 {
			return invalid()
		}
		return 902.2 + float64(channel)*0.2, nil
	case 1, 4:
		if channel < 0 || channel > 33 {
			return invalid()
		}
		return 863.125 + float64(channel)*0.2, nil
	case 2, 5:
		if channel < 0 || channel > 6 {
			return invalid()
		}
		return 433.3 + float64(channel)*0.2, nil
	case 6:
		if channel < 0 || channel > 128 {
			return invalid()
		}
		return 863.1 + float64(channel)*0.1, nil
	case 7, 9:
		if channel < 0 || channel > 128 {
			return invalid()
		}
		return 902.2 + float64(channel)*0.2, nil
	case 8, 10:
		if channel < 0 || channel > 128 {
			return invalid()
		}
		return 863.1 + float64(channel)*0.2, nil
	case 11:
		if channel < 0 || channel > 128 {
			return invalid()
		}
		return 902.4 + float64(channel)*0.4, nil
	case 12:
		if channel < 0 || channel > 128 {
			return invalid()
		}
		return 920.8 + float64(channel)*0.6, nil
	case 13, 14:
		if channel < 0 || channel > 128 {
			return invalid()
		}
		return 863.1 + float64(channel)*0.2, nil
	case 15:
		if channel < 0 || channel > 63 {
			return invalid()
		}
		return 902.4 + float64(channel)*0.4, nil
	case 16:
		if channel != 0 {
			return invalid()
		}
		return 863.125, nil
	case 17:
		if channel != 0 {
			return invalid()
		}
		return 433.3, nil
	case 18:
		if channel != 0 {
			return invalid()
		}
		return 863.125, nil
	case 19:
		if channel != 0 {
			return invalid()
		}
		return 433.3, nil
	case 20:
		if channel < 11 || channel > 26 {
			return invalid()
		}
		return 2405 + float64(channel-11)*5, nil
	case 21:
		switch channel {
		case 37:
			return 2402, nil
		case 38:
			return 2426, nil
		case 39:
			return 2480, nil
		default:
			return invalid()
		}
	default:
		return baseFreq, nil
	}
}

// PackFrequency converts a frequency in MHz to the dongle's little-endian
// [int_lo, int_hi, frac_lo, frac_hi] wire form, where frac is the fractional
// MHz scaled to a 16-bit fixed-point fraction.
func PackFrequency(freqMHz float64) [4]byte {
	freqInt := uint32(freqMHz)
	freqFrac := uint32((freqMHz - float64(freqInt)) * 65536)
	return [4]byte{
		byte(freqInt & 0xFF),
		byte((freqInt >> 8) & 0xFF),
		byte(freqFrac & 0xFF),
		byte((freqFrac >> 8) & 0xFF),
	}
}

// UnpackFrequency reverses PackFrequency, for tests and diagnostics.
func UnpackFrequency(packed [4]byte) float64 {
	freqInt := uint32(packed[0]) | uint32(packed[1])<<8
	freqFrac := uint32(packed[2]) | uint32(packed[3])<<8
	return float64(freqInt) + float64(freqFrac)/65536
}

// roundTripTolerance is the ±1 ULP of the 16-bit fraction allowed by the
// §8 pack/unpack invariant.
const roundTripTolerance = 1.0 / 65536

// RoundTrips reports whether packing then unpacking freq reproduces it
// within the tolerance the fixed-point fraction allows.
func RoundTrips(freqMHz float64) bool {
	got := UnpackFrequency(PackFrequency(freqMHz))
	return math.Abs(got-freqMHz) <= roundTripTolerance
}

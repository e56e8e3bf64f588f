// Package wire implements the host side of the dongle's serial command
// protocol: outbound frame assembly, the inbound byte-oriented receive state
// machine, and the checksum the firmware expects on both directions.
package wire

import "fmt"

const (
	sof1 = 0x40
	sof2 = 0x53
	eof1 = 0x40
	eof2 = 0x45
)

// Command info bytes understood by the firmware.
const (
	InfoPing         byte = 0x40
	InfoStart        byte = 0x41
	InfoStop         byte = 0x42
	InfoSetFrequency byte = 0x45
	InfoSetPHY       byte = 0x47
)

// Response info bytes the firmware sends back.
const (
	InfoCommandAck byte = 0x80
	InfoStreamData byte = 0xC0
)

// Checksum computes the single-byte FCS: the low byte of the sum of info,
// the two length bytes, and every data byte.
func Checksum(info, lenLo, lenHi byte, data []byte) byte {
	sum := int(info) + int(lenLo) + int(lenHi)
	for _, b := range data {
		sum += int(b)
	}
	return byte(sum & 0xFF)
}

// BuildCommand assembles an outbound frame: SOF, info, little-endian length,
// data, fcs, EOF.
func BuildCommand(info byte, data []byte) []byte {
	if len(data) == 0 {
		return BuildCommandNoData(info)
	}
	lenLo := byte(len(data) & 0xFF)
	lenHi := byte((len(data) >> 8) & 0xFF)
	fcs := Checksum(info, lenLo, lenHi, data)

	frame := make([]byte, 0, 8+len(data))
	frame = append(frame, sof1, sof2, info, lenLo, lenHi)
	frame = append(frame, data...)
	frame = append(frame, fcs, eof1, eof2)
	return frame
}

// BuildCommandNoData is the zero-data overload: len is written as 0x0000 and
// fcs degenerates to just the info byte.
func BuildCommandNoData(info byte) []byte {
	return []byte{sof1, sof2, info, 0x00, 0x00, info, eof1, eof2}
}

// Ping builds the ping command (info 0x40).
func Ping() []byte { return BuildCommandNoData(InfoPing) }

// Start builds the start-streaming command (info 0x41).
func Start() []byte { return BuildCommandNoData(InfoStart) }

// Stop builds the stop command (info 0x42).
func Stop() []byte { return BuildCommandNoData(InfoStop) }

// SetFrequency builds the set-frequency command (info 0x45) from an already
// packed 4-byte little-endian frequency.
func SetFrequency(packed [4]byte) []byte {
	return BuildCommand(InfoSetFrequency, packed[:])
}

// SetPHY builds the set-phy command (info 0x47).
func SetPHY(phyID byte) []byte {
	return BuildCommand(InfoSetPHY, []byte{phyID})
}

// ResponseKind classifies a decoded frame's info byte.
type ResponseKind int

const (
	// ResponseUnexpected covers any info byte that is neither a
	// command-ack-OK nor stream data.
	ResponseUnexpected ResponseKind = iota
	ResponseCommandAckOK
	ResponseStreamData
)

// ErrUnexpectedResponse is returned by Classify for anything that is not a
// command-ack-OK or a stream-data frame.
var ErrUnexpectedResponse = fmt.Errorf("wire: unexpected response")

// Classify inspects a fully decoded frame (info byte plus payload, where
// payload[0] is the status byte for command acks) and reports what kind of
// response it is.
func Classify(info byte, payload []byte) (ResponseKind, error) {
	switch {
	case info == InfoCommandAck && len(payload) > 0 && payload[0] == 0x00:
		return ResponseCommandAckOK, nil
	case info == InfoStreamData:
		return ResponseStreamData, nil
	default:
		return ResponseUnexpected, ErrUnexpectedResponse
	}
}

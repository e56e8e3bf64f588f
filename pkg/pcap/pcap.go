// Package pcap builds the vendor-compatible capture file format described in
// spec §4.E: a libpcap global header followed by per-packet records that
// wrap each radio frame in a fake IPv4/UDP/TI header stack, the format TI's
// own Wireshark dissector expects.
package pcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AcenoTecnologia/tuxniffer/internal/radiomode"
)

// timezoneSeconds is the fixed GMT-to-local correction the original tool
// hardcodes into the global header and the device-time anchor.
const timezoneSeconds = -10800

// fixedOverhead is the byte count of every record body field except the
// variable-length payload: ipv4(20) + udp(8) + ti(4) + protocol(1) +
// interface(2) + phy-type(1) + freq(4) + channel(2) + rssi(1) + fcs(1).
const fixedOverhead = 44

var (
	ipv4Template = [20]byte{0x45, 0x00, 0x00, 0x5B, 0x00, 0x00, 0x00, 0x00, 0x80, 0x11, 0xB7, 0x3B, 0xC0, 0xA8, 0x01, 0x03, 0xC0, 0xA8, 0x01, 0x03}
	udpTemplate  = [8]byte{0x45, 0x60, 0x45, 0x60, 0x00, 0x47, 0x1D, 0x82}
	tiTemplate   = [4]byte{0x00, 0x3C, 0x00, 0x00}
)

// ErrShortFrame is returned when a raw frame is too small to hold the
// length/timestamp/rssi/fcs fields the record parser expects.
var ErrShortFrame = errors.New("pcap: raw frame too short to parse")

// GlobalHeader returns the 24-byte libpcap global header: magic
// 0xA1B2C3D4, version 2.4, the fixed timezone offset, snaplen 65535, and
// network type 228 (the vendor's TI radio packet-info link type).
func GlobalHeader() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], 0xA1B2C3D4)
	binary.LittleEndian.PutUint16(buf[4:6], 2)
	binary.LittleEndian.PutUint16(buf[6:8], 4)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(int32(timezoneSeconds)))
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	binary.LittleEndian.PutUint32(buf[16:20], 65535)
	binary.LittleEndian.PutUint32(buf[20:24], 228)
	return buf
}

// deviceBody is the device-reported fields extracted from a raw frame's
// body, mirroring the original firmware's LENGTH|TIMESTAMP|?|DATA|RSSI|FCS
// layout.
type deviceBody struct {
	recordLength    int
	deviceTimestamp time.Duration
	payload         []byte
	rssi            byte
	fcs             byte
}

// parseDeviceBody parses a CapturedFrame.RawFrame body (SOF/info already
// stripped by the caller) per spec §4.E: length(2 LE), device_timestamp(6
// LE, µs), payload, rssi(1), fcs(1).
func parseDeviceBody(body []byte) (deviceBody, error) {
	// 2 (length) + 6 (timestamp) + 1 (unaccounted byte, see below) + 1
	// (rssi) + 1 (fcs) is the minimum frame even with a zero-length payload.
	if len(body) < 11 {
		return deviceBody{}, ErrShortFrame
	}

	recordLength := int(body[0]) | int(body[1])<<8

	var ts uint64
	for i := 0; i < 6; i++ {
		ts |= uint64(body[2+i]) << (8 * i)
	}

	// body[8] sits between the timestamp and the payload; the firmware's own
	// length accounting includes it, but it carries no data the dissector
	// consumes, hence payload_length = record_length - 9 rather than - 8.
	payload := body[9 : len(body)-2]
	rssi := body[len(body)-2]
	fcs := body[len(body)-1]

	return deviceBody{
		recordLength:    recordLength,
		deviceTimestamp: time.Duration(ts) * time.Microsecond,
		payload:         payload,
		rssi:            rssi,
		fcs:             fcs,
	}, nil
}

// interfaceNumber extracts the trailing integer from a port label (e.g.
// "/dev/ttyACM2" → 2), stripping every non-digit; an empty result is 0.
func interfaceNumber(portLabel string) int {
	var digits strings.Builder
	for _, r := range portLabel {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n := 0
	for _, r := range digits.String() {
		n = n*10 + int(r-'0')
	}
	return n
}

// RecordHeader returns the 16-byte per-packet pcap record header: ts_sec
// and ts_usec derived from systemAnchor + the frame's device timestamp,
// and incl_len = orig_len = fixedOverhead + payload length.
func RecordHeader(rawFrame []byte, systemAnchor time.Time) ([]byte, error) {
	body, err := bodyOf(rawFrame)
	if err != nil {
		return nil, err
	}
	dev, err := parseDeviceBody(body)
	if err != nil {
		return nil, err
	}

	ts := systemAnchor.Add(dev.deviceTimestamp)
	tsSec := uint32(ts.Unix())
	tsUsec := uint32(ts.Nanosecond() / 1000)

	totalLen := uint32(fixedOverhead + len(dev.payload))

	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], tsSec)
	binary.LittleEndian.PutUint32(buf[4:8], tsUsec)
	binary.LittleEndian.PutUint32(buf[8:12], totalLen)
	binary.LittleEndian.PutUint32(buf[12:16], totalLen)
	return buf, nil
}

// bodyOf strips SOF(2)/info(1) from the front and EOF(2) from the back of
// a raw wire frame, leaving length/timestamp/payload/rssi/fcs.
func bodyOf(rawFrame []byte) ([]byte, error) {
	if len(rawFrame) < 5 {
		return nil, ErrShortFrame
	}
	return rawFrame[3 : len(rawFrame)-2], nil
}

// RecordBody assembles the per-packet record body per spec §4.E's ordered
// field list: ipv4/udp/ti templates (with length fields patched), protocol
// tag, interface number, PHY-type tag, packed frequency, channel, rssi,
// fcs, payload. firmwareRow is the table row resolved at device init time
// (device.CapturedFrame.FirmwareRow), needed to recover the mode's base
// frequency for the packed-frequency field.
func RecordBody(rawFrame []byte, mode byte, channel int, portLabel string, firmwareRow int) ([]byte, error) {
	body, err := bodyOf(rawFrame)
	if err != nil {
		return nil, err
	}
	dev, err := parseDeviceBody(body)
	if err != nil {
		return nil, err
	}

	entry, err := radiomode.Lookup(firmwareRow, mode)
	if err != nil {
		return nil, fmt.Errorf("pcap: record body: %w", err)
	}
	freq, err := radiomode.FinalFrequency(mode, entry.BaseFreq, channel)
	if err != nil {
		return nil, fmt.Errorf("pcap: record body: %w", err)
	}
	packedFreq := radiomode.PackFrequency(freq)

	totalLen := fixedOverhead + len(dev.payload)

	out := make([]byte, 0, totalLen)

	ip := ipv4Template
	ip[2] = byte(totalLen >> 8)
	ip[3] = byte(totalLen & 0xFF)
	out = append(out, ip[:]...)

	udp := udpTemplate
	udpLen := totalLen - 20
	udp[4] = byte(udpLen >> 8)
	udp[5] = byte(udpLen & 0xFF)
	out = append(out, udp[:]...)

	out = append(out, tiTemplate[:]...)

	out = append(out, radiomode.ProtocolTag(mode))

	iface := interfaceNumber(portLabel)
	out = append(out, byte(iface>>8), byte(iface&0xFF))

	out = append(out, radiomode.PHYTypeTag(mode))

	out = append(out, packedFreq[:]...)

	out = append(out, byte(channel&0xFF), byte((channel>>8)&0xFF))

	out = append(out, dev.rssi, dev.fcs)
	out = append(out, dev.payload...)

	return out, nil
}

// BuildRecord is the convenience entry point the Output Coordinator uses:
// header and body for one CapturedFrame in a single call.
func BuildRecord(rawFrame []byte, mode byte, channel int, portLabel string, firmwareRow int, systemAnchor time.Time) (header, body []byte, err error) {
	header, err = RecordHeader(rawFrame, systemAnchor)
	if err != nil {
		return nil, nil, err
	}
	body, err = RecordBody(rawFrame, mode, channel, portLabel, firmwareRow)
	if err != nil {
		return nil, nil, err
	}
	return header, body, nil
}

// DeviceTimestamp extracts the 6-byte device-clock timestamp from a raw
// frame, used by the Output Coordinator to compute the system anchor from
// the first captured frame.
func DeviceTimestamp(rawFrame []byte) (time.Duration, error) {
	body, err := bodyOf(rawFrame)
	if err != nil {
		return 0, err
	}
	dev, err := parseDeviceBody(body)
	if err != nil {
		return 0, err
	}
	return dev.deviceTimestamp, nil
}

// TimezoneOffset is the fixed GMT-to-local correction applied when deriving
// the system anchor from a device timestamp (spec §4.F).
const TimezoneOffset = timezoneSeconds * time.Second

// Payload extracts a CapturedFrame's radio payload (after the vendor
// header's device-meta fields, before the device FCS), the slice the
// Output Coordinator offers to the Crypto Engine per spec §4.F.
func Payload(rawFrame []byte) ([]byte, error) {
	body, err := bodyOf(rawFrame)
	if err != nil {
		return nil, err
	}
	dev, err := parseDeviceBody(body)
	if err != nil {
		return nil, err
	}
	return dev.payload, nil
}

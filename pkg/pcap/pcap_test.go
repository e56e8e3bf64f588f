package pcap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalHeaderFields(t *testing.T) {
	hdr := GlobalHeader()
	require.Len(t, hdr, 24)
	assert.Equal(t, []byte{0xD4, 0xC3, 0xB2, 0xA1}, hdr[0:4])
	assert.Equal(t, []byte{0x02, 0x00}, hdr[4:6])
	assert.Equal(t, []byte{0x04, 0x00}, hdr[6:8])
	assert.Equal(t, uint32(65535), le32(hdr[16:20]))
	assert.Equal(t, uint32(228), le32(hdr[20:24]))
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// fakeStreamFrame builds a raw wire frame shaped like a §4.E stream-data
// frame: SOF, info, outer-length(2), ts(6), unknown(1), payload(N),
// rssi(1), wire-fcs(1), EOF. The record's "fcs" field is this single wire
// checksum byte, not a separate device-level field — stream-data frames
// never have their checksum validated (see the 0xC0 verify_response quirk).
func fakeStreamFrame(payload []byte, deviceTimestampMicros uint64) []byte {
	dataLen := 6 + 1 + len(payload) + 1 // timestamp + unknown + payload + rssi

	frame := make([]byte, 0, 3+2+dataLen+1+2)
	frame = append(frame, 0x40, 0x53, 0xC0) // SOF1, SOF2, info=stream-data
	frame = append(frame, byte(dataLen&0xFF), byte((dataLen>>8)&0xFF))
	for i := 0; i < 6; i++ {
		frame = append(frame, byte(deviceTimestampMicros>>(8*i)))
	}
	frame = append(frame, 0x00) // unaccounted byte
	frame = append(frame, payload...)
	frame = append(frame, 0xAA)       // rssi
	frame = append(frame, 0xBB)       // wire fcs, unvalidated for 0xC0 frames
	frame = append(frame, 0x40, 0x45) // EOF1, EOF2
	return frame
}

func TestRecordHeaderUsesDeviceTimestampOffsetFromAnchor(t *testing.T) {
	frame := fakeStreamFrame([]byte{0x01, 0x02, 0x03}, 2_000_000) // +2s
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	hdr, err := RecordHeader(frame, anchor)
	require.NoError(t, err)
	require.Len(t, hdr, 16)

	tsSec := le32(hdr[0:4])
	assert.Equal(t, uint32(anchor.Add(2*time.Second).Unix()), tsSec)

	inclLen := le32(hdr[8:12])
	origLen := le32(hdr[12:16])
	assert.Equal(t, inclLen, origLen)
	assert.Equal(t, uint32(fixedOverhead+3), inclLen)
}

func TestRecordBodyFieldOrder(t *testing.T) {
	payload := []byte{0x11, 0x22, 0x33, 0x44}
	frame := fakeStreamFrame(payload, 0)

	body, err := RecordBody(frame, 20, 20, "/dev/ttyACM3", 0)
	require.NoError(t, err)

	// ipv4(20) + udp(8) + ti(4) = 32 bytes before the protocol tag.
	assert.Equal(t, byte(2), body[32]) // ProtocolIEEE802154 for mode 20
	assert.Equal(t, byte(0), body[33])
	assert.Equal(t, byte(3), body[34]) // interface parsed from ttyACM3
	assert.Equal(t, byte(3), body[35]) // PHYTypeOQPSK for mode 20

	payloadStart := len(body) - len(payload)
	assert.Equal(t, payload, body[payloadStart:])
}

func TestRecordBodyRejectsUnsupportedMode(t *testing.T) {
	frame := fakeStreamFrame([]byte{0x01}, 0)
	_, err := RecordBody(frame, 2, 0, "/dev/ttyACM0", 1) // mode 2 unsupported on row 1
	assert.Error(t, err)
}

func TestPayloadExtractsRadioFrame(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	frame := fakeStreamFrame(payload, 0)

	got, err := Payload(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBuildCommandChecksum(t *testing.T) {
	frame := BuildCommand(InfoSetPHY, []byte{0x05})
	require.Len(t, frame, 9)
	assert.Equal(t, byte(sof1), frame[0])
	assert.Equal(t, byte(sof2), frame[1])
	assert.Equal(t, InfoSetPHY, frame[2])
	assert.Equal(t, byte(0x01), frame[3])
	assert.Equal(t, byte(0x00), frame[4])
	assert.Equal(t, byte(0x05), frame[5])
	assert.Equal(t, byte(InfoSetPHY+0x01+0x00+0x05), frame[6])
	assert.Equal(t, byte(eof1), frame[7])
	assert.Equal(t, byte(eof2), frame[8])
}

func TestBuildCommandNoDataUsesInfoAsFcs(t *testing.T) {
	frame := Ping()
	assert.Equal(t, []byte{sof1, sof2, InfoPing, 0x00, 0x00, InfoPing, eof1, eof2}, frame)
}

// TestFCSInvariant is the §8 universal invariant: for every emitted command
// byte-string, fcs == (info + len_lo + len_hi + sum(data)) & 0xFF.
func TestFCSInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		info := rapid.Byte().Draw(t, "info")
		data := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "data")

		frame := BuildCommand(info, data)
		lenLo, lenHi := frame[3], frame[4]
		want := Checksum(info, lenLo, lenHi, data)
		got := frame[5+len(data)]
		assert.Equal(t, want, got)
	})
}

func decodeAll(d *Decoder, bytes []byte) (successes int) {
	for _, b := range bytes {
		switch d.Feed(b) {
		case StateSuccess:
			successes++
			d.Recover()
		case StateError:
			d.Recover()
		}
	}
	return
}

func TestDecoderRoundTripsPingCommand(t *testing.T) {
	d := NewDecoder()
	frame := Ping()
	var success bool
	var got DecodedFrame
	for _, b := range frame {
		if d.Feed(b) == StateSuccess {
			success = true
			got = d.Frame
		}
	}
	require.True(t, success)
	assert.Equal(t, InfoPing, got.Info)
	assert.Empty(t, got.Data)
}

func TestDecoderRejectsFCSSentinelZero(t *testing.T) {
	d := NewDecoder()
	// A valid-shaped frame but with the FCS slot forced to the reject
	// sentinel 0x00.
	frame := []byte{sof1, sof2, 0x80, 0x01, 0x00, 0xAA, 0x00, eof1, eof2}
	var sawError bool
	var sawSuccess bool
	for _, b := range frame {
		switch d.Feed(b) {
		case StateError:
			sawError = true
		case StateSuccess:
			sawSuccess = true
		}
	}
	assert.True(t, sawError)
	assert.False(t, sawSuccess)
}

// TestResyncAfterGarbagePrefix is the §8 resync property: an arbitrary
// garbage prefix before a valid frame still leaves the decoder in Success
// after the frame is consumed.
func TestResyncAfterGarbagePrefix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		garbage := rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(t, "garbage")
		info := rapid.SampledFrom([]byte{InfoPing, InfoStart, InfoStop}).Draw(t, "info")

		d := NewDecoder()
		successCount := decodeAll(d, garbage)
		frame := BuildCommandNoData(info)
		successCount += decodeAll(d, frame)

		assert.Equal(t, 1, successCount)
	})
}

func TestClassify(t *testing.T) {
	kind, err := Classify(InfoCommandAck, []byte{0x00})
	require.NoError(t, err)
	assert.Equal(t, ResponseCommandAckOK, kind)

	kind, err = Classify(InfoStreamData, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, ResponseStreamData, kind)

	_, err = Classify(0xC1, nil)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	_, err = Classify(InfoCommandAck, []byte{0x01})
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

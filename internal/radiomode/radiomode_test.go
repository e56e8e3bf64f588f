package radiomode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRowForFirmwareKnownIDs(t *testing.T) {
	cases := []struct {
		fwID byte
		row  int
	}{
		{0x00, 3},
		{0x20, 5},
		{0x21, 4},
		{0x22, 4},
		{0x30, 2},
		{0x40, 1},
		{0x50, 0},
	}
	for _, c := range cases {
		row, err := RowForFirmware(c.fwID)
		require.NoError(t, err)
		assert.Equal(t, c.row, row)
	}
}

func TestRowForFirmwareUnknownID(t *testing.T) {
	_, err := RowForFirmware(0x99)
	assert.ErrorIs(t, err, ErrUnknownFirmware)
}

func TestLookupUnsupportedModeFails(t *testing.T) {
	// Row 1 (LP-CC1312R1), mode 2 (ieee_433) is 0xFF on that board.
	_, err := Lookup(1, 2)
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestLookupSupportedMode(t *testing.T) {
	entry, err := Lookup(0, 20)
	require.NoError(t, err)
	assert.Equal(t, byte(0x12), entry.PHY)
	assert.Equal(t, float64(2405), entry.BaseFreq)
}

func TestFinalFrequencyKnownPoints(t *testing.T) {
	freq, err := FinalFrequency(20, 0, 11)
	require.NoError(t, err)
	assert.Equal(t, 2405.0, freq)

	freq, err = FinalFrequency(21, 0, 37)
	require.NoError(t, err)
	assert.Equal(t, 2402.0, freq)

	freq, err = FinalFrequency(21, 0, 38)
	require.NoError(t, err)
	assert.Equal(t, 2426.0, freq)

	freq, err = FinalFrequency(21, 0, 39)
	require.NoError(t, err)
	assert.Equal(t, 2480.0, freq)
}

func TestFinalFrequencyRejectsOutOfRangeChannel(t *testing.T) {
	_, err := FinalFrequency(20, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidChannelForMode)

	_, err = FinalFrequency(21, 0, 40)
	assert.ErrorIs(t, err, ErrInvalidChannelForMode)

	_, err = FinalFrequency(16, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidChannelForMode)
}

// TestFrequencyRoundTrip is the §8 invariant: for valid frequencies,
// unpack(pack(freq)) reproduces freq to within ±1 ULP of the 16-bit
// fraction.
func TestFrequencyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mode := rapid.SampledFrom([]byte{0, 6, 11, 12, 15, 20, 21}).Draw(t, "mode")
		var channel int
		switch mode {
		case 0:
			channel = rapid.IntRange(0, 128).Draw(t, "channel")
		case 6, 11, 12:
			channel = rapid.IntRange(0, 128).Draw(t, "channel")
		case 15:
			channel = rapid.IntRange(0, 63).Draw(t, "channel")
		case 20:
			channel = rapid.IntRange(11, 26).Draw(t, "channel")
		case 21:
			channel = rapid.SampledFrom([]int{37, 38, 39}).Draw(t, "channel")
		}

		freq, err := FinalFrequency(mode, 0, channel)
		require.NoError(t, err)
		assert.True(t, RoundTrips(freq), "freq=%v", freq)
	})
}

func TestProtocolTagBoundaries(t *testing.T) {
	assert.Equal(t, ProtocolIEEE802154G, ProtocolTag(0))
	assert.Equal(t, ProtocolIEEE802154G, ProtocolTag(15))
	assert.Equal(t, ProtocolGeneric, ProtocolTag(16))
	assert.Equal(t, ProtocolGeneric, ProtocolTag(19))
	assert.Equal(t, ProtocolIEEE802154, ProtocolTag(20))
	assert.Equal(t, ProtocolBLE, ProtocolTag(21))
}

func TestPHYTypeTagBoundaries(t *testing.T) {
	assert.Equal(t, PHYTypeOQPSK, PHYTypeTag(20))
	assert.Equal(t, PHYTypeBLE, PHYTypeTag(21))
	assert.Equal(t, PHYTypeUnused, PHYTypeTag(22))
}

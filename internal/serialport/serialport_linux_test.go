//go:build linux

package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationsFailBeforeConnect(t *testing.T) {
	p := New("/dev/null-not-a-real-port")

	assert.ErrorIs(t, p.WriteAll([]byte{0x01}), ErrNotOpen)
	assert.ErrorIs(t, p.FlushTx(), ErrNotOpen)
	assert.ErrorIs(t, p.Purge(), ErrNotOpen)

	_, status, err := p.ReadByte()
	assert.Equal(t, Closed, status)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestExistsReportsMissingDevice(t *testing.T) {
	p := New("/dev/this-path-should-not-exist-tuxniffer")
	assert.False(t, p.Exists())
}

func TestDisconnectBeforeConnectIsNoop(t *testing.T) {
	p := New("/dev/null-not-a-real-port")
	assert.NoError(t, p.Disconnect())
}

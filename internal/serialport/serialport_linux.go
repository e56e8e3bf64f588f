//go:build linux

// Package serialport wraps the raw syscalls needed to talk to a TI dongle
// over a USB-CDC serial port: opening it with no controlling terminal,
// programming 8-N-1 at the dongle's fixed 3,000,000 baud custom rate via
// termios2/BOTHER, and non-blocking byte-at-a-time reads.
package serialport

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// customBaud is the dongle's fixed, non-standard baud rate. It has no POSIX
// Bxxx constant, hence the termios2/BOTHER dance below.
const customBaud = 3_000_000

// ReadStatus is the outcome of a single non-blocking byte read.
type ReadStatus int

const (
	// Ready means a byte was read; see the b return value.
	Ready ReadStatus = iota
	// Empty means no data was available; the caller should try again later.
	Empty
	// Closed means the descriptor is no longer valid.
	Closed
)

// ErrNotOpen is returned by operations attempted before Connect or after
// Disconnect.
var ErrNotOpen = errors.New("serialport: not open")

// Port is one serial connection to a dongle.
type Port struct {
	path string
	fd   int
	open bool
}

// New returns a Port bound to the given device path (e.g. /dev/ttyACM0),
// not yet opened.
func New(path string) *Port {
	return &Port{path: path, fd: -1}
}

// Connect opens the port, detaches it from any controlling terminal, and
// programs 8-N-1 raw mode at the fixed custom baud rate.
func (p *Port) Connect() error {
	fd, err := unix.Open(p.path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("serialport: open %s: %w", p.path, err)
	}
	p.fd = fd
	p.open = true

	if err := p.configureRaw(); err != nil {
		unix.Close(fd)
		p.open = false
		p.fd = -1
		return err
	}
	return nil
}

// configureRaw sets 8-N-1, disables canonical mode/echo/signal generation,
// disables software and hardware flow control, disables output processing,
// and drives the line at customBaud via BOTHER since there is no standard
// Bxxx constant for it.
func (p *Port) configureRaw() error {
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS2)
	if err != nil {
		return fmt.Errorf("serialport: get termios2: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | unix.BOTHER
	t.Ispeed = customBaud
	t.Ospeed = customBaud
	// Non-canonical, fully non-blocking reads: the fd is already
	// O_NONBLOCK, VMIN/VTIME are irrelevant to that path but zeroed for
	// correctness if anything ever clears O_NONBLOCK.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS2, t); err != nil {
		return fmt.Errorf("serialport: set termios2: %w", err)
	}
	return nil
}

// Disconnect closes the underlying descriptor.
func (p *Port) Disconnect() error {
	if !p.open {
		return nil
	}
	err := unix.Close(p.fd)
	p.open = false
	p.fd = -1
	return err
}

// WriteAll writes the full buffer, looping past short writes.
func (p *Port) WriteAll(data []byte) error {
	if !p.open {
		return ErrNotOpen
	}
	for len(data) > 0 {
		n, err := unix.Write(p.fd, data)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("serialport: write: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// ReadByte performs one non-blocking single-byte read.
func (p *Port) ReadByte() (byte, ReadStatus, error) {
	if !p.open {
		return 0, Closed, ErrNotOpen
	}
	var buf [1]byte
	n, err := unix.Read(p.fd, buf[:])
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
		return 0, Empty, nil
	case err == unix.EIO || err == unix.ENXIO || err == unix.EBADF:
		return 0, Closed, err
	case err != nil:
		return 0, Empty, fmt.Errorf("serialport: read: %w", err)
	case n == 0:
		return 0, Closed, nil
	default:
		return buf[0], Ready, nil
	}
}

// FlushTx waits until all written output has been transmitted.
func (p *Port) FlushTx() error {
	if !p.open {
		return ErrNotOpen
	}
	return unix.IoctlTcdrain(p.fd)
}

// Purge discards any buffered input and output.
func (p *Port) Purge() error {
	if !p.open {
		return ErrNotOpen
	}
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIOFLUSH)
}

// Exists reports whether the port's device node is present.
func (p *Port) Exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

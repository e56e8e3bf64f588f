// Package device implements the per-dongle control-plane state machine
// described in spec §4.D: connect, initialize (stop/ping/configure), start,
// stream captured frames to a sink, and recover from a dropped link.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AcenoTecnologia/tuxniffer/internal/radiomode"
	"github.com/AcenoTecnologia/tuxniffer/internal/serialport"
	"github.com/AcenoTecnologia/tuxniffer/internal/signalstate"
	"github.com/AcenoTecnologia/tuxniffer/internal/wire"
)

// State is one node of the device lifecycle.
type State int

const (
	WaitingForCommand State = iota
	Stopped
	Started
)

func (s State) String() string {
	switch s {
	case WaitingForCommand:
		return "waiting_for_command"
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	default:
		return "unknown"
	}
}

const (
	idleTimeout      = 10 * time.Second
	reconnectBackoff = 10 * time.Second
)

// portConn is the slice of serialport.Port's behavior Device depends on.
// Narrowed to an interface so tests can drive the state machine against a
// fake transport instead of real hardware.
type portConn interface {
	Connect() error
	Disconnect() error
	WriteAll([]byte) error
	ReadByte() (byte, serialport.ReadStatus, error)
	Purge() error
}

// Errors surfaced by the controller. While streaming, ErrReadTimeout is
// retried and ErrLinkLost starts a reconnect; the others are not retried.
var (
	ErrNotStopped         = errors.New("device: must be stopped for this operation")
	ErrUnexpectedReply    = wire.ErrUnexpectedResponse
	ErrReadTimeout        = errors.New("device: no response within idle timeout")
	ErrLinkLost           = errors.New("device: serial link closed")
	ErrReconnectAbandoned = errors.New("device: reconnect abandoned on interrupt")
)

// CapturedFrame is one successfully framed response from a dongle (spec §3).
type CapturedFrame struct {
	DeviceID    int
	PortLabel   string
	Channel     int
	RadioMode   byte
	FirmwareRow int
	RawFrame    []byte
	WallTime    time.Time
}

// Sink receives frames emitted while streaming. The Output Coordinator
// (internal/output) implements this.
type Sink interface {
	Submit(CapturedFrame)
}

// Device owns one dongle's serial port, frame codec, and control state.
type Device struct {
	ID        int
	PortLabel string
	RadioMode byte
	Channel   int

	serial portConn
	dec    *wire.Decoder
	state  State

	firmwareRow int
	firmwareID  byte

	sink Sink
	log  *log.Logger
}

// New creates a device bound to a serial port path, not yet connected.
func New(id int, portLabel string, radioMode byte, channel int, sink Sink) *Device {
	return newWithPort(id, portLabel, radioMode, channel, sink, serialport.New(portLabel))
}

func newWithPort(id int, portLabel string, radioMode byte, channel int, sink Sink, port portConn) *Device {
	return &Device{
		ID:        id,
		PortLabel: portLabel,
		RadioMode: radioMode,
		Channel:   channel,
		serial:    port,
		dec:       wire.NewDecoder(),
		state:     WaitingForCommand,
		sink:      sink,
		log:       log.With("component", "device", "device_id", id, "port", portLabel),
	}
}

// State reports the device's current lifecycle state.
func (d *Device) State() State { return d.state }

// Connect opens the serial port.
func (d *Device) Connect() error {
	if err := d.serial.Connect(); err != nil {
		return fmt.Errorf("device[%d]: connect: %w", d.ID, err)
	}
	return nil
}

// Disconnect closes the serial port.
func (d *Device) Disconnect() error {
	return d.serial.Disconnect()
}

// Init runs stop, ping, then configure — the full bring-up sequence.
func (d *Device) Init() error {
	_ = d.serial.Purge()
	if err := d.Stop(); err != nil {
		return err
	}
	fwID, err := d.ping()
	if err != nil {
		return err
	}
	d.firmwareID = fwID
	return d.configure(fwID)
}

// Stop sends the stop command. Legal from any state.
func (d *Device) Stop() error {
	if err := d.sendAndVerify(wire.Stop()); err != nil {
		return fmt.Errorf("device[%d]: stop: %w", d.ID, err)
	}
	d.state = Stopped
	d.log.Debug("stopped")
	return nil
}

// ping sends the ping command and extracts the firmware ID from the board
// info payload (byte index 3 of the disassembled response).
func (d *Device) ping() (byte, error) {
	if d.state != Stopped {
		return 0, fmt.Errorf("device[%d]: ping: %w", d.ID, ErrNotStopped)
	}
	frame, err := d.sendAndReceive(wire.Ping())
	if err != nil {
		return 0, fmt.Errorf("device[%d]: ping: %w", d.ID, err)
	}
	if _, err := classify(frame); err != nil {
		return 0, fmt.Errorf("device[%d]: ping: %w", d.ID, err)
	}
	// frame.Data is [status_byte, board_info...]; board_info[3] (the
	// firmware id) therefore sits at frame.Data[4].
	if len(frame.Data) < 7 {
		return 0, fmt.Errorf("device[%d]: ping: short board info payload", d.ID)
	}
	boardInfo := frame.Data[1:]
	fwID := boardInfo[3]
	d.log.Debug("pinged", "chip_id", fmt.Sprintf("%02x%02x", boardInfo[0], boardInfo[1]),
		"chip_rev", boardInfo[2], "fw_id", fwID, "fw_rev", fmt.Sprintf("%02x.%02x", boardInfo[4], boardInfo[5]))
	return fwID, nil
}

// configure issues set-phy then set-frequency using the device's configured
// radio mode/channel and the firmware row resolved from fwID.
func (d *Device) configure(fwID byte) error {
	if d.state != Stopped {
		return fmt.Errorf("device[%d]: configure: %w", d.ID, ErrNotStopped)
	}
	row, err := radiomode.RowForFirmware(fwID)
	if err != nil {
		return fmt.Errorf("device[%d]: configure: %w", d.ID, err)
	}
	d.firmwareRow = row

	entry, err := radiomode.Lookup(row, d.RadioMode)
	if err != nil {
		return fmt.Errorf("device[%d]: configure: radio mode %d not available on firmware 0x%02X: %w",
			d.ID, d.RadioMode, fwID, err)
	}

	if err := d.sendAndVerify(wire.SetPHY(entry.PHY)); err != nil {
		return fmt.Errorf("device[%d]: configure: set-phy: %w", d.ID, err)
	}
	d.log.Debug("set phy", "phy", entry.PHY)

	freq, err := radiomode.FinalFrequency(d.RadioMode, entry.BaseFreq, d.Channel)
	if err != nil {
		return fmt.Errorf("device[%d]: configure: %w", d.ID, err)
	}
	packed := radiomode.PackFrequency(freq)
	if err := d.sendAndVerify(wire.SetFrequency(packed)); err != nil {
		return fmt.Errorf("device[%d]: configure: set-frequency: %w", d.ID, err)
	}
	d.log.Debug("set frequency", "freq_mhz", freq, "channel", d.Channel)
	return nil
}

// Start sends the start-streaming command.
func (d *Device) Start() error {
	if err := d.sendAndVerify(wire.Start()); err != nil {
		return fmt.Errorf("device[%d]: start: %w", d.ID, err)
	}
	d.state = Started
	d.log.Info("started")
	return nil
}

// Stream runs the capture loop indefinitely, submitting frames to the sink
// until the global interrupt flag is set or reconnection is abandoned.
func (d *Device) Stream() error {
	return d.streamUntil(nil)
}

// StreamFor runs the capture loop until the given duration has elapsed. The
// deadline is checked between frames, so a read already in progress ends
// only when a frame arrives or the idle timeout expires.
func (d *Device) StreamFor(duration time.Duration) error {
	deadline := time.Now().Add(duration)
	return d.streamUntil(&deadline)
}

func (d *Device) streamUntil(deadline *time.Time) error {
	total := 0
	for {
		if deadline != nil && time.Now().After(*deadline) {
			return nil
		}
		frame, err := d.receiveFrame()
		if err != nil {
			if errors.Is(err, ErrLinkLost) {
				if !d.reconnect() {
					return ErrReconnectAbandoned
				}
				continue
			}
			if errors.Is(err, ErrReadTimeout) {
				if signalstate.Interrupted() {
					return nil
				}
				continue
			}
			continue
		}
		kind, err := classify(frame)
		if err != nil {
			continue
		}
		if kind == wire.ResponseStreamData {
			total++
			d.sink.Submit(CapturedFrame{
				DeviceID:    d.ID,
				PortLabel:   d.PortLabel,
				Channel:     d.Channel,
				RadioMode:   d.RadioMode,
				FirmwareRow: d.firmwareRow,
				RawFrame:    frame.Raw,
				WallTime:    time.Now(),
			})
		}
		if signalstate.Interrupted() {
			return nil
		}
	}
}

// reconnect disconnects, waits, then repeatedly attempts connect/init/start
// every reconnectBackoff until it succeeds or the interrupt flag is set.
func (d *Device) reconnect() bool {
	d.log.Warn("connection lost, reconnecting")
	_ = d.Disconnect()
	time.Sleep(reconnectBackoff)
	for {
		if err := d.Connect(); err == nil {
			if err := d.Init(); err == nil {
				if err := d.Start(); err == nil {
					d.log.Info("reconnected")
					return true
				}
			}
		}
		if signalstate.Interrupted() {
			return false
		}
		d.log.Warn("reconnect failed, retrying", "backoff", reconnectBackoff)
		time.Sleep(reconnectBackoff)
	}
}

// sendAndVerify writes a command and waits for an ack-OK or stream-data
// response, matching the original firmware's verify_response semantics
// (0xC0 frames are always accepted as "ok" even outside streaming, since
// the firmware can legitimately echo a queued capture mid-configure).
func (d *Device) sendAndVerify(command []byte) error {
	frame, err := d.sendAndReceive(command)
	if err != nil {
		return err
	}
	_, err = classify(frame)
	return err
}

func (d *Device) sendAndReceive(command []byte) (wire.DecodedFrame, error) {
	if err := d.serial.WriteAll(command); err != nil {
		return wire.DecodedFrame{}, err
	}
	return d.receiveFrame()
}

// receiveFrame feeds bytes to the frame codec until a frame completes or the
// idle timeout elapses.
func (d *Device) receiveFrame() (wire.DecodedFrame, error) {
	deadline := time.Now().Add(idleTimeout)
	for {
		b, status, err := d.serial.ReadByte()
		switch status {
		case serialport.Closed:
			return wire.DecodedFrame{}, ErrLinkLost
		case serialport.Empty:
			if err != nil {
				return wire.DecodedFrame{}, err
			}
			if time.Now().After(deadline) {
				return wire.DecodedFrame{}, ErrReadTimeout
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		switch d.dec.Feed(b) {
		case wire.StateSuccess:
			frame := d.dec.Frame
			d.dec.Recover()
			return frame, nil
		case wire.StateError:
			d.dec.Recover()
		}
		deadline = time.Now().Add(idleTimeout)
	}
}

// classify wraps wire.Classify with the status byte convention used for
// command acks (payload[0]).
func classify(frame wire.DecodedFrame) (wire.ResponseKind, error) {
	return wire.Classify(frame.Info, frame.Data)
}

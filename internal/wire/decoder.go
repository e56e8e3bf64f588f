package wire

// State is one node of the inbound frame receive state machine.
type State int

const (
	StateBOF1 State = iota
	StateBOF2
	StateInfo
	StateLength1
	StateLength2
	StateData
	StateFcs
	StateEOF1
	StateEOF2
	StateSuccess
	StateError
)

// Decoder is the per-byte receive state machine described in spec §4.A. It
// is fed one byte at a time and yields control back to the caller after
// every byte; it never looks ahead or re-scans discarded bytes.
type Decoder struct {
	state      State
	info       byte
	dataLength int
	lenLo      byte
	lenHi      byte
	data       []byte
	fcs        byte

	// Frame is the last successfully decoded frame, valid only immediately
	// after Feed returns StateSuccess.
	Frame DecodedFrame
}

// DecodedFrame is the structured result of one successful decode.
type DecodedFrame struct {
	Info byte
	Data []byte
	Fcs  byte
	// Raw is the entire SOF..EOF byte sequence, needed downstream to
	// reconstruct CapturedFrame.RawFrame verbatim.
	Raw []byte
}

// NewDecoder returns a decoder positioned at BOF1.
func NewDecoder() *Decoder {
	return &Decoder{state: StateBOF1}
}

// State returns the decoder's current state.
func (d *Decoder) State() State { return d.state }

// reset clears the accumulator and returns to BOF1. Per spec, no re-scan of
// discarded bytes: the caller simply keeps feeding bytes from where it left
// off.
func (d *Decoder) reset() {
	d.state = StateBOF1
	d.info = 0
	d.dataLength = 0
	d.lenLo = 0
	d.lenHi = 0
	d.data = d.data[:0]
	d.fcs = 0
}

// Feed advances the state machine by one byte and returns the resulting
// state. Callers should check for StateSuccess (a frame is ready in
// d.Frame) and StateError (no frame, try the next byte) after every call.
func (d *Decoder) Feed(b byte) State {
	switch d.state {
	case StateBOF1:
		if b == sof1 {
			d.state = StateBOF2
		} else {
			d.state = StateError
		}
	case StateBOF2:
		if b == sof2 {
			d.state = StateInfo
		} else {
			d.reset()
			d.state = StateError
		}
	case StateInfo:
		d.info = b
		d.state = StateLength1
		if b == 0xC0 {
			// Firmware quirk: preserved verbatim per spec §9(c), not
			// re-derived.
			d.dataLength--
		}
	case StateLength1:
		d.lenLo = b
		// Accumulate rather than assign: when the 0xC0 quirk above has
		// already nudged dataLength, this preserves that adjustment
		// through to the combined 16-bit value below.
		d.dataLength += int(b)
		d.state = StateLength2
	case StateLength2:
		d.lenHi = b
		d.dataLength = (int(b) << 8) | d.dataLength
		if d.dataLength <= 0 {
			d.state = StateFcs
		} else {
			d.data = make([]byte, 0, d.dataLength)
			d.state = StateData
		}
	case StateData:
		d.data = append(d.data, b)
		if len(d.data) >= d.dataLength {
			d.state = StateFcs
		}
	case StateFcs:
		if b == 0x00 {
			d.reset()
			d.state = StateError
		} else {
			d.fcs = b
			d.state = StateEOF1
		}
	case StateEOF1:
		if b == eof1 {
			d.state = StateEOF2
		} else {
			d.reset()
			d.state = StateError
		}
	case StateEOF2:
		if b == eof2 {
			d.Frame = d.buildFrame()
			d.state = StateSuccess
		} else {
			d.reset()
			d.state = StateError
		}
	case StateSuccess, StateError:
		// Caller is expected to call Recover() before feeding more bytes
		// once it has observed a terminal state; treat a stray Feed the
		// same as starting a fresh frame from this byte.
		d.reset()
		return d.Feed(b)
	}
	return d.state
}

// Recover moves a terminal decoder (Success or Error) back to BOF1 so the
// next byte begins a fresh frame.
func (d *Decoder) Recover() {
	if d.state == StateSuccess || d.state == StateError {
		d.reset()
	}
}

func (d *Decoder) buildFrame() DecodedFrame {
	raw := make([]byte, 0, 8+len(d.data))
	raw = append(raw, sof1, sof2, d.info, d.lenLo, d.lenHi)
	raw = append(raw, d.data...)
	raw = append(raw, d.fcs, eof1, eof2)

	dataCopy := make([]byte, len(d.data))
	copy(dataCopy, d.data)

	return DecodedFrame{Info: d.info, Data: dataCopy, Fcs: d.fcs, Raw: raw}
}

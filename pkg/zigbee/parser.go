// Package zigbee implements the Payload Parser and Crypto Engine (spec
// §4.H/§4.I): walking a captured MAC frame down through the Zigbee
// Network and Application Support layers to find an auxiliary security
// header, and decrypting/authenticating what it finds with CCM* once a
// candidate key is known.
package zigbee

import "errors"

// ErrNotDataFrame names the case where a frame's type field doesn't match
// the layer's expected "data" (or, for APS, "command") frame type — the
// original tool treats this as "nothing to extract here", not a parse
// failure. The header parsers in this package report that case through
// their ok result and do not return this error.
var ErrNotDataFrame = errors.New("zigbee: frame type mismatch")

// parseMACAddressing walks the MAC layer's Frame Control field and
// computes the byte offset where the MAC payload (the NWK layer) begins.
// Ported from PayloadHandler::parseAddressingInfo; only "data" frames
// (frame type 0b001) carry a NWK layer.
func parseMACAddressing(lowByte, highByte byte) (offset int, ok bool) {
	frameType := lowByte & 0b00000111
	if frameType != 0x01 {
		return 0, false
	}

	destAddrMode := (highByte & 0b00001100) >> 2
	srcAddrMode := (highByte & 0b11000000) >> 6
	panIDCompression := lowByte&0b01000000 != 0

	offset = 3 // Frame Control (2) + sequence number (1)

	switch destAddrMode {
	case 0x02:
		offset += 2
	case 0x03:
		offset += 8
	}

	if destAddrMode != 0x00 {
		offset += 2 // destination PAN ID
	}
	if !panIDCompression && srcAddrMode != 0x00 {
		offset += 2 // source PAN ID
	}

	switch srcAddrMode {
	case 0x02:
		offset += 2
	case 0x03:
		offset += 8
	}

	return offset, true
}

// GetNWKLayer extracts the Zigbee Network Layer from a MAC-layer payload,
// stripping the MAC addressing fields from the front and the MAC-layer FCS
// (2 bytes) from the back.
func GetNWKLayer(payload []byte) ([]byte, bool) {
	if len(payload) < 2 {
		return nil, false
	}
	offset, ok := parseMACAddressing(payload[0], payload[1])
	if !ok || len(payload) <= offset+3 {
		return nil, false
	}
	return payload[offset : len(payload)-2], true
}

// parseNWKHeader walks the Zigbee Network Layer header and reports the
// byte offset where the NWK payload begins, along with whether the NWK
// security bit is set. Ported from PayloadHandler::parseNwkHeader.
func parseNWKHeader(frame []byte) (offset int, securityEnabled bool, ok bool) {
	if len(frame) < 2 {
		return 0, false, false
	}

	fcLow := frame[0]
	fcHigh := frame[1]
	offset = 2

	frameType := fcLow & 0b00000011
	if frameType != 0x00 { // only data frames carry a payload we care about
		return 0, false, false
	}
	securityEnabled = fcHigh&0b00000010 != 0
	sourceRoute := fcHigh&0b00000100 != 0
	destIEEE := fcHigh&0b00001000 != 0
	srcIEEE := fcHigh&0b00010000 != 0

	// Destination (2) + source (2) network addresses, radius (1), sequence
	// number (1).
	need := offset + 6
	if len(frame) < need {
		return 0, false, false
	}
	offset = need

	if destIEEE {
		if len(frame) < offset+8 {
			return 0, false, false
		}
		offset += 8
	}
	if srcIEEE {
		if len(frame) < offset+8 {
			return 0, false, false
		}
		offset += 8
	}
	if sourceRoute {
		if len(frame) < offset+2 {
			return 0, false, false
		}
		relayCount := int(frame[offset])
		offset += 2
		relayListSize := relayCount * 2
		if len(frame) < offset+relayListSize {
			return 0, false, false
		}
		offset += relayListSize
	}

	return offset, securityEnabled, true
}

// ExtractNWKPayload splits a Zigbee Network Layer frame into its header
// and payload.
func ExtractNWKPayload(frame []byte) (payload, header []byte, securityEnabled bool, ok bool) {
	offset, sec, ok := parseNWKHeader(frame)
	if !ok {
		return nil, nil, false, false
	}
	return frame[offset:], frame[:offset], sec, true
}

// parseAPSHeader walks the Zigbee Application Support Layer header and
// reports the byte offset where the APS payload begins. Ported from
// PayloadHandler::parseApsHeader; extended headers are not supported, same
// as the original.
func parseAPSHeader(frame []byte) (offset int, securityEnabled bool, ok bool) {
	if len(frame) < 1 {
		return 0, false, false
	}

	fc := frame[0]
	frameType := fc & 0b00000011
	deliveryMode := (fc & 0b00001100) >> 2
	ack := fc&0b00010000 != 0
	securityEnabled = fc&0b00100000 != 0
	extendedHeader := fc&0b10000000 != 0

	if frameType != 0x01 { // only "command" frames carry a security header
		return 0, false, false
	}

	if ack {
		offset += 1 // source endpoint
		switch deliveryMode {
		case 0x00, 0x02:
			offset += 1 // destination endpoint
		case 0x03:
			offset += 2 // group address
		}
	}

	offset += 2 // frame control + counter

	if len(frame) < offset {
		return 0, false, false
	}
	if extendedHeader {
		return 0, false, false
	}
	return offset, securityEnabled, true
}

// ExtractAPSPayload splits a Zigbee Application Support Layer frame into
// its header and payload.
func ExtractAPSPayload(frame []byte) (payload, header []byte, securityEnabled bool, ok bool) {
	offset, sec, ok := parseAPSHeader(frame)
	if !ok {
		return nil, nil, false, false
	}
	return frame[offset:], frame[:offset], sec, true
}

// ExtractAuxPayload reads a layer's auxiliary security header (spec §4.5
// of the Zigbee spec) and returns the CCM* nonce, the still-to-be-decrypted
// payload, and — for the APS layer only — the key-hash discriminator byte
// the Crypto Engine needs to turn a link key into the per-message key.
// existingHeader is the layer header already extracted by ExtractNWKPayload/
// ExtractAPSPayload; the auxiliary header bytes are appended to it, and
// fcIndex reports where in the combined header the aux frame-control byte
// landed, since the decryption retry loop overwrites it with the true
// security level before each authentication attempt. Ported from
// PayloadHandler::extractAuxPayload.
func ExtractAuxPayload(frame []byte, existingHeader []byte, isNWKLayer bool) (payload, header, nonce, hashMsg []byte, fcIndex int, ok bool) {
	if len(frame) < 15 {
		return nil, nil, nil, nil, 0, false
	}

	frameControl := frame[0]
	keyID := (frameControl & 0b00011000) >> 3

	nonce = make([]byte, 0, 13)
	nonce = append(nonce, frame[5:13]...)
	nonce = append(nonce, frame[1:5]...)
	nonce = append(nonce, frameControl)

	offset := 13
	if isNWKLayer {
		if keyID != 0x01 {
			return nil, nil, nil, nil, 0, false
		}
		offset++
	} else {
		switch keyID {
		case 0x02:
			hashMsg = []byte{0x00}
		case 0x03:
			hashMsg = []byte{0x02}
		default:
			return nil, nil, nil, nil, 0, false
		}
	}

	payload = frame[offset:]

	fcIndex = len(existingHeader)
	header = make([]byte, 0, len(existingHeader)+offset)
	header = append(header, existingHeader...)
	header = append(header, frameControl)
	header = append(header, frame[1:offset]...)

	return payload, header, nonce, hashMsg, fcIndex, true
}

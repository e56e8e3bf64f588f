package zigbee

import "crypto/aes"

// encryptBlock runs one AES-128 ECB encryption: exactly one call to the
// block cipher's Encrypt, the primitive every other construction here
// (Matyas-Meyer-Oseas, HMAC-MMO, CCM*'s CBC-MAC and CTR keystream) is built
// from. Ported from CryptoHandler::encryptBlock, which does the same thing
// through OpenSSL's EVP with padding disabled.
func encryptBlock(input, key []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		// key is always either a 16-byte link/network key or a running
		// MMO hash state, both exactly aes.BlockSize long.
		panic(err)
	}
	out := make([]byte, aes.BlockSize)
	block.Encrypt(out, input)
	return out
}

// padMessageHash pads a message for Matyas-Meyer-Oseas per annex B.4 of
// the Zigbee specification: append a single 1 bit, zero-pad, then append
// the original bit length as a 16-bit field, or, for a "long" message
// (≥ 2^16 bits), as a 32-bit field followed by 16 zero bits.
func padMessageHash(message []byte, blockSize int) []byte {
	bitLen := len(message) * 8
	isLong := bitLen >= 65536

	var paddingSize int
	if !isLong {
		paddingSize = mod(7*blockSize-(bitLen+1), 8*blockSize)
	} else {
		paddingSize = mod(5*blockSize-(bitLen+1), 8*blockSize)
	}

	padded := append([]byte{}, message...)
	padded = append(padded, 0x80)

	paddingBytes := (paddingSize - 7) / 8
	padded = append(padded, make([]byte, paddingBytes)...)

	lengthSize := blockSize / 8
	if isLong {
		lengthSize = 2 * blockSize / 8
	}
	for i := 0; i < lengthSize; i++ {
		padded = append(padded, byte(bitLen>>(8*(lengthSize-1-i))))
	}
	if isLong {
		padded = append(padded, make([]byte, blockSize/8)...)
	}

	return padded
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// matyasMeyerOseas is the Davies-Meyer-family hash function Zigbee uses to
// turn a master key or HMAC input into a 16-byte digest, built entirely
// from the AES block primitive (annex B.4).
func matyasMeyerOseas(message []byte) []byte {
	const blockSize = 16
	padded := padMessageHash(message, blockSize)

	hash := make([]byte, blockSize)
	for j := 0; j < len(padded); j += blockSize {
		block := padded[j : j+blockSize]
		encrypted := encryptBlock(block, hash)
		for i := range hash {
			hash[i] = encrypted[i] ^ block[i]
		}
	}
	return hash
}

// hmacMMO is HMAC (FIPS 198-1) instantiated with matyasMeyerOseas as the
// underlying hash, per annex B.4 — used to derive the per-message key from
// a link key and a fixed discriminator byte.
func hmacMMO(key, message []byte) []byte {
	const blockSize = 16

	adjusted := append([]byte{}, key...)
	if len(adjusted) > blockSize {
		adjusted = matyasMeyerOseas(adjusted)
	}
	for len(adjusted) < blockSize {
		adjusted = append(adjusted, 0)
	}

	outerPad := make([]byte, blockSize)
	innerPad := make([]byte, blockSize)
	for i := 0; i < blockSize; i++ {
		outerPad[i] = 0x5C ^ adjusted[i]
		innerPad[i] = 0x36 ^ adjusted[i]
	}

	innerHash := matyasMeyerOseas(append(innerPad, message...))
	return matyasMeyerOseas(append(outerPad, innerHash...))
}

// formLengthString encodes the additional-data length field for CCM*
// authentication per annex A.2.1: empty for zero length, a 2-octet
// encoding for lengths below 0xFF00, else a 0xFFFE escape plus 4 octets.
func formLengthString(length int) []byte {
	switch {
	case length == 0:
		return nil
	case length < (1<<16)-(1<<8):
		return []byte{byte(length >> 8), byte(length)}
	default:
		l := make([]byte, 0, 6)
		l = append(l, 0xFF, 0xFE)
		for i := 3; i >= 0; i-- {
			l = append(l, byte(length>>(8*i)))
		}
		return l
	}
}

func padToBlockSize(input []byte, blockSize int) []byte {
	padded := append([]byte{}, input...)
	for len(padded)%blockSize != 0 {
		padded = append(padded, 0)
	}
	return padded
}

// authenticate computes the CCM* authentication tag (annex A.2.2): form
// B0 from the nonce and lengths, CBC-MAC over the additional data followed
// by the plaintext, and truncate to M bytes.
func authenticate(key, plaintext, additionalData, nonce []byte, m int) []byte {
	const blockSize = 16

	b0 := make([]byte, blockSize)
	adataFlag := byte(0)
	if len(additionalData) > 0 {
		adataFlag = 1
	}
	b0[0] = (adataFlag << 6) | byte((m-2)/2<<3) | byte(14-len(nonce))
	copy(b0[1:], nonce)
	l := len(plaintext)
	b0[blockSize-2] = byte(l >> 8)
	b0[blockSize-1] = byte(l)

	var addAuthData []byte
	if len(additionalData) > 0 {
		addAuthData = append(addAuthData, formLengthString(len(additionalData))...)
		addAuthData = append(addAuthData, additionalData...)
	}
	addAuthData = padToBlockSize(addAuthData, blockSize)

	authData := append(addAuthData, padToBlockSize(plaintext, blockSize)...)

	mac := encryptBlock(b0, key)
	for i := 0; i < len(authData); i += blockSize {
		block := authData[i : i+blockSize]
		for j := 0; j < blockSize; j++ {
			mac[j] ^= block[j]
		}
		mac = encryptBlock(mac, key)
	}

	return mac[:m]
}

// ccmCounterBlock builds CCM*'s counter block A_i for the given counter
// (A0 for the tag mask, A1, A2, ... for the keystream) from the nonce,
// used by both encrypt and decrypt.
func ccmCounterBlock(nonce []byte, counter uint16) []byte {
	const blockSize = 16
	a := make([]byte, blockSize)
	a[0] = byte(14 - len(nonce))
	copy(a[1:], nonce)
	a[blockSize-2] = byte(counter >> 8)
	a[blockSize-1] = byte(counter)
	return a
}

// ccmDecrypt reverses CCM* encryption and verifies the authentication tag
// (annex A.3): unmask the tag and ciphertext with the CTR keystream, then
// recompute the tag over the recovered plaintext and compare.
func ccmDecrypt(key, ciphertext, additionalData, nonce, authTag []byte, m int) ([]byte, bool) {
	if len(nonce) != 13 {
		return nil, false
	}
	const blockSize = 16

	s0 := encryptBlock(ccmCounterBlock(nonce, 0), key)
	tag := make([]byte, m)
	for i := 0; i < m; i++ {
		tag[i] = authTag[i] ^ s0[i]
	}

	plaintext := make([]byte, len(ciphertext))
	var keystream []byte
	for i := range ciphertext {
		if i%blockSize == 0 {
			counter := uint16(i/blockSize) + 1
			keystream = encryptBlock(ccmCounterBlock(nonce, counter), key)
		}
		plaintext[i] = ciphertext[i] ^ keystream[i%blockSize]
	}

	computed := authenticate(key, plaintext, additionalData, nonce, m)
	if !bytesEqual(computed, tag) {
		return nil, false
	}
	return plaintext, true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

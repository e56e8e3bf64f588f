package zigbee

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// defaultLinkKey is the well-known Zigbee Alliance pre-configured link key
// ("ZigBeeAlliance09" in ASCII), seeded into every KeyStore the same way
// CryptoHandler's constructor seeds link_keys[0].
var defaultLinkKey = []byte("ZigBeeAlliance09")

// KeyStore is the Crypto Engine and Key Store (spec §4.I/§4.J): it holds
// every link and network key learned so far, attempts to decrypt APS/NWK
// auxiliary frames against them, and harvests new keys out of Transport-Key
// commands. It implements output.KeyExtractor. Ported from CryptoHandler.
type KeyStore struct {
	mu       sync.Mutex
	linkKeys [][]byte
	nwkKeys  [][]byte

	// securityLevel is -1 until a successful decrypt pins it to 5, 6, or 7
	// (CCM*'s M values 4, 8, 16), mirroring CryptoHandler::security_level.
	securityLevel int
}

// NewKeyStore builds a KeyStore seeded with the standard Zigbee link key.
// securityLevel is -1 to probe levels 5/6/7 in order on the first
// successful decrypt, or one of 5/6/7 to fix it up front.
func NewKeyStore(securityLevel int) *KeyStore {
	return &KeyStore{
		linkKeys:      [][]byte{append([]byte{}, defaultLinkKey...)},
		securityLevel: securityLevel,
	}
}

// LinkKeyCount and NetworkKeyCount report the key store's current size,
// for read-only status reporting (internal/statusserver).
func (k *KeyStore) LinkKeyCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.linkKeys)
}

func (k *KeyStore) NetworkKeyCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.nwkKeys)
}

// levelToM maps a CCM* security level (5, 6, or 7) to its tag length M.
func levelToM(level int) int {
	switch level {
	case 5:
		return 4
	case 6:
		return 8
	case 7:
		return 16
	}
	return 0
}

// decryptLayer is the security-level retry loop ported from
// CryptoHandler::handle_decryption: when the level is unknown it tries
// 5, 6, and 7 in order, mutating the aux frame-control byte and nonce's
// last byte before each attempt the same way the original overwrites
// header[frameControlHeaderIndex] and nonce[12] in place.
func (k *KeyStore) decryptLayer(candidateKeys [][]byte, frame, existingHeader []byte, isNWKLayer bool) (plaintext []byte, learnedLevel int, ok bool) {
	payload, header, nonce, hashMsg, fcIndex, extracted := ExtractAuxPayload(frame, existingHeader, isNWKLayer)
	if !extracted {
		return nil, 0, false
	}

	authTagFor := func(m int) ([]byte, []byte) {
		return payload[:len(payload)-m], payload[len(payload)-m:]
	}

	tryLevel := func(key []byte, level int) ([]byte, bool) {
		m := levelToM(level)
		if len(payload) < m {
			return nil, false
		}
		ciphertext, tag := authTagFor(m)

		h := append([]byte{}, header...)
		h[fcIndex] += byte(level)
		n := append([]byte{}, nonce...)
		n[len(n)-1] += byte(level)

		return ccmDecrypt(key, ciphertext, h, n, tag, m)
	}

	for _, masterKey := range candidateKeys {
		key := masterKey
		if hashMsg != nil {
			key = hmacMMO(masterKey, hashMsg)
		}

		if k.securityLevel != -1 {
			if pt, good := tryLevel(key, k.securityLevel); good {
				return pt, k.securityLevel, true
			}
			continue
		}

		for _, level := range []int{5, 6, 7} {
			if pt, good := tryLevel(key, level); good {
				return pt, level, true
			}
		}
	}

	return nil, 0, false
}

// ExtractKey implements output.KeyExtractor. It walks a raw Zigbee payload
// down through NWK and APS, decrypting each secured layer against the known
// keys, and — on finding an APS Transport-Key command (0x05) — stores the
// new key it carries. Ported from CryptoHandler::extract_key.
func (k *KeyStore) ExtractKey(rawPayload []byte) bool {
	nwkFrame, ok := GetNWKLayer(rawPayload)
	if !ok {
		return false
	}

	apsLayer, nwkHeader, nwkSecured, ok := ExtractNWKPayload(nwkFrame)
	if !ok {
		return false
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if nwkSecured {
		plaintext, level, ok := k.decryptLayer(k.nwkKeys, apsLayer, nwkHeader, true)
		if !ok {
			return false
		}
		k.securityLevel = level
		apsLayer = plaintext
	}

	apsPayload, apsHeader, apsSecured, ok := ExtractAPSPayload(apsLayer)
	if !ok {
		return false
	}
	if !apsSecured {
		return false
	}

	plaintext, level, ok := k.decryptLayer(k.linkKeys, apsPayload, apsHeader, false)
	if !ok {
		return false
	}
	k.securityLevel = level

	if len(plaintext) < 18 || plaintext[0] != 0x05 {
		return false
	}
	key := append([]byte{}, plaintext[2:18]...)
	switch plaintext[1] {
	case 0x01:
		k.nwkKeys = append(k.nwkKeys, key)
	case 0x04:
		k.linkKeys = append(k.linkKeys, key)
	default:
		return false
	}
	return true
}

// SaveKeys implements output.KeyExtractor: writes every learned key, one
// per line in hex, under "Link Keys:"/"Network Keys:" headings. Ported
// from OutputManager::run's keyfile-writing block in the original.
func (k *KeyStore) SaveKeys(path string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("zigbee: save keys: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	fmt.Fprintln(w, "Link Keys:")
	if len(k.linkKeys) > 1 {
		for _, key := range k.linkKeys[1:] {
			fmt.Fprintf(w, "%x\n", key)
		}
	}

	fmt.Fprintln(w, "Network Keys:")
	for _, key := range k.nwkKeys {
		fmt.Fprintf(w, "%x\n", key)
	}

	return w.Flush()
}

package zigbee

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// buildSecuredAux constructs a valid auxiliary-secured payload the way a
// real transmitter would: it runs ExtractAuxPayload once (against zeroed
// ciphertext) to learn the exact header/nonce/fcIndex bytes decryptLayer
// will derive, then authenticates and CCM*-encrypts plaintext under those
// exact mutated header/nonce values for the requested security level.
func buildSecuredAux(t *testing.T, existingHeader []byte, key, plaintext []byte, level int) []byte {
	t.Helper()
	m := levelToM(level)

	frameControl := byte(0b00010000) // key ID = 0x02 (APS transport-key hash)
	addr4 := []byte{0x01, 0x02, 0x03, 0x04}
	addr8 := []byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18}

	placeholder := make([]byte, len(plaintext)+m)
	raw := append([]byte{frameControl}, addr4...)
	raw = append(raw, addr8...)
	raw = append(raw, placeholder...)

	_, header, nonce, hashMsg, fcIndex, ok := ExtractAuxPayload(raw, existingHeader, false)
	if !ok {
		t.Fatalf("setup: ExtractAuxPayload failed")
	}
	if hashMsg == nil || hashMsg[0] != 0x00 {
		t.Fatalf("setup: expected transport-key hash discriminator")
	}

	derivedKey := hmacMMO(key, hashMsg)

	h := append([]byte{}, header...)
	h[fcIndex] += byte(level)
	n := append([]byte{}, nonce...)
	n[len(n)-1] += byte(level)

	tag := authenticate(derivedKey, plaintext, h, n, m)
	s0 := encryptBlock(ccmCounterBlock(n, 0), derivedKey)
	maskedTag := make([]byte, m)
	for i := 0; i < m; i++ {
		maskedTag[i] = tag[i] ^ s0[i]
	}

	ciphertext := make([]byte, len(plaintext))
	var keystream []byte
	for i := range plaintext {
		if i%16 == 0 {
			counter := uint16(i/16) + 1
			keystream = encryptBlock(ccmCounterBlock(n, counter), derivedKey)
		}
		ciphertext[i] = plaintext[i] ^ keystream[i%16]
	}

	payload := append(ciphertext, maskedTag...)
	return append(raw[:13], payload...)
}

func TestKeyStoreDecryptLayerRecoversPlaintextAndLevel(t *testing.T) {
	k := NewKeyStore(-1)
	existingHeader := []byte{0x21, 0x00}
	plaintext := append([]byte{0x05, 0x01}, make([]byte, 16)...)
	for i := range plaintext[2:] {
		plaintext[2+i] = byte(i + 1)
	}

	aux := buildSecuredAux(t, existingHeader, defaultLinkKey, plaintext, 5)

	recovered, level, ok := k.decryptLayer(k.linkKeys, aux, existingHeader, false)
	if !ok {
		t.Fatalf("expected decryptLayer to succeed")
	}
	if level != 5 {
		t.Fatalf("level = %d, want 5", level)
	}
	if string(recovered) != string(plaintext) {
		t.Fatalf("recovered = %x, want %x", recovered, plaintext)
	}
}

func TestKeyStoreExtractKeyLearnsNetworkKey(t *testing.T) {
	k := NewKeyStore(-1)

	newNwkKey := make([]byte, 16)
	for i := range newNwkKey {
		newNwkKey[i] = byte(0x30 + i)
	}
	plaintext := append([]byte{0x05, 0x01}, newNwkKey...)

	apsHeader := []byte{0x21, 0x00}
	aux := buildSecuredAux(t, apsHeader, defaultLinkKey, plaintext, 6)
	apsLayer := append(append([]byte{}, apsHeader...), aux...)

	nwkHeader := []byte{0x00, 0x00, 0x01, 0x00, 0x02, 0x00, 0x1E, 0x05}
	nwkFrame := append(append([]byte{}, nwkHeader...), apsLayer...)

	macHeader := []byte{0x01, 0x88, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}
	rawPayload := append(append([]byte{}, macHeader...), nwkFrame...)
	rawPayload = append(rawPayload, 0x00, 0x00) // MAC FCS

	learned := k.ExtractKey(rawPayload)
	if !learned {
		t.Fatalf("expected ExtractKey to learn a key")
	}
	if len(k.nwkKeys) != 1 {
		t.Fatalf("nwkKeys count = %d, want 1", len(k.nwkKeys))
	}
	if string(k.nwkKeys[0]) != string(newNwkKey) {
		t.Fatalf("learned key = %x, want %x", k.nwkKeys[0], newNwkKey)
	}
}

func TestKeyStoreSaveKeysWritesBothSections(t *testing.T) {
	k := NewKeyStore(5)
	k.nwkKeys = append(k.nwkKeys, make([]byte, 16))

	path := filepath.Join(t.TempDir(), "keys.txt")
	if err := k.SaveKeys(path); err != nil {
		t.Fatalf("SaveKeys failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	contents := string(data)
	if !strings.Contains(contents, "Link Keys:") {
		t.Fatalf("missing Link Keys section: %s", contents)
	}
	if !strings.Contains(contents, "Network Keys:") {
		t.Fatalf("missing Network Keys section: %s", contents)
	}
}

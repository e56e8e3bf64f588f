package zigbee

import "testing"

func TestEncryptBlockIsDeterministic(t *testing.T) {
	key := []byte("0123456789ABCDEF")
	input := make([]byte, 16)

	a := encryptBlock(input, key)
	b := encryptBlock(input, key)
	if string(a) != string(b) {
		t.Fatalf("encryptBlock is not deterministic")
	}
	if len(a) != 16 {
		t.Fatalf("output length = %d, want 16", len(a))
	}
}

func TestPadMessageHashPadsToBlockMultiple(t *testing.T) {
	padded := padMessageHash([]byte("hello"), 16)
	if len(padded)%16 != 0 {
		t.Fatalf("padded length %d is not a multiple of the block size", len(padded))
	}
	if padded[5] != 0x80 {
		t.Fatalf("expected the 0x80 terminator right after the message")
	}
}

func TestMatyasMeyerOseasIsDeterministicAndFixedLength(t *testing.T) {
	h1 := matyasMeyerOseas([]byte("ZigBeeAlliance09"))
	h2 := matyasMeyerOseas([]byte("ZigBeeAlliance09"))
	if string(h1) != string(h2) {
		t.Fatalf("matyasMeyerOseas is not deterministic")
	}
	if len(h1) != 16 {
		t.Fatalf("hash length = %d, want 16", len(h1))
	}

	other := matyasMeyerOseas([]byte("different message"))
	if string(h1) == string(other) {
		t.Fatalf("different messages produced the same hash")
	}
}

func TestHmacMMODerivesDistinctKeysPerDiscriminator(t *testing.T) {
	key := defaultLinkKey
	tx := hmacMMO(key, []byte{0x00})
	verify := hmacMMO(key, []byte{0x02})

	if len(tx) != 16 || len(verify) != 16 {
		t.Fatalf("hmacMMO must produce 16-byte keys")
	}
	if string(tx) == string(verify) {
		t.Fatalf("distinct discriminators must derive distinct keys")
	}
}

func TestFormLengthStringEncoding(t *testing.T) {
	if got := formLengthString(0); got != nil {
		t.Fatalf("length 0 = %x, want nil", got)
	}
	if got := formLengthString(5); len(got) != 2 || got[0] != 0x00 || got[1] != 0x05 {
		t.Fatalf("length 5 = %x, want [0x00 0x05]", got)
	}
	big := formLengthString(0xFFFF)
	if len(big) != 6 || big[0] != 0xFF || big[1] != 0xFE {
		t.Fatalf("large length = %x, want 0xFFFE escape + 4 bytes", big)
	}
}

func TestAuthenticateTruncatesToM(t *testing.T) {
	key := make([]byte, 16)
	nonce := make([]byte, 13)
	tag := authenticate(key, []byte("plaintext"), nil, nonce, 4)
	if len(tag) != 4 {
		t.Fatalf("tag length = %d, want 4", len(tag))
	}
}

func TestCCMEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	nonce := make([]byte, 13)
	for i := range nonce {
		nonce[i] = byte(0x20 + i)
	}
	additionalData := []byte{0xAA, 0xBB}
	plaintext := []byte("a zigbee application payload")
	const m = 4

	tag := authenticate(key, plaintext, additionalData, nonce, m)

	s0 := encryptBlock(ccmCounterBlock(nonce, 0), key)
	maskedTag := make([]byte, m)
	for i := 0; i < m; i++ {
		maskedTag[i] = tag[i] ^ s0[i]
	}

	ciphertext := make([]byte, len(plaintext))
	var keystream []byte
	for i := range plaintext {
		if i%16 == 0 {
			counter := uint16(i/16) + 1
			keystream = encryptBlock(ccmCounterBlock(nonce, counter), key)
		}
		ciphertext[i] = plaintext[i] ^ keystream[i%16]
	}

	recovered, ok := ccmDecrypt(key, ciphertext, additionalData, nonce, maskedTag, m)
	if !ok {
		t.Fatalf("expected decrypt to succeed and authenticate")
	}
	if string(recovered) != string(plaintext) {
		t.Fatalf("recovered = %q, want %q", recovered, plaintext)
	}
}

func TestCCMDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 16)
	nonce := make([]byte, 13)
	plaintext := []byte("authenticate me")
	const m = 4

	tag := authenticate(key, plaintext, nil, nonce, m)
	s0 := encryptBlock(ccmCounterBlock(nonce, 0), key)
	maskedTag := make([]byte, m)
	for i := 0; i < m; i++ {
		maskedTag[i] = tag[i] ^ s0[i]
	}

	keystream := encryptBlock(ccmCounterBlock(nonce, 1), key)
	ciphertext := make([]byte, len(plaintext))
	for i := range plaintext {
		ciphertext[i] = plaintext[i] ^ keystream[i%16]
	}
	ciphertext[0] ^= 0xFF // tamper

	_, ok := ccmDecrypt(key, ciphertext, nil, nonce, maskedTag, m)
	if ok {
		t.Fatalf("expected decrypt to reject tampered ciphertext")
	}
}

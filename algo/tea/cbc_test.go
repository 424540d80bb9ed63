package tea

import (
	"bytes"
	"testing"
)

func cbcTestCipher(t *testing.T) *CBCCipher {
	t.Helper()
	key := []byte("0123456789abcdef")
	c, err := NewCBCCipher(key, DefaultRounds)
	if err != nil {
		t.Fatalf("new cbc cipher: %v", err)
	}
	return c
}

// TestCBCRoundTripAllPadLengths checks that decrypt(encrypt(body))
// recovers body exactly for bodies of varying length, which in turn push
// the pad length Encrypt picks through every value in 0..7.
func TestCBCRoundTripAllPadLengths(t *testing.T) {
	c := cbcTestCipher(t)
	for bodyLen := 1; bodyLen <= 64; bodyLen++ {
		body := bytes.Repeat([]byte{0xAB}, bodyLen)
		enc, err := c.Encrypt(body, 0)
		if err != nil {
			t.Fatalf("len %d: encrypt: %v", bodyLen, err)
		}
		if len(enc)%cbcBlock != 0 {
			t.Fatalf("len %d: ciphertext length %d not a multiple of %d", bodyLen, len(enc), cbcBlock)
		}
		dec, err := c.Decrypt(enc, 0)
		if err != nil {
			t.Fatalf("len %d: decrypt: %v", bodyLen, err)
		}
		if !bytes.Equal(dec, body) {
			t.Fatalf("len %d: round trip mismatch: got %x, want %x", bodyLen, dec, body)
		}
	}
}

func TestCBCEncryptedLenIsMultipleOfBlock(t *testing.T) {
	c := cbcTestCipher(t)
	for n := 0; n < 32; n++ {
		got := c.EncryptedLen(n)
		if got%cbcBlock != 0 {
			t.Fatalf("EncryptedLen(%d) = %d, not a multiple of %d", n, got, cbcBlock)
		}
		if got < n+cbcSaltLen+cbcZeroLen+1 {
			t.Fatalf("EncryptedLen(%d) = %d, smaller than minimum overhead", n, got)
		}
	}
}

func TestFromRecipeInterleavesKeyBytes(t *testing.T) {
	recipe := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	simple := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80}

	c, err := FromRecipe(recipe, simple, DefaultRounds)
	if err != nil {
		t.Fatalf("from recipe: %v", err)
	}
	manual, err := NewCBCCipher([]byte{0x10, 1, 0x20, 2, 0x30, 3, 0x40, 4, 0x50, 5, 0x60, 6, 0x70, 7, 0x80, 8}, DefaultRounds)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	if c.block.k != manual.block.k {
		t.Fatalf("FromRecipe key = %08x, want interleaved %08x", c.block.k, manual.block.k)
	}

	body := []byte("round trip via recipe-derived key")
	enc, err := c.Encrypt(body, 0)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	dec, err := c.Decrypt(enc, 0)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(dec, body) {
		t.Fatalf("round trip mismatch: got %q, want %q", dec, body)
	}
}

func TestFromRecipeDefaultsSimpleKey(t *testing.T) {
	recipe := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	c1, err := FromRecipe(recipe, nil, DefaultRounds)
	if err != nil {
		t.Fatalf("from recipe (nil simple key): %v", err)
	}
	c2, err := FromRecipe(recipe, SimpleKey, DefaultRounds)
	if err != nil {
		t.Fatalf("from recipe (explicit simple key): %v", err)
	}

	body := []byte("defaulting check")
	enc1, err := c1.Encrypt(body, 0)
	if err != nil {
		t.Fatalf("encrypt c1: %v", err)
	}
	dec2, err := c2.Decrypt(enc1, 0)
	if err != nil {
		t.Fatalf("decrypt c2: %v", err)
	}
	if !bytes.Equal(dec2, body) {
		t.Fatal("nil simpleKey did not default to SimpleKey")
	}
}

func TestFromRecipeRejectsBadLengths(t *testing.T) {
	if _, err := FromRecipe([]byte{1, 2, 3}, nil, DefaultRounds); err == nil {
		t.Fatal("expected error for short recipe")
	}
	if _, err := FromRecipe(make([]byte, 8), make([]byte, 4), DefaultRounds); err == nil {
		t.Fatal("expected error for short simple key")
	}
}

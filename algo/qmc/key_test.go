package qmc

import (
	"bytes"
	"encoding/base64"
	"testing"
)

// TestDecryptKeyEncryptKeyRoundTrip wraps a 256-byte key via EncryptKey
// and expects DecryptKey to hand it back unchanged.
func TestDecryptKeyEncryptKeyRoundTrip(t *testing.T) {
	key := make([]byte, 256)
	for i := range key {
		key[i] = byte(i)
	}

	wrapped, err := EncryptKey(key, nil)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}

	got, err := DecryptKey(wrapped)
	if err != nil {
		t.Fatalf("decrypt key: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("round trip mismatch: got %x, want %x", got, key)
	}
}

func TestDecryptKeyRejectsTooShortBlob(t *testing.T) {
	plain := []byte{0x01, 0x02, 0x03, 0x04} // too short to hold a recipe + wrapped body
	if _, err := DecryptKey(plain); err == nil {
		t.Fatal("expected an error for a too-short key blob")
	}
}

func TestDecodeBase64KeyAcceptsMultipleAlphabets(t *testing.T) {
	raw := []byte{0xFB, 0xFF, 0x3E, 0x10, 0x00}

	std := base64.StdEncoding.EncodeToString(raw)
	got, err := DecodeBase64Key([]byte(std))
	if err != nil {
		t.Fatalf("decode std: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("std-encoded key round trip mismatch")
	}

	urlSafe := base64.RawURLEncoding.EncodeToString(raw)
	got, err = DecodeBase64Key([]byte(urlSafe))
	if err != nil {
		t.Fatalf("decode url-safe unpadded: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("url-safe-encoded key round trip mismatch")
	}
}

func TestDecodeBase64KeyTrimsNulPadding(t *testing.T) {
	raw := []byte("hello")
	encoded := base64.StdEncoding.EncodeToString(raw)
	padded := append([]byte(encoded), 0x00, 0x00, 0x00)

	got, err := DecodeBase64Key(padded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("got %q, want %q", got, raw)
	}
}

func TestNewCipherForKeySelectsVariantByLength(t *testing.T) {
	if err := LoadSegmentFile(synthSegmentFile(t)); err != nil {
		t.Fatalf("load segment file: %v", err)
	}

	c, err := NewCipherForKey(nil)
	if err != nil {
		t.Fatalf("empty key: %v", err)
	}
	if c.Name() != "QMCv1 StaticMap" {
		t.Fatalf("empty key selected %q, want StaticMap", c.Name())
	}

	c, err = NewCipherForKey(make([]byte, 128))
	if err != nil {
		t.Fatalf("short key: %v", err)
	}
	if c.Name() != "QMCv2 DynamicMap" {
		t.Fatalf("128-byte key selected %q, want DynamicMap", c.Name())
	}

	c, err = NewCipherForKey(make([]byte, 512))
	if err != nil {
		t.Fatalf("long key: %v", err)
	}
	if c.Name() != "QMCv2 Modified-RC4" {
		t.Fatalf("512-byte key selected %q, want Modified-RC4", c.Name())
	}
}

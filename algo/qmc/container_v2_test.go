package qmc

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// v2TestKey builds a DynamicMap-length (<=300) raw key: an 8-byte recipe
// followed by a body long enough to land in the DynamicMap branch of
// NewCipherForKey once unwrapped.
func v2TestKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 128)
	for i := range key {
		key[i] = byte(0xA0 + i)
	}
	return key
}

// TestOpenV2RawKeyTrailer opens a file with a trailing
// [base64 wrapped key][4-byte LE rawKeyLen] footer and expects it to
// decrypt back to the original payload.
func TestOpenV2RawKeyTrailer(t *testing.T) {
	key := v2TestKey(t)
	wrapped, err := EncryptKey(key, nil)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	encoded := []byte(base64.StdEncoding.EncodeToString(wrapped))

	cipher, err := NewCipherForKey(key)
	if err != nil {
		t.Fatalf("new cipher for key: %v", err)
	}
	plain := bytes.Repeat([]byte("qmcv2-raw-key-trailer-fixture"), 50)
	encPayload, err := cipher.Encrypt(plain, 0)
	if err != nil {
		t.Fatalf("encrypt payload: %v", err)
	}

	var buf bytes.Buffer
	buf.Write(encPayload)
	buf.Write(encoded)
	lenField := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenField, uint32(len(encoded)))
	buf.Write(lenField)

	path := filepath.Join(t.TempDir(), "track.qmcflac")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream, meta, err := OpenV2(path, nil)
	if err != nil {
		t.Fatalf("open v2: %v", err)
	}
	defer stream.Close()
	if meta != nil {
		t.Fatalf("raw key trailer should report no V2Meta, got %+v", meta)
	}

	got, err := stream.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("decrypted payload did not match original")
	}
}

// TestOpenV2QTagTrailer covers the "QTag" footer shape: a comma-separated
// "base64key,songid,extra2" triple followed by its own big-endian length
// field and the "QTag" marker.
func TestOpenV2QTagTrailer(t *testing.T) {
	key := v2TestKey(t)
	wrapped, err := EncryptKey(key, nil)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	encodedKey := base64.StdEncoding.EncodeToString(wrapped)

	cipher, err := NewCipherForKey(key)
	if err != nil {
		t.Fatalf("new cipher for key: %v", err)
	}
	plain := bytes.Repeat([]byte("qmcv2-qtag-trailer-fixture"), 50)
	encPayload, err := cipher.Encrypt(plain, 0)
	if err != nil {
		t.Fatalf("encrypt payload: %v", err)
	}

	meta := fmt.Sprintf("%s,123456,7", encodedKey)

	var buf bytes.Buffer
	buf.Write(encPayload)
	buf.WriteString(meta)
	metaLenField := make([]byte, 4)
	binary.BigEndian.PutUint32(metaLenField, uint32(len(meta)))
	buf.Write(metaLenField)
	buf.WriteString("QTag")

	path := filepath.Join(t.TempDir(), "track.qmcflac")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream, v2meta, err := OpenV2(path, nil)
	if err != nil {
		t.Fatalf("open v2: %v", err)
	}
	defer stream.Close()
	if v2meta == nil {
		t.Fatal("qtag trailer should report a V2Meta")
	}
	if v2meta.SongID != 123456 || v2meta.RawExtra2 != 7 {
		t.Fatalf("meta mismatch: got %+v", v2meta)
	}

	got, err := stream.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("decrypted payload did not match original")
	}
}

// TestOpenV2STagFallsBackToLegacyMask covers the no-recoverable-key
// trailer shapes: an "STag" marker carries no key at all, so OpenV2 must
// fall through to brute-force mask recovery against the payload.
func TestOpenV2STagFallsBackToLegacyMask(t *testing.T) {
	// Run the recovery itself, not a cached result from a previous run.
	SetMaskCache(nil)

	mask := make([]byte, legacyMaskLen)
	for i := range mask {
		mask[i] = byte(0x50 + i)
	}
	cipher, err := NewKey256MaskCipher(mask)
	if err != nil {
		t.Fatalf("new key256mask cipher: %v", err)
	}

	plain := make([]byte, 0x8000)
	copy(plain, []byte("fLaC"))
	enc, err := cipher.Encrypt(plain, 0)
	if err != nil {
		t.Fatalf("encrypt payload: %v", err)
	}

	var buf bytes.Buffer
	buf.Write(enc)
	buf.WriteString("STag")

	path := filepath.Join(t.TempDir(), "track.mflac")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream, meta, err := OpenV2(path, nil)
	if err != nil {
		t.Fatalf("open v2: %v", err)
	}
	defer stream.Close()
	if meta != nil {
		t.Fatalf("stag fallback should report no V2Meta, got %+v", meta)
	}

	got, err := stream.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got[:4], []byte("fLaC")) {
		t.Fatalf("recovered header = %q, want fLaC prefix", got[:4])
	}
}

// TestSaveV2RawKeyRoundTrip checks that SaveV2 followed by OpenV2 hands
// back the same plaintext, even though the trailer bytes themselves
// differ per save (fresh TEA-CBC salt).
func TestSaveV2RawKeyRoundTrip(t *testing.T) {
	key := v2TestKey(t)
	cipher, err := NewCipherForKey(key)
	if err != nil {
		t.Fatalf("new cipher for key: %v", err)
	}
	plain := bytes.Repeat([]byte("save-v2-raw-trailer"), 40)
	encPayload, err := cipher.Encrypt(plain, 0)
	if err != nil {
		t.Fatalf("encrypt payload: %v", err)
	}

	var buf bytes.Buffer
	if err := SaveV2(&buf, bytes.NewReader(encPayload), key, nil); err != nil {
		t.Fatalf("save v2: %v", err)
	}

	path := filepath.Join(t.TempDir(), "track.mflac")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream, meta, err := OpenV2(path, nil)
	if err != nil {
		t.Fatalf("open v2: %v", err)
	}
	defer stream.Close()
	if meta != nil {
		t.Fatalf("raw trailer should report no V2Meta, got %+v", meta)
	}

	got, err := stream.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("payload did not survive the save/open round trip")
	}
}

// TestSaveV2QTagRoundTrip covers the QTag layout, including the observed
// default of 2 for the undocumented third field when creating new files.
func TestSaveV2QTagRoundTrip(t *testing.T) {
	key := v2TestKey(t)
	cipher, err := NewCipherForKey(key)
	if err != nil {
		t.Fatalf("new cipher for key: %v", err)
	}
	plain := bytes.Repeat([]byte("save-v2-qtag-trailer"), 40)
	encPayload, err := cipher.Encrypt(plain, 0)
	if err != nil {
		t.Fatalf("encrypt payload: %v", err)
	}

	var buf bytes.Buffer
	if err := SaveV2(&buf, bytes.NewReader(encPayload), key, &V2Meta{SongID: 4242}); err != nil {
		t.Fatalf("save v2: %v", err)
	}

	path := filepath.Join(t.TempDir(), "track.mflac")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream, meta, err := OpenV2(path, nil)
	if err != nil {
		t.Fatalf("open v2: %v", err)
	}
	defer stream.Close()
	if meta == nil {
		t.Fatal("qtag trailer should report a V2Meta")
	}
	if meta.SongID != 4242 || meta.RawExtra2 != 2 {
		t.Fatalf("meta mismatch: got %+v, want song id 4242 and default extra 2", meta)
	}

	got, err := stream.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("payload did not survive the save/open round trip")
	}
}

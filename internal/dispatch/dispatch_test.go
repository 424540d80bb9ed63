package dispatch

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"unlock-music.dev/cli/algo/common"
	"unlock-music.dev/cli/algo/qmc"
)

// TestOpenNCMCacheFile routes a *.uc! file through the XOR-163 cipher end
// to end: the decrypted header must sniff as FLAC and the plaintext must
// match the pre-encryption bytes.
func TestOpenNCMCacheFile(t *testing.T) {
	plain := make([]byte, 64)
	copy(plain, "fLaC")
	enc := make([]byte, len(plain))
	for i, b := range plain {
		enc[i] = b ^ 0xA3
	}

	path := filepath.Join(t.TempDir(), "song.uc!")
	if err := os.WriteFile(path, enc, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream, ext, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	if ext != ".flac" {
		t.Fatalf("sniffed extension = %q, want .flac", ext)
	}
	got, err := stream.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("decrypted cache payload did not match original")
	}
}

func TestOpenUnknownExtensionFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, _, err := Open(path, nil)
	if !errors.Is(err, common.ErrUnsupportedFileType) {
		t.Fatalf("got %v, want ErrUnsupportedFileType", err)
	}
}

func TestQMCExtensionFamilies(t *testing.T) {
	for _, ext := range []string{
		".mflac", ".mflac0", ".mflaca", ".mflach",
		".mgg", ".mgg1", ".mggl", ".mggm",
		".qmcflac", ".qmcogg", ".tkm",
	} {
		if !isQMCv2Extension(ext) {
			t.Errorf("%s should be recognized as a QMCv2 extension", ext)
		}
	}
	for _, ext := range []string{".qmc0", ".qmc3", ".flac", ".ncm", ".uc!"} {
		if isQMCv2Extension(ext) {
			t.Errorf("%s should not be recognized as a QMCv2 extension", ext)
		}
	}
	for _, ext := range []string{".qmc0", ".qmc2", ".qmc3", ".qmc4", ".qmc6", ".qmc8"} {
		if !qmcV1Extensions[ext] {
			t.Errorf("%s should be recognized as a QMCv1 extension", ext)
		}
	}
}

// TestOpenQMCv2FallsBackToImpliedExtension covers the demoted sniff miss:
// a v2 container identified by its key trailer whose decrypted header
// matches no audio magic still opens, with the output extension inferred
// from the container extension.
func TestOpenQMCv2FallsBackToImpliedExtension(t *testing.T) {
	key := make([]byte, 128)
	for i := range key {
		key[i] = byte(0x30 + i)
	}
	wrapped, err := qmc.EncryptKey(key, nil)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(wrapped)

	cipher, err := qmc.NewCipherForKey(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	plain := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 64) // no audio magic
	encPayload, err := cipher.Encrypt(plain, 0)
	if err != nil {
		t.Fatalf("encrypt payload: %v", err)
	}

	var buf bytes.Buffer
	buf.Write(encPayload)
	buf.WriteString(encoded)
	lenField := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenField, uint32(len(encoded)))
	buf.Write(lenField)

	path := filepath.Join(t.TempDir(), "track.mflac")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stream, ext, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()
	if ext != ".flac" {
		t.Fatalf("fallback extension = %q, want .flac", ext)
	}
	got, err := stream.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("decrypted payload did not match original")
	}
}

package sniff

import (
	"bytes"
	"testing"
)

func TestAudioExtensionRecognizesEveryKnownPrefix(t *testing.T) {
	cases := []struct {
		ext    string
		header []byte
	}{
		{".ogg", append([]byte("OggS"), make([]byte, 12)...)},
		{".flac", append([]byte("fLaC"), make([]byte, 12)...)},
		{".wav", append([]byte("RIFF"), make([]byte, 12)...)},
		{".dff", append([]byte("FRM8"), make([]byte, 12)...)},
		{".tta", append([]byte("TTA"), make([]byte, 13)...)},
		{".ape", append([]byte("MAC "), make([]byte, 12)...)},
		{".aac", append([]byte{0xff, 0xf1}, make([]byte, 14)...)},
		{".wma", []byte{0x30, 0x26, 0xb2, 0x75, 0x8e, 0x66, 0xcf, 0x11, 0xa6, 0xd9, 0x00, 0xaa, 0x00, 0x62, 0xce, 0x6c}},
	}
	for _, tc := range cases {
		ext, ok := AudioExtension(tc.header)
		if !ok {
			t.Fatalf("%s: AudioExtension did not recognize its own magic", tc.ext)
		}
		if ext != tc.ext {
			t.Fatalf("%s: AudioExtension returned %q", tc.ext, ext)
		}
	}
}

func TestAudioExtensionRejectsUnknownHeader(t *testing.T) {
	if _, ok := AudioExtension(bytes.Repeat([]byte{0x00}, 16)); ok {
		t.Fatal("expected no match for an all-zero header")
	}
}

// TestAudioExtensionAfterID3RecognizesWrappedMP3 wraps an MP3 frame in
// an ID3v2 tag; AudioExtension reports mp3 from the ID3 prefix alone via
// its mp3Sniffer fast path, and AudioExtensionAfterID3 must see past it by skipping
// the syncsafe-encoded tag size to the real body.
func TestAudioExtensionAfterID3RecognizesWrappedMP3(t *testing.T) {
	id3 := buildID3Tag(32)
	mp3Frame := []byte{0xFF, 0xFB, 0x90, 0x00}
	payload := append(append([]byte{}, id3...), mp3Frame...)
	payload = append(payload, make([]byte, 64)...)

	if ext, ok := AudioExtension(payload[:16]); !ok || ext != ".mp3" {
		t.Fatalf("AudioExtension(id3-prefixed header) = (%q, %v), want (.mp3, true)", ext, ok)
	}

	r := bytes.NewReader(payload)
	ext, ok := AudioExtensionAfterID3(r)
	if !ok {
		t.Fatal("AudioExtensionAfterID3 did not recognize the wrapped mp3 frame")
	}
	if ext != ".mp3" {
		t.Fatalf("AudioExtensionAfterID3 = %q, want .mp3", ext)
	}
}

func TestAudioExtensionAfterID3SkipsToFlacBody(t *testing.T) {
	id3 := buildID3Tag(20)
	body := append([]byte("fLaC"), make([]byte, 60)...)
	payload := append(append([]byte{}, id3...), body...)

	r := bytes.NewReader(payload)
	ext, ok := AudioExtensionAfterID3(r)
	if !ok || ext != ".flac" {
		t.Fatalf("AudioExtensionAfterID3 = (%q, %v), want (.flac, true)", ext, ok)
	}
}

// buildID3Tag constructs a minimal ID3v2 header (10 bytes) followed by
// bodyLen bytes of tag-frame padding, with the syncsafe size field set to
// bodyLen.
func buildID3Tag(bodyLen int) []byte {
	tag := make([]byte, 10+bodyLen)
	copy(tag, []byte("ID3"))
	tag[3] = 3 // version 2.3
	tag[4] = 0
	tag[5] = 0 // flags
	encodeSyncsafe(tag[6:10], uint32(bodyLen))
	return tag
}

func encodeSyncsafe(dst []byte, v uint32) {
	for i := 3; i >= 0; i-- {
		dst[i] = byte(v & 0x7f)
		v >>= 7
	}
}

func TestDecodeSyncsafe(t *testing.T) {
	// 0x00 0x00 0x02 0x00 decodes to 2*128 = 256.
	got := decodeSyncsafe([]byte{0x00, 0x00, 0x02, 0x00})
	if got != 256 {
		t.Fatalf("decodeSyncsafe = %d, want 256", got)
	}
}

func TestAudioExtensionWithSmartFallback(t *testing.T) {
	unknown := bytes.Repeat([]byte{0}, 16)
	for _, tc := range []struct{ inputExt, want string }{
		{".mflac", ".flac"},
		{".mflac0", ".flac"},
		{".mgg", ".ogg"},
		{".qmcflac", ".flac"},
		{".qmcogg", ".ogg"},
		{".bin", ".mp3"},
	} {
		if got := AudioExtensionWithSmartFallback(unknown, tc.inputExt); got != tc.want {
			t.Fatalf("fallback for %s = %q, want %q", tc.inputExt, got, tc.want)
		}
	}

	flac := append([]byte("fLaC"), make([]byte, 12)...)
	if got := AudioExtensionWithSmartFallback(flac, ".mgg"); got != ".flac" {
		t.Fatalf("recognized header returned %q, want .flac", got)
	}
}

// TestSniffOrderCoversRegistry keeps sniffOrder and audioExtensions in
// lockstep: every registered sniffer must be probed, and nothing may be
// probed that isn't registered.
func TestSniffOrderCoversRegistry(t *testing.T) {
	if len(sniffOrder) != len(audioExtensions) {
		t.Fatalf("sniffOrder has %d entries, registry has %d", len(sniffOrder), len(audioExtensions))
	}
	for _, ext := range sniffOrder {
		if _, ok := audioExtensions[ext]; !ok {
			t.Fatalf("%s is probed but not registered", ext)
		}
	}
}

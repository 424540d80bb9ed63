package sniff

import (
	"bytes"
	"encoding/binary"
	"io"
	"slices"
)

type Sniffer interface {
	Sniff(header []byte) bool
}

var audioExtensions = map[string]Sniffer{
	// ref: https://mimesniff.spec.whatwg.org
	".mp3": &mp3Sniffer{}, // Enhanced MP3 detection with and without ID3v2 tag
	".ogg": prefixSniffer("OggS"),
	".wav": prefixSniffer("RIFF"),

	// ref: https://www.loc.gov/preservation/digital/formats/fdd/fdd000027.shtml
	".wma": prefixSniffer{
		0x30, 0x26, 0xb2, 0x75, 0x8e, 0x66, 0xcf, 0x11,
		0xa6, 0xd9, 0x00, 0xaa, 0x00, 0x62, 0xce, 0x6c,
	},

	// ref: https://www.garykessler.net/library/file_sigs.html
	".m4a": m4aSniffer{},    // MPEG-4 container, Apple Lossless Audio Codec
	".mp4": &mpeg4Sniffer{}, // MPEG-4 container, other fallback

	".flac": prefixSniffer("fLaC"), // ref: https://xiph.org/flac/format.html
	".dff":  prefixSniffer("FRM8"), // DSDIFF, ref: https://www.sonicstudio.com/pdf/dsd/DSDIFF_1.5_Spec.pdf
	".tta":  prefixSniffer("TTA"),  // True Audio
	".ape":  prefixSniffer("MAC "), // Monkey's Audio
	".aac":  prefixSniffer{0xff, 0xf1},
}

// sniffOrder fixes the probe sequence over audioExtensions: unambiguous
// magic prefixes first, the MPEG-4 sniffers next (m4a before the generic
// mp4 fallback), and mp3 last since its frame-sync heuristic can
// false-positive on other formats.
var sniffOrder = []string{
	".ogg", ".flac", ".wav", ".dff", ".tta", ".ape", ".aac", ".wma",
	".m4a", ".mp4", ".mp3",
}

// AudioExtension sniffs the known audio types, and returns the file
// extension. header is recommended to be at least 16 bytes.
func AudioExtension(header []byte) (string, bool) {
	for _, ext := range sniffOrder {
		if audioExtensions[ext].Sniff(header) {
			return ext, true
		}
	}
	return "", false
}

// AudioExtensionAfterID3 handles a leading ID3v2 tag: it reads the tag's
// syncsafe (7-bit-per-byte) size field from a full reader, seeks past it,
// and sniffs the real container magic that follows - needed because
// QMC/NCM payloads sometimes carry an ID3v2 tag ahead of a
// FLAC/OGG/APE/TTA body, which a bounded header window can't see past.
func AudioExtensionAfterID3(r io.ReadSeeker) (string, bool) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", false
	}
	header := make([]byte, 16)
	n, _ := io.ReadFull(r, header)
	header = header[:n]

	if bytes.HasPrefix(header, []byte("ID3")) && len(header) >= 10 {
		size := 10 + int64(decodeSyncsafe(header[6:10]))
		if _, err := r.Seek(size, io.SeekStart); err == nil {
			header = make([]byte, 16)
			n, _ := io.ReadFull(r, header)
			header = header[:n]
		}
	}
	return AudioExtension(header)
}

// decodeSyncsafe decodes a 4-byte ID3v2 syncsafe integer: each byte
// contributes 7 bits, most-significant byte first.
func decodeSyncsafe(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = (v << 7) | uint32(c&0x7f)
	}
	return v
}

// AudioExtensionWithSmartFallback is like AudioExtension, but falls back
// to the output extension implied by the input container extension when
// format sniffing fails.
func AudioExtensionWithSmartFallback(header []byte, inputExt string) string {
	ext, ok := AudioExtension(header)
	if !ok {
		// Use smart fallback based on input file extension
		return getSmartFallback(inputExt)
	}
	return ext
}

// getSmartFallback returns the expected output format based on input file extension
func getSmartFallback(inputExt string) string {
	switch inputExt {
	case ".mgg", ".mgg0", ".mgg1", ".mgga", ".mggh", ".mggl", ".mggm":
		return ".ogg"
	case ".mflac", ".mflac0", ".mflac1", ".mflaca", ".mflach", ".mflacl", ".mflacm":
		return ".flac"
	case ".qmcflac":
		return ".flac"
	case ".qmcogg":
		return ".ogg"
	default:
		return ".mp3" // default fallback
	}
}

type prefixSniffer []byte

func (s prefixSniffer) Sniff(header []byte) bool {
	return bytes.HasPrefix(header, s)
}

type m4aSniffer struct{}

func (m4aSniffer) Sniff(header []byte) bool {
	box := readMpeg4FtypBox(header)
	if box == nil {
		return false
	}

	return box.majorBrand == "M4A " || slices.Contains(box.compatibleBrands, "M4A ")
}

type mpeg4Sniffer struct{}

func (s *mpeg4Sniffer) Sniff(header []byte) bool {
	return readMpeg4FtypBox(header) != nil
}

type mpeg4FtpyBox struct {
	majorBrand       string
	minorVersion     uint32
	compatibleBrands []string
}

func readMpeg4FtypBox(header []byte) *mpeg4FtpyBox {
	if (len(header) < 8) || !bytes.Equal([]byte("ftyp"), header[4:8]) {
		return nil // not a valid ftyp box
	}

	size := binary.BigEndian.Uint32(header[0:4]) // size
	if size < 16 || size%4 != 0 {
		return nil // invalid ftyp box
	}

	box := mpeg4FtpyBox{
		majorBrand:   string(header[8:12]),
		minorVersion: binary.BigEndian.Uint32(header[12:16]),
	}

	// compatible brands
	for i := 16; i < int(size) && i+4 < len(header); i += 4 {
		box.compatibleBrands = append(box.compatibleBrands, string(header[i:i+4]))
	}

	return &box
}

// mp3Sniffer detects MP3 files with or without ID3v2 tags
type mp3Sniffer struct{}

func (m *mp3Sniffer) Sniff(header []byte) bool {
	if len(header) < 4 {
		return false
	}

	// Check for ID3v2 tag first (most common)
	if bytes.HasPrefix(header, []byte("ID3")) {
		return true
	}

	// Check for MP3 frame header (for files without ID3v2 tag)
	return m.isMP3FrameHeader(header)
}

// isMP3FrameHeader checks if the header contains a valid MP3 frame sync
func (m *mp3Sniffer) isMP3FrameHeader(header []byte) bool {
	// MP3 frame header starts with 11 bits of sync (all 1s): 0xFFE0 or higher
	// We need at least 4 bytes to check the frame header
	for i := 0; i <= len(header)-4; i++ {
		if m.isValidMP3Frame(header[i:]) {
			return true
		}
	}
	return false
}

// isValidMP3Frame checks if 4 bytes represent a valid MP3 frame header
func (m *mp3Sniffer) isValidMP3Frame(frame []byte) bool {
	if len(frame) < 4 {
		return false
	}

	// Check sync bits (first 11 bits should be all 1s)
	if frame[0] != 0xFF || (frame[1]&0xE0) != 0xE0 {
		return false
	}

	// Check MPEG version (bits 19-20)
	version := (frame[1] >> 3) & 0x03
	if version == 1 { // reserved version
		return false
	}

	// Check layer (bits 17-18)
	layer := (frame[1] >> 1) & 0x03
	if layer == 0 { // reserved layer
		return false
	}

	// Check bitrate (bits 12-15)
	bitrate := (frame[2] >> 4) & 0x0F
	if bitrate == 0 || bitrate == 15 { // free or reserved bitrate
		return false
	}

	// Check sampling frequency (bits 10-11)
	samplingFreq := (frame[2] >> 2) & 0x03
	if samplingFreq == 3 { // reserved sampling frequency
		return false
	}

	return true
}

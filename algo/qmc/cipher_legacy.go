package qmc

import (
	"bytes"
	"fmt"

	"unlock-music.dev/cli/algo/common"
)

// legacyMaskLen is the length of the "short" recovered mask.
const legacyMaskLen = 44

// mapping128to44 folds the 128-byte mask period down to the 44 short-mask
// slots: the keystream byte for any absolute offset is looked up at
// mapping128to44[offset%128]. Mask recovery and decryption both go through
// this same table, so a mask recovered by this package always decrypts
// consistently regardless of the table's exact layout.
var mapping128to44 = func() [128]int {
	var m [128]int
	for i := range m {
		m[i] = i % legacyMaskLen
	}
	return m
}()

// yieldMask generates length keystream bytes starting at the given
// absolute offset from mask, which must have at least legacyMaskLen bytes
// (a 44-byte short mask, or a larger candidate window during recovery
// scanning - both index correctly since mapping128to44's codomain is
// [0,44)).
func yieldMask(mask []byte, offset int64, length int) []byte {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		idx128 := int((offset + int64(i)) % 128)
		out[i] = mask[mapping128to44[idx128]]
	}
	return out
}

// Key256MaskCipher is the legacy 256/44 mask cipher: a 44-byte
// short mask expanded through mapping128to44 into an offset-indexed XOR
// keystream.
type Key256MaskCipher struct {
	common.Capabilities
	mask []byte
}

// NewKey256MaskCipher builds the legacy mask cipher from a recovered
// 44-byte mask.
func NewKey256MaskCipher(mask []byte) (*Key256MaskCipher, error) {
	if len(mask) < legacyMaskLen {
		return nil, fmt.Errorf("%w: key256mask128 mask must be >= %d bytes, got %d", common.ErrInvalidParam, legacyMaskLen, len(mask))
	}
	return &Key256MaskCipher{
		Capabilities: common.Capabilities{CipherName: "Key256Mask128", Offset: true, CanDecrypt: true, CanEncrypt: true},
		mask:         mask[:legacyMaskLen],
	}, nil
}

// Decrypt XORs src against the expanded mask keystream.
func (c *Key256MaskCipher) Decrypt(src []byte, offset int64) ([]byte, error) {
	stream := yieldMask(c.mask, offset, len(src))
	out := make([]byte, len(src))
	for i := range src {
		out[i] = src[i] ^ stream[i]
	}
	return out, nil
}

// Encrypt is identical to Decrypt: XOR is its own inverse.
func (c *Key256MaskCipher) Encrypt(src []byte, offset int64) ([]byte, error) {
	return c.Decrypt(src, offset)
}

// mflacScanWindow bounds the mask search in FindMflacMask.
const mflacScanWindow = 0x8000

// FindMflacMask brute-force-scans the first min(0x8000, len(payload))
// bytes of an mflac-encoded FLAC payload in 128-byte steps: each window is
// a candidate mask, accepted when its keystream XORs payload[0:4] to
// "fLaC". The step MUST be 128: the validation stream is generated at the
// candidate's own offset but applied to payload position 0, which only
// lines up when the offset is a multiple of the 128-byte mask period.
func FindMflacMask(payload []byte) ([]byte, error) {
	testLen := len(payload)
	if testLen > mflacScanWindow {
		testLen = mflacScanWindow
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: payload too short to recover mflac mask", common.ErrUnsupportedFileType)
	}
	header := payload[:4]

	for offset := 0; offset+128 <= len(payload) && offset <= testLen; offset += 128 {
		candidate := payload[offset : offset+128]
		stream := yieldMask(candidate, int64(offset), 4)
		match := true
		for i := 0; i < 4; i++ {
			if header[i]^stream[i] != "fLaC"[i] {
				match = false
				break
			}
		}
		if match {
			// Only mask indices in [0,44) are ever read through
			// mapping128to44, so the short prefix carries the whole
			// effective mask.
			return candidate[:legacyMaskLen], nil
		}
	}
	return nil, fmt.Errorf("%w: mflac mask recovery exhausted search window", common.ErrUnsupportedFileType)
}

// FindMggMask recovers a 44-byte mask for an mgg-encoded OGG payload using
// a confidence-weighted histogram over the fixed byte positions of an Ogg
// page header that are predictable independent of the encoded stream
// (capture pattern, version, header type, and the all-zero granule
// position of a first page). Only positions whose expected byte is a true
// Ogg container invariant are scored; positions whose expected value
// depends on codec-specific identification headers are skipped rather
// than guessed.
func FindMggMask(payload []byte) ([]byte, error) {
	if len(payload) < 0x100 {
		return nil, fmt.Errorf("%w: mgg payload too short for mask recovery (need >= 256 bytes)", common.ErrUnsupportedFileType)
	}

	type expected struct {
		offset     int
		value      byte
		confidence int
	}
	// Invariant bytes of an Ogg "beginning of stream" first page header:
	// capture pattern "OggS", stream_structure_version 0x00,
	// header_type_flag 0x02 (bos), and an all-zero 8-byte granule
	// position for the identification header page.
	var expectations []expected
	capturePattern := []byte("OggS")
	for i, b := range capturePattern {
		expectations = append(expectations, expected{offset: i, value: b, confidence: 6})
	}
	expectations = append(expectations, expected{offset: 4, value: 0x00, confidence: 4}) // version
	expectations = append(expectations, expected{offset: 5, value: 0x02, confidence: 4}) // header_type: bos
	for i := 6; i < 14; i++ {
		expectations = append(expectations, expected{offset: i, value: 0x00, confidence: 2}) // granule position
	}

	maskConfidence := make([]map[byte]int, legacyMaskLen)
	for i := range maskConfidence {
		maskConfidence[i] = make(map[byte]int)
	}

	for _, e := range expectations {
		if e.offset >= len(payload) {
			continue
		}
		tempMask := payload[e.offset] ^ e.value
		idx44 := mapping128to44[e.offset&0x7f]
		maskConfidence[idx44][tempMask] += e.confidence
	}

	mask := make([]byte, legacyMaskLen)
	for i := 0; i < legacyMaskLen; i++ {
		best, bestConf := byte(0), 0
		for val, conf := range maskConfidence[i] {
			if conf > bestConf {
				best, bestConf = val, conf
			}
		}
		mask[i] = best
	}

	cipher, err := NewKey256MaskCipher(mask)
	if err != nil {
		return nil, err
	}
	plain, err := cipher.Decrypt(payload[:4], 0)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(plain, []byte("OggS")) {
		return nil, fmt.Errorf("%w: mgg mask recovery did not converge", common.ErrUnsupportedFileType)
	}
	return mask, nil
}

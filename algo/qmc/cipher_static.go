package qmc

import (
	"fmt"

	"unlock-music.dev/cli/algo/common"
	"unlock-music.dev/cli/internal/simd"
)

// StaticMapCipher is QMCv1's file-backed keystream: plaintext
// byte at offset p is cipher[p] XOR K[p], where K[p] comes from the first
// 32768-byte segment or cycles through the following 32767-byte segment.
type StaticMapCipher struct {
	common.Capabilities
}

// NewStaticMapCipher builds a StaticMap cipher backed by the process-wide
// segment table. LoadSegmentFile must have been called successfully first.
func NewStaticMapCipher() (*StaticMapCipher, error) {
	if !segmentTableLoaded() {
		return nil, fmt.Errorf("%w: qmcv1 segment table not loaded", common.ErrInvalidParam)
	}
	return &StaticMapCipher{common.Capabilities{CipherName: "QMCv1 StaticMap", Offset: true, CanDecrypt: true, CanEncrypt: true}}, nil
}

// Decrypt XORs src against the segment-table keystream.
func (c *StaticMapCipher) Decrypt(src []byte, offset int64) ([]byte, error) {
	out := make([]byte, len(src))
	for i, b := range src {
		out[i] = b ^ keystreamByte(offset+int64(i))
	}
	return out, nil
}

// Encrypt is identical to Decrypt: XOR is its own inverse.
func (c *StaticMapCipher) Encrypt(src []byte, offset int64) ([]byte, error) {
	return c.Decrypt(src, offset)
}

func keystreamByte(p int64) byte {
	if p < FirstSegmentSize {
		return globalSegmentTable.first[p]
	}
	return globalSegmentTable.remaining[(p-FirstSegmentSize)%RemainingSegmentSize]
}

// OldStaticMapCipher is QMCv1's legacy in-code 256-byte box,
// used only when the bundled segment-file asset is unavailable. Backed by
// internal/simd.OldStaticMap, which folds the offset at 0x7FFF and then
// applies the box[(p*p+27) mod 256] formula.
type OldStaticMapCipher struct {
	common.Capabilities
	impl *simd.OldStaticMap
}

// NewOldStaticMapCipher builds the legacy fallback cipher from a 256-byte
// in-code box.
func NewOldStaticMapCipher(box [256]byte) *OldStaticMapCipher {
	return &OldStaticMapCipher{
		Capabilities: common.Capabilities{CipherName: "QMCv1 OldStaticMap", Offset: true, CanDecrypt: true, CanEncrypt: true},
		impl:         simd.NewOldStaticMap(box),
	}
}

// Decrypt XORs src against the legacy box.
func (c *OldStaticMapCipher) Decrypt(src []byte, offset int64) ([]byte, error) {
	out := append([]byte(nil), src...)
	c.impl.Decrypt(out, int(offset))
	return out, nil
}

// Encrypt is identical to Decrypt: XOR is its own inverse.
func (c *OldStaticMapCipher) Encrypt(src []byte, offset int64) ([]byte, error) {
	return c.Decrypt(src, offset)
}

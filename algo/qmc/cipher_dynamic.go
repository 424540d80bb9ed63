package qmc

import (
	"fmt"

	"unlock-music.dev/cli/algo/common"
)

// maxDynamicMapKeyLen is the upper bound for a DynamicMap key; longer
// keys use Modified-RC4 instead.
const maxDynamicMapKeyLen = 300

// dynamicMapFold is the offset-folding threshold: positions past it wrap
// modulo 0x7FFF before feeding the mask index.
const dynamicMapFold = 0x7FFF

// DynamicMapCipher is QMCv2's DynamicMap cipher: a key-derived,
// position-dependent byte mask with no precomputed keystream table.
type DynamicMapCipher struct {
	common.Capabilities
	key []byte
}

// NewDynamicMapCipher builds a DynamicMap cipher. key must have length in
// (0, 300].
func NewDynamicMapCipher(key []byte) (*DynamicMapCipher, error) {
	if len(key) == 0 || len(key) > maxDynamicMapKeyLen {
		return nil, fmt.Errorf("%w: dynamic map key length %d out of range (0,%d]", common.ErrInvalidParam, len(key), maxDynamicMapKeyLen)
	}
	return &DynamicMapCipher{
		Capabilities: common.Capabilities{CipherName: "QMCv2 DynamicMap", Offset: true, CanDecrypt: true, CanEncrypt: true},
		key:          key,
	}, nil
}

// maskAt computes the keystream byte for absolute position p.
func (c *DynamicMapCipher) maskAt(p int64) byte {
	i := p
	if i > dynamicMapFold {
		i = p % dynamicMapFold
	}
	idx := (i*i + 71214) % int64(len(c.key))
	v := c.key[idx]
	r := uint((idx & 7) + 4) % 8
	return (v << r) | (v >> r)
}

// Decrypt XORs src against the position-dependent mask.
func (c *DynamicMapCipher) Decrypt(src []byte, offset int64) ([]byte, error) {
	out := make([]byte, len(src))
	for i, b := range src {
		out[i] = b ^ c.maskAt(offset+int64(i))
	}
	return out, nil
}

// Encrypt is identical to Decrypt: XOR is its own inverse.
func (c *DynamicMapCipher) Encrypt(src []byte, offset int64) ([]byte, error) {
	return c.Decrypt(src, offset)
}

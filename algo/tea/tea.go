// Package tea implements the Tiny Encryption Algorithm variant used by
// Tencent QQ Music to wrap QMCv2 key material: plain TEA-ECB and the
// non-standard Tencent-TEA-CBC wrapper built on top of it. Neither
// variant exists in any third-party Go crypto library, so both are
// hand-rolled.
package tea

import (
	"encoding/binary"
	"fmt"

	"unlock-music.dev/cli/algo/common"
)

// DefaultRounds is TEA-ECB's usual round count.
const DefaultRounds = 64

// delta is TEA's canonical additive constant.
const delta uint32 = 0x9E3779B9

// ECBCipher implements common.Cipher for 64-round (by default) TEA-ECB on
// 8-byte blocks, 16-byte keys. SupportsOffset() is false: this primitive
// only ever wraps/unwraps key material, never payload.
type ECBCipher struct {
	common.Capabilities
	k      [4]uint32
	rounds int
}

// NewECBCipher constructs a TEA-ECB cipher. rounds must be even and
// positive; 0 selects DefaultRounds.
func NewECBCipher(key []byte, rounds int) (*ECBCipher, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: tea key must be 16 bytes, got %d", common.ErrInvalidParam, len(key))
	}
	if rounds == 0 {
		rounds = DefaultRounds
	}
	if rounds%2 != 0 || rounds <= 0 {
		return nil, fmt.Errorf("%w: tea rounds must be a positive even number, got %d", common.ErrInvalidParam, rounds)
	}

	var k [4]uint32
	for i := 0; i < 4; i++ {
		k[i] = binary.BigEndian.Uint32(key[i*4 : i*4+4])
	}

	return &ECBCipher{
		Capabilities: common.Capabilities{CipherName: "TEA-ECB", Offset: false, CanDecrypt: true, CanEncrypt: true},
		k:            k,
		rounds:       rounds,
	}, nil
}

// Decrypt ECB-decrypts src, which must be a non-empty multiple of 8 bytes.
func (c *ECBCipher) Decrypt(src []byte, _ int64) ([]byte, error) {
	if len(src) == 0 || len(src)%8 != 0 {
		return nil, fmt.Errorf("%w: tea ciphertext length %d not a multiple of 8", common.ErrInvalidData, len(src))
	}
	out := make([]byte, len(src))
	for off := 0; off < len(src); off += 8 {
		v0 := binary.BigEndian.Uint32(src[off : off+4])
		v1 := binary.BigEndian.Uint32(src[off+4 : off+8])
		v0, v1 = c.decryptBlock(v0, v1)
		binary.BigEndian.PutUint32(out[off:off+4], v0)
		binary.BigEndian.PutUint32(out[off+4:off+8], v1)
	}
	return out, nil
}

// Encrypt ECB-encrypts src, which must be a non-empty multiple of 8 bytes.
func (c *ECBCipher) Encrypt(src []byte, _ int64) ([]byte, error) {
	if len(src) == 0 || len(src)%8 != 0 {
		return nil, fmt.Errorf("%w: tea plaintext length %d not a multiple of 8", common.ErrInvalidData, len(src))
	}
	out := make([]byte, len(src))
	for off := 0; off < len(src); off += 8 {
		v0 := binary.BigEndian.Uint32(src[off : off+4])
		v1 := binary.BigEndian.Uint32(src[off+4 : off+8])
		v0, v1 = c.encryptBlock(v0, v1)
		binary.BigEndian.PutUint32(out[off:off+4], v0)
		binary.BigEndian.PutUint32(out[off+4:off+8], v1)
	}
	return out, nil
}

func (c *ECBCipher) decryptBlock(v0, v1 uint32) (uint32, uint32) {
	k := c.k
	sum := delta * uint32(c.rounds/2)
	for i := 0; i < c.rounds/2; i++ {
		v1 -= ((v0 << 4) + k[2]) ^ (v0 + sum) ^ ((v0 >> 5) + k[3])
		v0 -= ((v1 << 4) + k[0]) ^ (v1 + sum) ^ ((v1 >> 5) + k[1])
		sum -= delta
	}
	return v0, v1
}

func (c *ECBCipher) encryptBlock(v0, v1 uint32) (uint32, uint32) {
	k := c.k
	var sum uint32
	for i := 0; i < c.rounds/2; i++ {
		sum += delta
		v0 += ((v1 << 4) + k[0]) ^ (v1 + sum) ^ ((v1 >> 5) + k[1])
		v1 += ((v0 << 4) + k[2]) ^ (v0 + sum) ^ ((v0 >> 5) + k[3])
	}
	return v0, v1
}

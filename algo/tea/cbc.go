package tea

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"unlock-music.dev/cli/algo/common"
)

// SimpleKey is the canonical 8-byte constant used by FromRecipe to
// interleave with an 8-byte recipe into a 16-byte TEA key. Its documented
// origin is tan(106 + i*0.1)*100 truncated to an absolute integer, but
// the literal below is normative - do not recompute it at runtime, since
// tan rounding varies across libm implementations.
var SimpleKey = []byte{0x69, 0x56, 0x46, 0x38, 0x2B, 0x20, 0x15, 0x0B}

const (
	cbcKeySize = 16
	cbcBlock   = 8
	cbcSaltLen = 2
	cbcZeroLen = 7
)

// CBCCipher implements the non-standard Tencent-TEA-CBC mode used to
// wrap the QMCv2 inner key. It is not standard CBC: both the salt layout
// and the XOR timing are bespoke and must be reproduced byte-for-byte.
// SupportsOffset() is false - this only ever wraps/unwraps key blobs.
type CBCCipher struct {
	common.Capabilities
	block *ECBCipher
}

// NewCBCCipher builds a Tencent-TEA-CBC cipher directly from a 16-byte TEA
// key. Most callers want FromRecipe instead.
func NewCBCCipher(key []byte, rounds int) (*CBCCipher, error) {
	if len(key) != cbcKeySize {
		return nil, fmt.Errorf("%w: tencent-tea-cbc key must be %d bytes, got %d", common.ErrInvalidParam, cbcKeySize, len(key))
	}
	block, err := NewECBCipher(key, rounds)
	if err != nil {
		return nil, err
	}
	return &CBCCipher{
		Capabilities: common.Capabilities{CipherName: "Tencent-TEA-CBC", Offset: false, CanDecrypt: true, CanEncrypt: true},
		block:        block,
	}, nil
}

// FromRecipe assembles a 16-byte TEA key from an 8-byte recipe and an
// 8-byte simpleKey (SimpleKey if nil) by interleaving
// tea_key[2i]=simpleKey[i], tea_key[2i+1]=recipe[i], then builds a
// CBCCipher from it.
func FromRecipe(recipe, simpleKey []byte, rounds int) (*CBCCipher, error) {
	if len(recipe) != cbcBlock {
		return nil, fmt.Errorf("%w: recipe must be %d bytes, got %d", common.ErrInvalidParam, cbcBlock, len(recipe))
	}
	if simpleKey == nil {
		simpleKey = SimpleKey
	}
	if len(simpleKey) != cbcBlock {
		return nil, fmt.Errorf("%w: simple key must be %d bytes, got %d", common.ErrInvalidParam, cbcBlock, len(simpleKey))
	}

	key := make([]byte, cbcKeySize)
	for i := 0; i < cbcBlock; i++ {
		key[i<<1] = simpleKey[i]
		key[(i<<1)+1] = recipe[i]
	}
	return NewCBCCipher(key, rounds)
}

// Decrypt unwraps the salt/pad/zero framing and emits the body bytes.
// The optional trailing zero-check is intentionally not performed -
// client-produced blobs fail it often enough that decoders disable it in
// practice - so a caller wanting strictness must re-derive and compare
// the trailing zero bytes itself.
func (c *CBCCipher) Decrypt(cipherData []byte, _ int64) ([]byte, error) {
	if len(cipherData)%cbcBlock != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a multiple of %d", common.ErrInvalidData, len(cipherData), cbcBlock)
	}
	if len(cipherData) < cbcBlock*2 {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes, need >= %d)", common.ErrInvalidData, len(cipherData), cbcBlock*2)
	}

	destBuf, err := c.block.Decrypt(cipherData[:cbcBlock], 0)
	if err != nil {
		return nil, err
	}
	destBuf = append([]byte(nil), destBuf...)

	padLen := int(destBuf[0] & 0x7)
	if padLen+cbcSaltLen != cbcBlock {
		return nil, fmt.Errorf("%w: invalid pad length %d", common.ErrInvalidData, padLen)
	}
	outLen := len(cipherData) - padLen - cbcSaltLen - cbcZeroLen - 1
	if outLen < 0 {
		return nil, fmt.Errorf("%w: ciphertext too short for computed body length", common.ErrInvalidData)
	}
	out := make([]byte, outLen)

	ivPrev := make([]byte, cbcBlock)
	ivCur := append([]byte(nil), cipherData[:cbcBlock]...)
	pos := cbcBlock
	destIdx := 1 + padLen

	cryptBlock := func() error {
		copy(ivPrev, ivCur)
		copy(ivCur, cipherData[pos:pos+cbcBlock])
		xored := make([]byte, cbcBlock)
		for i := 0; i < cbcBlock; i++ {
			xored[i] = destBuf[i] ^ ivCur[i]
		}
		next, err := c.block.Decrypt(xored, 0)
		if err != nil {
			return err
		}
		copy(destBuf, next)
		pos += cbcBlock
		return nil
	}

	for i := 1; i <= cbcSaltLen; {
		if destIdx < cbcBlock {
			destIdx++
			i++
			continue
		}
		if err := cryptBlock(); err != nil {
			return nil, err
		}
		destIdx = 0
	}

	for outPos := 0; outPos < outLen; {
		if destIdx < cbcBlock {
			out[outPos] = destBuf[destIdx] ^ ivPrev[destIdx]
			destIdx++
			outPos++
			continue
		}
		if err := cryptBlock(); err != nil {
			return nil, err
		}
		destIdx = 0
	}

	return out, nil
}

// Encrypt is the mirror of Decrypt: it picks a pad length so the total
// output length becomes a multiple of 8 with at least 10 bytes of
// overhead, draws random salt/pad bytes, and chains blocks with the same
// non-standard pre/post-XOR timing Decrypt expects.
func (c *CBCCipher) Encrypt(plainData []byte, _ int64) ([]byte, error) {
	outLen := c.EncryptedLen(len(plainData))
	padLen := outLen - len(plainData) - cbcSaltLen - cbcZeroLen - 1

	srcBuf := make([]byte, cbcBlock)
	b0, err := randByte()
	if err != nil {
		return nil, err
	}
	srcBuf[0] = (b0 & 0xf8) | byte(padLen)
	srcIdx := 1

	for ; padLen > 0; padLen-- {
		rb, err := randByte()
		if err != nil {
			return nil, err
		}
		srcBuf[srcIdx] = rb
		srcIdx++
	}

	ivPlain := make([]byte, cbcBlock)
	ivCrypt := make([]byte, cbcBlock)
	out := make([]byte, outLen)
	outPos := 0

	cryptBlock := func() error {
		for i := 0; i < cbcBlock; i++ {
			srcBuf[i] ^= ivCrypt[i]
		}
		enc, err := c.block.Encrypt(srcBuf, 0)
		if err != nil {
			return err
		}
		for i := 0; i < cbcBlock; i++ {
			out[outPos+i] = enc[i] ^ ivPlain[i]
		}
		copy(ivPlain, srcBuf)
		copy(ivCrypt, out[outPos:outPos+cbcBlock])
		outPos += cbcBlock
		return nil
	}

	for i := 1; i <= cbcSaltLen; {
		if srcIdx < cbcBlock {
			rb, err := randByte()
			if err != nil {
				return nil, err
			}
			srcBuf[srcIdx] = rb
			srcIdx++
			i++
		}
		if srcIdx == cbcBlock {
			if err := cryptBlock(); err != nil {
				return nil, err
			}
			srcIdx = 0
		}
	}

	for plainPos := 0; plainPos < len(plainData); {
		if srcIdx < cbcBlock {
			srcBuf[srcIdx] = plainData[plainPos]
			srcIdx++
			plainPos++
		}
		if srcIdx == cbcBlock {
			if err := cryptBlock(); err != nil {
				return nil, err
			}
			srcIdx = 0
		}
	}

	for i := 1; i <= cbcZeroLen; {
		if srcIdx < cbcBlock {
			srcBuf[srcIdx] = 0
			srcIdx++
			i++
		}
		if srcIdx == cbcBlock {
			if err := cryptBlock(); err != nil {
				return nil, err
			}
			srcIdx = 0
		}
	}

	return out, nil
}

// EncryptedLen returns the output length Encrypt will produce for a given
// plaintext length.
func (c *CBCCipher) EncryptedLen(plainLen int) int {
	total := plainLen + cbcSaltLen + cbcZeroLen + 1
	padLen := total % cbcBlock
	if padLen != 0 {
		padLen = cbcBlock - padLen
	}
	return total + padLen
}

func randByte() (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(256))
	if err != nil {
		return 0, err
	}
	return byte(n.Int64()), nil
}

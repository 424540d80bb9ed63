// Package aes implements AES-128-ECB with PKCS#7 padding, used only for
// NCM's master-key and metadata unwrap. Offsets are ignored -
// this cipher never streams audio payload.
package aes

import (
	stdaes "crypto/aes"
	"crypto/cipher"
	"fmt"

	"unlock-music.dev/cli/algo/common"
)

// CoreKey is NCM's hard-coded AES key used to unwrap the embedded master
// key. Normative - not derived at runtime.
var CoreKey = []byte{0x68, 0x7A, 0x48, 0x52, 0x41, 0x6D, 0x73, 0x6F, 0x35, 0x6B, 0x49, 0x6E, 0x62, 0x61, 0x78, 0x57}

// MetaKey is NCM's hard-coded AES key used to unwrap the embedded JSON
// metadata blob. Normative - not derived at runtime.
var MetaKey = []byte{0x23, 0x31, 0x34, 0x6C, 0x6A, 0x6B, 0x5F, 0x21, 0x5C, 0x5D, 0x26, 0x30, 0x55, 0x3C, 0x27, 0x28}

// ECBCipher implements common.Cipher for AES-128-ECB + PKCS#7. It has
// SupportsOffset() == false: it unwraps whole blobs, never streams.
type ECBCipher struct {
	common.Capabilities
	block cipher.Block
}

// NewECBCipher constructs an AES-ECB cipher from a 16-byte key.
func NewECBCipher(key []byte) (*ECBCipher, error) {
	block, err := stdaes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: new cipher: %w", err)
	}
	return &ECBCipher{
		Capabilities: common.Capabilities{CipherName: "AES-128-ECB+PKCS7", Offset: false, CanDecrypt: true, CanEncrypt: true},
		block:        block,
	}, nil
}

// Decrypt strips PKCS#7 padding after ECB-decrypting src, which must be a
// non-empty multiple of the block size.
func (c *ECBCipher) Decrypt(src []byte, _ int64) ([]byte, error) {
	blockSize := c.block.BlockSize()
	if len(src) == 0 || len(src)%blockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a multiple of %d", common.ErrInvalidData, len(src), blockSize)
	}

	out := make([]byte, len(src))
	for off := 0; off < len(src); off += blockSize {
		c.block.Decrypt(out[off:off+blockSize], src[off:off+blockSize])
	}
	return unpadPKCS7(out, blockSize)
}

// Encrypt pads src with PKCS#7 to a multiple of the block size, then
// ECB-encrypts it.
func (c *ECBCipher) Encrypt(src []byte, _ int64) ([]byte, error) {
	blockSize := c.block.BlockSize()
	padded := padPKCS7(src, blockSize)

	out := make([]byte, len(padded))
	for off := 0; off < len(padded); off += blockSize {
		c.block.Encrypt(out[off:off+blockSize], padded[off:off+blockSize])
	}
	return out, nil
}

func padPKCS7(src []byte, blockSize int) []byte {
	padLen := blockSize - len(src)%blockSize
	out := make([]byte, len(src)+padLen)
	copy(out, src)
	for i := len(src); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func unpadPKCS7(src []byte, blockSize int) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty buffer has no padding", common.ErrInvalidData)
	}
	padLen := int(src[len(src)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(src) {
		return nil, fmt.Errorf("%w: invalid PKCS7 padding length %d", common.ErrInvalidData, padLen)
	}
	for _, b := range src[len(src)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: inconsistent PKCS7 padding bytes", common.ErrInvalidData)
		}
	}
	return src[:len(src)-padLen], nil
}

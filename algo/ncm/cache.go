package ncm

import (
	"unlock-music.dev/cli/algo/common"
	"unlock-music.dev/cli/internal/simd"
)

// cacheXORByte is NCM-cache's fixed XOR key.
const cacheXORByte = 0xA3

// CacheCipher is NCM-cache's trivial XOR-163 keyless cipher:
// plain[i] = cipher[i] XOR 0xA3, stateless and offset-independent.
type CacheCipher struct {
	common.Capabilities
}

// NewCacheCipher constructs the XOR-163 keyless cipher.
func NewCacheCipher() *CacheCipher {
	return &CacheCipher{common.Capabilities{CipherName: "XOR Only (with integer 163)", Offset: true, CanDecrypt: true, CanEncrypt: true}}
}

// Decrypt XORs every byte against 0xA3.
func (CacheCipher) Decrypt(src []byte, _ int64) ([]byte, error) {
	out := append([]byte(nil), src...)
	simd.XORBlock(out, cacheXORByte)
	return out, nil
}

// Encrypt is identical to Decrypt: XOR is its own inverse.
func (c CacheCipher) Encrypt(src []byte, offset int64) ([]byte, error) {
	return c.Decrypt(src, offset)
}

// CacheContainer wraps an NCM-cache (*.uc!) file: a bare XOR-163 stream
// with no header, trailer, or embedded metadata.
type CacheContainer struct {
	cipher *CacheCipher
}

// OpenCache builds an NCM-cache container descriptor. The caller is
// expected to feed the raw file bytes to a common.Stream via Cipher().
func OpenCache() *CacheContainer {
	return &CacheContainer{cipher: NewCacheCipher()}
}

// Cipher returns the XOR-163 cipher backing this container.
func (c *CacheContainer) Cipher() *CacheCipher { return c.cipher }

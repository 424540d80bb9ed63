// Package ncm implements NetEase CloudMusic's DRM container format: the
// NCM RC4-variant keystream, the NCM container codec, and the NCM-cache
// XOR-163 keyless cipher.
package ncm

import (
	"fmt"
	"sync"

	"unlock-music.dev/cli/algo/common"
)

// boxPool recycles the 256-byte scratch arrays used while deriving a
// cipher's keystream ring, avoiding a fresh allocation per NCM file opened.
var boxPool = sync.Pool{
	New: func() interface{} { return make([]byte, 256) },
}

func getBox() []byte { return boxPool.Get().([]byte) }

func putBox(box []byte) {
	if len(box) != 256 {
		return
	}
	for i := range box {
		box[i] = 0
	}
	boxPool.Put(box)
}

// RC4Cipher is NCM's non-standard RC4-variant keystream: a key-scheduled
// 256-byte S-box is precomputed once into a 256-byte keystream ring, then
// every plaintext byte at offset p is simply ciphertext[i] XOR ring[p&0xff].
type RC4Cipher struct {
	common.Capabilities
	ring []byte
}

// NewRC4Cipher builds the keystream ring from key via RC4-KSA followed by
// the ring-construction pass in buildKeyRing.
func NewRC4Cipher(key []byte) (*RC4Cipher, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: ncm rc4 key must not be empty", common.ErrInvalidParam)
	}
	return &RC4Cipher{
		Capabilities: common.Capabilities{CipherName: "NCM RC4-variant", Offset: true, CanDecrypt: true, CanEncrypt: true},
		ring:         buildKeyRing(key),
	}, nil
}

// Decrypt XORs src against the keystream ring, indexed by absolute offset
// modulo 256.
func (c *RC4Cipher) Decrypt(src []byte, offset int64) ([]byte, error) {
	out := make([]byte, len(src))
	base := int(offset & 0xff)
	for i := range src {
		out[i] = src[i] ^ c.ring[(base+i)&0xff]
	}
	return out, nil
}

// Encrypt is identical to Decrypt: XOR is its own inverse.
func (c *RC4Cipher) Encrypt(src []byte, offset int64) ([]byte, error) {
	return c.Decrypt(src, offset)
}

// buildKeyRing runs a standard 256-byte RC4-KSA to produce S, then
// precomputes the 256-byte ring R where
// R[i] = S[(S[(i+1)&0xff] + S[((i+1)+S[(i+1)&0xff])&0xff]) & 0xff].
func buildKeyRing(key []byte) []byte {
	s := getBox()
	defer putBox(s)

	for i := 0; i < 256; i++ {
		s[i] = byte(i)
	}

	keyLen := len(key)
	var j byte
	for i := 0; i < 256; i++ {
		j = s[i] + j + key[i%keyLen]
		s[i], s[j] = s[j], s[i]
	}

	ring := make([]byte, 256)
	for i := 0; i < 256; i++ {
		iPlus1 := byte(i + 1)
		si := s[iPlus1]
		sj := s[iPlus1+si]
		ring[i] = s[si+sj]
	}
	return ring
}

package qmc

import (
	"fmt"
	"sync"

	"unlock-music.dev/cli/algo/common"
)

// rc4BoxPool recycles per-size RC4 scratch boxes: every segment decrypt
// needs a fresh copy of the base permutation box (box size equals key
// length, which varies per file), so pooling by size avoids a fresh
// allocation on every 5120-byte segment.
type rc4BoxPool struct {
	pools sync.Map // size int -> *sync.Pool
}

var globalRC4BoxPool rc4BoxPool

func (p *rc4BoxPool) get(size int) []byte {
	v, ok := p.pools.Load(size)
	if !ok {
		v, _ = p.pools.LoadOrStore(size, &sync.Pool{New: func() any { return make([]byte, size) }})
	}
	return v.(*sync.Pool).Get().([]byte)
}

func (p *rc4BoxPool) put(box []byte) {
	if len(box) == 0 {
		return
	}
	v, ok := p.pools.Load(len(box))
	if !ok {
		return
	}
	clear(box)
	v.(*sync.Pool).Put(box)
}

const (
	rc4SegmentSize      = 5120
	rc4FirstSegmentSize = 128
)

// RC4Cipher is QMCv2's Modified-RC4 variant: box size equals key length
// (not 256), segmented so random access never needs long-lived RC4 state
// between reads.
type RC4Cipher struct {
	common.Capabilities
	key  []byte
	box  []byte
	hash uint32
	n    int
}

// NewRC4Cipher builds a Modified-RC4 cipher. key must be non-empty;
// callers route keys longer than 300 bytes here.
func NewRC4Cipher(key []byte) (*RC4Cipher, error) {
	n := len(key)
	if n == 0 {
		return nil, fmt.Errorf("%w: qmc rc4 key must not be empty", common.ErrInvalidParam)
	}

	c := &RC4Cipher{
		Capabilities: common.Capabilities{CipherName: "QMCv2 Modified-RC4", Offset: true, CanDecrypt: true, CanEncrypt: true},
		key:          key,
		n:            n,
		box:          make([]byte, n),
	}
	for i := 0; i < n; i++ {
		c.box[i] = byte(i)
	}
	j := 0
	for i := 0; i < n; i++ {
		j = (j + int(c.box[i]) + int(key[i%n])) % n
		c.box[i], c.box[j] = c.box[j], c.box[i]
	}
	c.hash = computeHashBase(key)
	return c, nil
}

// computeHashBase derives the segment-skip hash from the key: start at 1,
// multiply by each non-zero key byte mod 2^32, stopping early on
// overflow-to-zero or non-increase.
func computeHashBase(key []byte) uint32 {
	hash := uint32(1)
	for _, k := range key {
		if k == 0 {
			continue
		}
		next := hash * uint32(k)
		if next == 0 || next <= hash {
			break
		}
		hash = next
	}
	return hash
}

// Decrypt works through up to four phases from an arbitrary offset:
// first-segment bytes in [0,128), then partial/whole/partial 5120-byte
// remaining segments.
func (c *RC4Cipher) Decrypt(src []byte, offset int64) ([]byte, error) {
	out := append([]byte(nil), src...)
	pos := int(offset)
	toProcess := len(out)
	processed := 0

	markProcessed := func(n int) bool {
		pos += n
		toProcess -= n
		processed += n
		return toProcess == 0
	}

	if pos < rc4FirstSegmentSize {
		blockSize := toProcess
		if blockSize > rc4FirstSegmentSize-pos {
			blockSize = rc4FirstSegmentSize - pos
		}
		c.decryptFirstSegment(out[:blockSize], pos)
		if markProcessed(blockSize) {
			return out, nil
		}
	}

	if pos%rc4SegmentSize != 0 {
		blockSize := toProcess
		if blockSize > rc4SegmentSize-pos%rc4SegmentSize {
			blockSize = rc4SegmentSize - pos%rc4SegmentSize
		}
		c.decryptSegment(out[processed:processed+blockSize], pos)
		if markProcessed(blockSize) {
			return out, nil
		}
	}

	for toProcess > rc4SegmentSize {
		c.decryptSegment(out[processed:processed+rc4SegmentSize], pos)
		markProcessed(rc4SegmentSize)
	}

	if toProcess > 0 {
		c.decryptSegment(out[processed:], pos)
	}
	return out, nil
}

// Encrypt is identical to Decrypt: the cipher is a pure position-keyed
// keystream XOR.
func (c *RC4Cipher) Encrypt(src []byte, offset int64) ([]byte, error) {
	return c.Decrypt(src, offset)
}

func (c *RC4Cipher) decryptFirstSegment(buf []byte, offset int) {
	for i := range buf {
		buf[i] ^= c.key[c.segmentSkip(offset+i)]
	}
}

func (c *RC4Cipher) decryptSegment(buf []byte, offset int) {
	box := globalRC4BoxPool.get(c.n)
	defer globalRC4BoxPool.put(box)
	copy(box, c.box)

	j, k := 0, 0
	skipLen := (offset % rc4SegmentSize) + c.segmentSkip(offset/rc4SegmentSize)
	for i := -skipLen; i < len(buf); i++ {
		j = (j + 1) % c.n
		k = (int(box[j]) + k) % c.n
		box[j], box[k] = box[k], box[j]
		if i >= 0 {
			buf[i] ^= box[(int(box[j])+int(box[k]))%c.n]
		}
	}
}

// segmentSkip computes a segment's discard count. The division MUST go
// through a 64-bit float multiply-then-truncate: integer division produces
// off-by-one skip values against files the client actually writes.
func (c *RC4Cipher) segmentSkip(v int) int {
	seed := int(c.key[v%c.n])
	idx := int64(float64(c.hash) / float64((v+1)*seed) * 100.0)
	return int(idx % int64(c.n))
}

// Package simd provides batched byte-XOR helpers used as the backing
// implementation for algo/common's offset-keyed XOR utilities and for
// QMCv1's legacy in-code static box.
package simd

import (
	"runtime"
	"unsafe"
)

// XOROptimized XORs data in place against a repeating key, where the key
// byte used for data[i] is key[(offset+i)%len(key)]. Falls back to a plain
// loop for small buffers or non-amd64 targets.
func XOROptimized(data []byte, key []byte, offset int) {
	if len(data) == 0 || len(key) == 0 {
		return
	}

	if len(data) < 64 {
		xorStandard(data, key, offset)
		return
	}

	if runtime.GOARCH == "amd64" && len(data) >= 16 {
		xorBatched(data, key, offset)
	} else {
		xorStandard(data, key, offset)
	}
}

func xorStandard(data []byte, key []byte, offset int) {
	keyLen := len(key)
	for i := 0; i < len(data); i++ {
		data[i] ^= key[(offset+i)%keyLen]
	}
}

// xorBatched processes data in 16-byte batches, re-deriving the repeating
// key window for each batch. This is a plain batched loop, not real vector
// instructions - Go's compiler gets the auto-vectorization from the inner
// loop shape, not from anything architecture-specific here.
func xorBatched(data []byte, key []byte, offset int) {
	keyLen := len(key)
	dataLen := len(data)

	batchedLen := (dataLen / 16) * 16
	if batchedLen > 0 {
		for base := 0; base < batchedLen; base += 16 {
			for j := 0; j < 16; j++ {
				data[base+j] ^= key[(offset+base+j)%keyLen]
			}
		}
	}

	for i := batchedLen; i < dataLen; i++ {
		data[i] ^= key[(offset+i)%keyLen]
	}
}

// XORBlock XORs every byte of data against a single repeated mask byte.
func XORBlock(data []byte, mask byte) {
	if len(data) == 0 {
		return
	}

	if len(data) >= 8 {
		xorBlockWord(data, mask)
		return
	}
	for i := range data {
		data[i] ^= mask
	}
}

// xorBlockWord XORs 8 bytes at a time via a widened mask word.
func xorBlockWord(data []byte, mask byte) {
	mask64 := uint64(mask)
	mask64 |= mask64 << 8
	mask64 |= mask64 << 16
	mask64 |= mask64 << 32

	alignedLen := (len(data) / 8) * 8
	for i := 0; i < alignedLen; i += 8 {
		ptr := (*uint64)(unsafe.Pointer(&data[i]))
		*ptr ^= mask64
	}
	for i := alignedLen; i < len(data); i++ {
		data[i] ^= mask
	}
}

// OldStaticMap is QMCv1's legacy in-code 256-byte box, used only when the
// bundled segment-file asset is unavailable. The absolute offset p is first
// folded at 0x7FFF (foldOldStaticMapOffset), and the mask index is then
// (p*p + 27) mod 256 of the folded value, independent of any loaded asset.
type OldStaticMap struct {
	box [256]byte
}

// NewOldStaticMap builds the legacy box from the given 256-byte table.
func NewOldStaticMap(box [256]byte) *OldStaticMap {
	return &OldStaticMap{box: box}
}

// Decrypt XORs buf in place against the legacy box, treating buf[0] as the
// byte at absolute offset.
func (c *OldStaticMap) Decrypt(buf []byte, offset int) {
	if len(buf) == 0 {
		return
	}
	if len(buf) >= 256 {
		c.decryptBatched(buf, offset)
		return
	}
	c.decryptStandard(buf, offset)
}

// oldStaticMapFold mirrors DynamicMap's offset-folding threshold: the
// legacy box is only ever indexed mod 256, but the position used to
// compute that index folds at the same 0x7FFF boundary first, matching
// every other QMC position-keyed cipher.
const oldStaticMapFold = 0x7FFF

func foldOldStaticMapOffset(pos int) int {
	if pos > oldStaticMapFold {
		return pos % oldStaticMapFold
	}
	return pos
}

func (c *OldStaticMap) decryptStandard(buf []byte, offset int) {
	for i := 0; i < len(buf); i++ {
		pos := foldOldStaticMapOffset(offset + i)
		maskIdx := (pos*pos + 27) & 0xff
		buf[i] ^= c.box[maskIdx]
	}
}

func (c *OldStaticMap) decryptBatched(buf []byte, offset int) {
	const batchSize = 64
	bufLen := len(buf)
	for start := 0; start < bufLen; start += batchSize {
		end := start + batchSize
		if end > bufLen {
			end = bufLen
		}
		batch := buf[start:end]
		for i := range batch {
			pos := foldOldStaticMapOffset(offset + start + i)
			maskIdx := (pos*pos + 27) & 0xff
			batch[i] ^= c.box[maskIdx]
		}
	}
}

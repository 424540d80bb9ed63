package pool

import (
	"fmt"
	"sync"
)

// BufferPool recycles byte slices across a small set of fixed tiers so
// hot read paths (header probing, segment decrypt, stream copy) don't
// allocate fresh buffers on every call.
type BufferPool struct {
	pools map[int]*sync.Pool
	mutex sync.RWMutex
}

// Predefined buffer tiers.
const (
	SmallBufferSize  = 4 * 1024        // header probing, key trailers
	MediumBufferSize = 64 * 1024       // general stream copy
	LargeBufferSize  = 1024 * 1024     // large payload buffering
	XLargeBufferSize = 4 * 1024 * 1024 // bulk mmap fallback reads
)

var (
	globalBufferPool *BufferPool
	once             sync.Once
)

// GetGlobalPool returns the process-wide buffer pool.
func GetGlobalPool() *BufferPool {
	once.Do(func() {
		globalBufferPool = NewBufferPool()
	})
	return globalBufferPool
}

// NewBufferPool builds a buffer pool with the four standard tiers
// pre-created.
func NewBufferPool() *BufferPool {
	bp := &BufferPool{
		pools: make(map[int]*sync.Pool),
	}
	bp.initPool(SmallBufferSize)
	bp.initPool(MediumBufferSize)
	bp.initPool(LargeBufferSize)
	bp.initPool(XLargeBufferSize)
	return bp
}

func (bp *BufferPool) initPool(size int) {
	bp.pools[size] = &sync.Pool{
		New: func() any {
			return make([]byte, size)
		},
	}
}

// Get returns a buffer at least size bytes long, sliced to exactly size.
func (bp *BufferPool) Get(size int) []byte {
	poolSize := bp.findBestPoolSize(size)

	bp.mutex.RLock()
	p, exists := bp.pools[poolSize]
	bp.mutex.RUnlock()

	if !exists {
		bp.mutex.Lock()
		if p, exists = bp.pools[poolSize]; !exists {
			bp.initPool(poolSize)
			p = bp.pools[poolSize]
		}
		bp.mutex.Unlock()
	}

	buf := p.Get().([]byte)
	if len(buf) != poolSize {
		buf = make([]byte, poolSize)
	}
	return buf[:size]
}

// Put returns buf to the pool matching its capacity. Buffers whose
// capacity doesn't match a known tier are left for the GC.
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) == 0 {
		return
	}

	capacity := cap(buf)
	poolSize := bp.findBestPoolSize(capacity)

	bp.mutex.RLock()
	p, exists := bp.pools[poolSize]
	bp.mutex.RUnlock()

	if exists && capacity == poolSize {
		buf = buf[:capacity]
		// Only zero the leading bytes that may hold key/header material;
		// a megabyte-sized audio buffer doesn't need a full clear.
		clearSize := 64
		if capacity <= SmallBufferSize {
			clearSize = capacity
		} else if len(buf) < clearSize {
			clearSize = len(buf)
		}
		for i := 0; i < clearSize; i++ {
			buf[i] = 0
		}
		p.Put(buf)
	}
}

// findBestPoolSize rounds size up to the smallest tier that fits it, or
// to the next power of two above XLargeBufferSize.
func (bp *BufferPool) findBestPoolSize(size int) int {
	switch {
	case size <= SmallBufferSize:
		return SmallBufferSize
	case size <= MediumBufferSize:
		return MediumBufferSize
	case size <= LargeBufferSize:
		return LargeBufferSize
	case size <= XLargeBufferSize:
		return XLargeBufferSize
	default:
		return nextPowerOfTwo(size)
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	power := 1
	for power < n {
		power <<= 1
	}
	return power
}

// GetBuffer returns a buffer of the given size from the global pool.
func GetBuffer(size int) []byte {
	return GetGlobalPool().Get(size)
}

// PutBuffer returns a buffer to the global pool.
func PutBuffer(buf []byte) {
	GetGlobalPool().Put(buf)
}

var bufferSizeCache = make(map[string]int)
var bufferSizeCacheMutex sync.RWMutex

// GetOptimalBufferSize picks a buffer tier from a file's size and
// container extension, memoizing the result per (size-in-MiB, ext) pair.
func GetOptimalBufferSize(fileSize int64, fileExt string) int {
	cacheKey := fmt.Sprintf("%d_%s", fileSize/(1024*1024), fileExt)

	bufferSizeCacheMutex.RLock()
	if cachedSize, exists := bufferSizeCache[cacheKey]; exists {
		bufferSizeCacheMutex.RUnlock()
		return cachedSize
	}
	bufferSizeCacheMutex.RUnlock()

	var baseSize int
	switch {
	case fileSize < 1024*1024:
		baseSize = SmallBufferSize
	case fileSize < 10*1024*1024:
		baseSize = MediumBufferSize
	case fileSize < 100*1024*1024:
		baseSize = LargeBufferSize
	default:
		baseSize = XLargeBufferSize
	}

	switch fileExt {
	case ".ncm", ".uc!":
		// NCM header parse + AES/RC4 stream; benefits from a bigger
		// floor than tiny sidecar files.
		if baseSize < MediumBufferSize {
			baseSize = MediumBufferSize
		}
	case ".qmcflac", ".qmcogg", ".mflac", ".mgg":
		// QMCv1/v2 lossless containers run large; give segment decrypt
		// room to batch.
		if baseSize < LargeBufferSize {
			baseSize = LargeBufferSize
		}
	case ".qmc0", ".qmc2", ".qmc3", ".qmc4", ".qmc6", ".qmc8":
		// Lossy QMC containers are comparatively small.
		if baseSize > MediumBufferSize {
			baseSize = MediumBufferSize
		}
	}

	bufferSizeCacheMutex.Lock()
	bufferSizeCache[cacheKey] = baseSize
	bufferSizeCacheMutex.Unlock()

	return baseSize
}

// GetOptimalBuffer returns a buffer sized by GetOptimalBufferSize.
func GetOptimalBuffer(fileSize int64, fileExt string) []byte {
	return GetGlobalPool().Get(GetOptimalBufferSize(fileSize, fileExt))
}

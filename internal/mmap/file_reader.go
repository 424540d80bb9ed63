//go:build !windows
// +build !windows

package mmap

import (
	"fmt"
	"io"
	"os"
	"syscall"
)

// OptimizedFileReader backs a payloadSource with a read-only mmap of the
// whole file, falling back to plain os.File reads if the mmap call itself
// fails (e.g. an unusual filesystem that doesn't support it). Callers decide
// whether a file is worth mapping; this type never second-guesses that by
// imposing its own size floor (algo/common/stream.go's mmapThreshold is the
// single source of truth for that decision).
type OptimizedFileReader struct {
	file    *os.File
	data    []byte
	size    int64
	useMmap bool
}

// NewOptimizedFileReader opens filename and maps it into memory.
func NewOptimizedFileReader(filename string) (*OptimizedFileReader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	size := stat.Size()

	data, err := mmapUnix(file, size)
	if err != nil {
		return &OptimizedFileReader{file: file, size: size}, nil
	}

	return &OptimizedFileReader{file: file, data: data, size: size, useMmap: true}, nil
}

// ReadAt implements io.ReaderAt against the mapped region, or the backing
// file when the mapping failed at construction time.
func (r *OptimizedFileReader) ReadAt(p []byte, off int64) (int, error) {
	if !r.useMmap {
		return r.file.ReadAt(p, off)
	}

	if off < 0 || off >= r.size {
		return 0, io.EOF
	}

	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file, if mapped, and closes the underlying descriptor.
func (r *OptimizedFileReader) Close() error {
	var err error
	if r.data != nil {
		if unmapErr := syscall.Munmap(r.data); unmapErr != nil {
			err = fmt.Errorf("unmap file: %w", unmapErr)
		}
		r.data = nil
	}
	if closeErr := r.file.Close(); closeErr != nil {
		if err != nil {
			err = fmt.Errorf("%w; close file: %w", err, closeErr)
		} else {
			err = fmt.Errorf("close file: %w", closeErr)
		}
	}
	return err
}

func mmapUnix(file *os.File, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: empty file")
	}
	return syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
}

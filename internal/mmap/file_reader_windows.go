//go:build windows
// +build windows

package mmap

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"unsafe"
)

const (
	fileMapRead  = 0x0004
	pageReadOnly = 0x02
	// maxMmapSize bounds CreateFileMapping's 32-bit size arguments; files
	// above this fall back to plain file reads instead.
	maxMmapSize = 1 << 30
)

var (
	kernel32              = syscall.NewLazyDLL("kernel32.dll")
	procCreateFileMapping = kernel32.NewProc("CreateFileMappingW")
	procMapViewOfFile     = kernel32.NewProc("MapViewOfFile")
	procUnmapViewOfFile   = kernel32.NewProc("UnmapViewOfFile")
	procCloseHandle       = kernel32.NewProc("CloseHandle")
)

// OptimizedFileReader is the Windows counterpart of the Unix
// OptimizedFileReader: it backs a payloadSource with a CreateFileMapping
// view when possible, falling back to ReadAt on the open file otherwise.
type OptimizedFileReader struct {
	file          *os.File
	data          []byte
	size          int64
	mappingHandle uintptr
	useMmap       bool
}

// NewOptimizedFileReader opens filename and maps it into memory via the
// Windows file-mapping API.
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

	data, mappingHandle, err := mmapWindows(file, size)
	if err != nil {
		return &OptimizedFileReader{file: file, size: size}, nil
	}

	return &OptimizedFileReader{file: file, data: data, size: size, mappingHandle: mappingHandle, useMmap: true}, nil
}

// ReadAt implements io.ReaderAt against the mapped view, or the backing
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

// Close unmaps the view, if mapped, and closes the underlying file.
func (r *OptimizedFileReader) Close() error {
	var err error
	if r.useMmap && r.data != nil {
		if unmapErr := munmapWindows(r.data, r.mappingHandle); unmapErr != nil {
			err = unmapErr
		}
		r.data = nil
		r.mappingHandle = 0
	}
	if closeErr := r.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func mmapWindows(file *os.File, size int64) ([]byte, uintptr, error) {
	if size <= 0 {
		return nil, 0, fmt.Errorf("invalid file size: %d", size)
	}
	if size > maxMmapSize {
		return nil, 0, fmt.Errorf("file too large for memory mapping: %d bytes (max: %d)", size, maxMmapSize)
	}

	fileHandle := syscall.Handle(file.Fd())
	if fileHandle == syscall.InvalidHandle {
		return nil, 0, fmt.Errorf("invalid file handle")
	}

	mappingHandle, _, err := procCreateFileMapping.Call(
		uintptr(fileHandle),
		0,
		pageReadOnly,
		0,
		uintptr(size),
		0,
	)
	if mappingHandle == 0 {
		return nil, 0, fmt.Errorf("CreateFileMapping failed: %w", err)
	}

	viewPtr, _, err := procMapViewOfFile.Call(
		mappingHandle,
		fileMapRead,
		0,
		0,
		uintptr(size),
	)
	if viewPtr == 0 {
		procCloseHandle.Call(mappingHandle)
		return nil, 0, fmt.Errorf("MapViewOfFile failed: %w", err)
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(viewPtr)), size)
	return data, mappingHandle, nil
}

func munmapWindows(data []byte, mappingHandle uintptr) error {
	var err error
	if len(data) > 0 {
		dataPtr := uintptr(unsafe.Pointer(&data[0]))
		if ret, _, winErr := procUnmapViewOfFile.Call(dataPtr); ret == 0 {
			err = fmt.Errorf("UnmapViewOfFile failed: %w", winErr)
		}
	}
	if mappingHandle != 0 {
		if ret, _, winErr := procCloseHandle.Call(mappingHandle); ret == 0 && err == nil {
			err = fmt.Errorf("CloseHandle failed: %w", winErr)
		}
	}
	return err
}

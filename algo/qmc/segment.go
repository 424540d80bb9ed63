package qmc

import (
	"fmt"
	"os"
	"sync"

	"unlock-music.dev/cli/algo/common"
)

// Segment sizes for the bundled StaticMap asset.
const (
	FirstSegmentSize     = 32768
	RemainingSegmentSize = 32767
)

// segmentTable holds the process-wide StaticMap asset: the first 32768
// bytes of the bundled segment file and the following 32767 bytes. It is
// loaded lazily on first use and then shared read-only by every StaticMap
// cipher instance.
type segmentTable struct {
	once      sync.Once
	err       error
	first     []byte
	remaining []byte
}

var globalSegmentTable segmentTable

// LoadSegmentFile loads the bundled QMCv1 keystream asset from path exactly
// once for the process; subsequent calls (with any path) return the
// already-loaded table. The asset is a byte-literal table: it cannot be
// regenerated, and any altered copy produces a garbage keystream.
func LoadSegmentFile(path string) error {
	globalSegmentTable.once.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			globalSegmentTable.err = fmt.Errorf("qmc: load segment file: %w", err)
			return
		}
		if len(data) < FirstSegmentSize+RemainingSegmentSize {
			globalSegmentTable.err = fmt.Errorf("%w: segment file too short (%d bytes)", common.ErrInvalidData, len(data))
			return
		}
		globalSegmentTable.first = data[:FirstSegmentSize]
		globalSegmentTable.remaining = data[FirstSegmentSize : FirstSegmentSize+RemainingSegmentSize]
	})
	return globalSegmentTable.err
}

// segmentTableLoaded reports whether LoadSegmentFile has successfully run.
func segmentTableLoaded() bool {
	return globalSegmentTable.first != nil
}

package qmc

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"unlock-music.dev/cli/algo/common"
	"unlock-music.dev/cli/internal/sniff"
)

// OpenV1 opens a QMCv1 file: the whole file is the StaticMap-
// ciphered payload, with no trailer or embedded key. Dispatch routes the
// qmc0/qmc2/qmc3/qmc4/qmc6/qmc8 extensions here (qmcflac/qmcogg go to
// OpenV2). The decrypted header is sniffed for a known audio magic; a miss
// is only logged as a warning and the stream is still returned.
// LoadSegmentFile must have been called first; if it hasn't, this falls
// back to the legacy in-code 256-byte box via oldBox.
func OpenV1(path string, oldBox *[256]byte, logger *zap.Logger) (*common.Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("qmc: stat v1 file: %w", err)
	}
	size := info.Size()

	var cipher common.Cipher
	if segmentTableLoaded() {
		cipher, err = NewStaticMapCipher()
	} else if oldBox != nil {
		cipher = NewOldStaticMapCipher(*oldBox)
	} else {
		return nil, fmt.Errorf("%w: qmcv1 needs a loaded segment file or a legacy box", common.ErrInvalidParam)
	}
	if err != nil {
		return nil, err
	}

	stream, err := common.OpenFileStream(cipher, path, 0, size, logger)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 256)
	if n, err := stream.Read(header); err != nil && n == 0 {
		stream.Close()
		return nil, fmt.Errorf("qmc: read v1 header: %w", err)
	} else {
		header = header[:n]
	}
	if _, ok := sniff.AudioExtension(header); !ok {
		logger.Warn("qmc v1: decrypted header did not match a known audio magic", zap.String("path", path))
	}
	if _, err := stream.Seek(0, 0); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

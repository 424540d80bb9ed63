package qmc

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"unlock-music.dev/cli/algo/common"
	"unlock-music.dev/cli/internal/cache"
)

// newKeyFormatMarker is the "25 02 00 00" trailer Tencent's newer QMCv2
// key scheme emits. That scheme is not parsed here; this module only
// recognizes the marker well enough to fall back to legacy mask recovery
// instead of misreading it as a raw key length.
var newKeyFormatMarker = []byte{0x25, 0x02, 0x00, 0x00}

// maxRawKeyTrailerLen is the upper bound on a raw-trailer key block
// length. This bounds the trailer's encoded-and-wrapped key bytes,
// distinct from maxDynamicMapKeyLen, which bounds the unwrapped key
// handed to cipher selection.
const maxRawKeyTrailerLen = 0x300

// V2Meta carries the extra identifiers a QTag trailer exposes alongside
// the key; both are informational and never affect the cipher selection.
type V2Meta struct {
	SongID    int
	RawExtra2 int
}

// OpenV2 opens a QMCv2 file: the key lives in one of several trailer
// shapes, or must be recovered from the payload itself for the legacy
// mflac/mgg fallback.
func OpenV2(path string, logger *zap.Logger) (*common.Stream, *V2Meta, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("qmc: open v2 file: %w", err)
	}
	defer f.Close()

	fileSizeM4, err := f.Seek(-4, io.SeekEnd)
	if err != nil {
		return nil, nil, fmt.Errorf("qmc: seek v2 trailer: %w", err)
	}
	fileSize := fileSizeM4 + 4

	suffix := make([]byte, 4)
	if _, err := io.ReadFull(f, suffix); err != nil {
		return nil, nil, fmt.Errorf("qmc: read v2 trailer tag: %w", err)
	}

	var (
		key        []byte
		meta       *V2Meta
		audioLen   int64
		legacyMask bool
	)

	switch {
	case string(suffix) == "QTag":
		key, meta, audioLen, err = readMetaQTag(f, fileSize)
	case string(suffix) == "STag", bytes.Equal(suffix, newKeyFormatMarker):
		// "STag", and the "new key format" marker 25 02 00 00, both mean
		// the trailer carries no recoverable key; the marker itself is a
		// 4-byte trailer, not payload, so it is excluded from the span
		// handed to mask recovery and the stream.
		audioLen = fileSizeM4
		key, legacyMask, err = recoverKeyless(f, path, audioLen, logger)
	default:
		rawKeyLen := binary.LittleEndian.Uint32(suffix)
		if rawKeyLen != 0 && rawKeyLen <= maxRawKeyTrailerLen {
			key, audioLen, err = readRawKey(f, fileSize, int64(rawKeyLen))
		} else {
			// No recognized trailer shape: these 4 bytes are themselves
			// payload, so the whole file is the audio span - the legacy
			// mflac/mgg no-trailer case.
			audioLen = fileSize
			key, legacyMask, err = recoverKeyless(f, path, audioLen, logger)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	var cipher common.Cipher
	if legacyMask {
		cipher, err = NewKey256MaskCipher(key)
	} else {
		cipher, err = NewCipherForKey(key)
	}
	if err != nil {
		return nil, nil, err
	}

	stream, err := common.OpenFileStream(cipher, path, 0, audioLen, logger)
	if err != nil {
		return nil, nil, err
	}
	return stream, meta, nil
}

// SaveV2 writes a QMCv2 container to w: the already-encrypted payload
// followed by the wrapped key in either the raw-key or QTag trailer
// layout. meta selects the QTag layout when non-nil. The key is
// re-wrapped with fresh TEA-CBC salt on every save, so two saves of the
// same container differ in trailer bytes while unwrapping identically.
func SaveV2(w io.Writer, payload io.Reader, key []byte, meta *V2Meta) error {
	if _, err := io.Copy(w, payload); err != nil {
		return fmt.Errorf("qmc: write v2 payload: %w", err)
	}

	wrapped, err := EncryptKey(key, nil)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(wrapped)

	lenField := make([]byte, 4)
	if meta == nil {
		if _, err := io.WriteString(w, encoded); err != nil {
			return fmt.Errorf("qmc: write v2 key trailer: %w", err)
		}
		binary.LittleEndian.PutUint32(lenField, uint32(len(encoded)))
		if _, err := w.Write(lenField); err != nil {
			return fmt.Errorf("qmc: write v2 key length: %w", err)
		}
		return nil
	}

	extra := meta.RawExtra2
	if extra == 0 {
		// Observed default for the undocumented third QTag field when
		// creating new files.
		extra = 2
	}
	body := fmt.Sprintf("%s,%d,%d", encoded, meta.SongID, extra)
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("qmc: write qtag body: %w", err)
	}
	binary.BigEndian.PutUint32(lenField, uint32(len(body)))
	if _, err := w.Write(lenField); err != nil {
		return fmt.Errorf("qmc: write qtag length: %w", err)
	}
	if _, err := io.WriteString(w, "QTag"); err != nil {
		return fmt.Errorf("qmc: write qtag marker: %w", err)
	}
	return nil
}

// readRawKey reads a trailing [key bytes][uint32 rawKeyLen] footer, trims
// NUL padding, base64-decodes, and unwraps the TEA-CBC framing.
func readRawKey(f *os.File, fileSize, rawKeyLen int64) ([]byte, int64, error) {
	audioLen, err := f.Seek(-(4 + rawKeyLen), io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("qmc: seek raw key: %w", err)
	}

	raw, err := io.ReadAll(io.LimitReader(f, rawKeyLen))
	if err != nil {
		return nil, 0, fmt.Errorf("qmc: read raw key: %w", err)
	}
	raw = bytes.TrimRight(raw, "\x00")

	decoded, err := DecodeBase64Key(raw)
	if err != nil {
		return nil, 0, err
	}
	key, err := DecryptKey(decoded)
	if err != nil {
		return nil, 0, err
	}
	return key, audioLen, nil
}

// readMetaQTag reads a trailing "QTag" footer: a comma-separated
// "base64key,songid,extra2" triple followed by an 8-byte footer (4-byte
// big-endian meta length, then the "QTag" marker already consumed by the
// caller).
func readMetaQTag(f *os.File, fileSize int64) ([]byte, *V2Meta, int64, error) {
	if _, err := f.Seek(-8, io.SeekEnd); err != nil {
		return nil, nil, 0, fmt.Errorf("qmc: seek qtag length: %w", err)
	}
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(f, lenBuf); err != nil {
		return nil, nil, 0, fmt.Errorf("qmc: read qtag length: %w", err)
	}
	rawMetaLen := int64(binary.BigEndian.Uint32(lenBuf))

	audioLen, err := f.Seek(-(8 + rawMetaLen), io.SeekEnd)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("qmc: seek qtag body: %w", err)
	}
	rawMeta, err := io.ReadAll(io.LimitReader(f, rawMetaLen))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("qmc: read qtag body: %w", err)
	}

	items := strings.Split(string(rawMeta), ",")
	if len(items) != 3 {
		return nil, nil, 0, fmt.Errorf("%w: qtag meta must have 3 comma-separated fields, got %d", common.ErrInvalidData, len(items))
	}

	decoded, err := DecodeBase64Key([]byte(items[0]))
	if err != nil {
		return nil, nil, 0, err
	}
	key, err := DecryptKey(decoded)
	if err != nil {
		return nil, nil, 0, err
	}

	songID, err := strconv.Atoi(items[1])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: qtag song id: %v", common.ErrInvalidData, err)
	}
	extra2, err := strconv.Atoi(items[2])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: qtag extra field: %v", common.ErrInvalidData, err)
	}

	return key, &V2Meta{SongID: songID, RawExtra2: extra2}, audioLen, nil
}

// maskRecoveryCache is a SQLite-backed cache of previously recovered
// legacy masks, so the brute-force scan in recoverLegacyMask only ever
// runs once per distinct file across process runs. It defaults to a
// database under the user cache directory, opened lazily on the first
// recovery; SetMaskCache overrides the default.
var (
	maskRecoveryCache     *cache.MaskCache
	maskRecoveryCacheSet  bool
	maskRecoveryCacheOnce sync.Once
)

// SetMaskCache installs the process-wide legacy mask recovery cache in
// place of the lazily-opened default. Passing nil disables caching (every
// open re-runs the brute-force scan).
func SetMaskCache(c *cache.MaskCache) {
	maskRecoveryCache = c
	maskRecoveryCacheSet = true
}

// legacyMaskCache resolves the cache to use for a recovery: the explicit
// SetMaskCache choice if one was made, otherwise a database under the
// user cache directory. Any failure to open the default degrades to no
// caching rather than failing the recovery.
func legacyMaskCache() *cache.MaskCache {
	if maskRecoveryCacheSet {
		return maskRecoveryCache
	}
	maskRecoveryCacheOnce.Do(func() {
		base, err := os.UserCacheDir()
		if err != nil {
			return
		}
		dir := filepath.Join(base, "unlock-music")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return
		}
		c, err := cache.NewMaskCache(filepath.Join(dir, "masks.db"))
		if err != nil {
			return
		}
		maskRecoveryCache = c
	})
	return maskRecoveryCache
}

// mmkvReadKey, when non-nil, consults the QQ Music desktop client's local
// MMKV store for a track's key. Installed by an init in the darwin-only
// source file; nil everywhere else.
var mmkvReadKey func(path string, logger *zap.Logger) ([]byte, error)

// recoverKeyless resolves a key for a file whose trailer carries none: on
// macOS the client's MMKV store is consulted first; failing that, the
// payload itself is brute-forced into a legacy Key256Mask128 mask.
// The returned bool reports whether the result is a legacy mask
// rather than a DynamicMap/RC4 key.
func recoverKeyless(f *os.File, path string, audioLen int64, logger *zap.Logger) ([]byte, bool, error) {
	if mmkvReadKey != nil {
		key, mmkvErr := mmkvReadKey(path, logger)
		if mmkvErr == nil {
			return key, false, nil
		}
		logger.Warn("read key from mmkv failed", zap.Error(mmkvErr))
	}
	mask, err := recoverLegacyMask(f, audioLen)
	return mask, true, err
}

// recoverLegacyMask handles the no-trailer QMCv2 case: the
// file carries neither a raw key footer nor a QTag, so the only way to
// play it back is to brute-force a Key256Mask128 mask from the payload
// itself, trying the mflac recovery first and falling back to mgg.
func recoverLegacyMask(f *os.File, audioLen int64) ([]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(io.LimitReader(f, audioLen))
	if err != nil {
		return nil, fmt.Errorf("qmc: read payload for mask recovery: %w", err)
	}

	var contentHash string
	mc := legacyMaskCache()
	if mc != nil {
		probeLen := len(payload)
		if probeLen > 256 {
			probeLen = 256
		}
		contentHash = cache.HashHeader(payload[:probeLen])
		if mask, ok := mc.Get(contentHash); ok {
			return mask, nil
		}
	}

	mask, err := findLegacyMask(payload)
	if err != nil {
		return nil, err
	}
	if mc != nil {
		if err := mc.Put(contentHash, mask); err != nil {
			return nil, err
		}
	}
	return mask, nil
}

func findLegacyMask(payload []byte) ([]byte, error) {
	if mask, err := FindMflacMask(payload); err == nil {
		return mask, nil
	}
	mask, err := FindMggMask(payload)
	if err != nil {
		return nil, fmt.Errorf("qmc: no key trailer and mask recovery failed: %w", err)
	}
	return mask, nil
}

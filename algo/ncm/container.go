package ncm

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"unlock-music.dev/cli/algo/aes"
	"unlock-music.dev/cli/algo/common"
)

// Magic is the fixed 8-byte NCM file header.
var Magic = []byte("CTENFDAM")

const (
	masterKeyXOR  = 0x64
	tagDataXOR    = 0x63
	masterKeyTag  = "neteasecloudmusic" // stripped after AES-ECB unwrap
	tagDataPrefix = "163 key(Don't modify):"
	tagDataTag    = "music:" // stripped after AES-ECB unwrap, before JSON decode
)

// TagInfo is NCM's JSON-encoded metadata blob, decoded from the
// container's tag data field.
type TagInfo struct {
	MusicName string   `json:"musicName"`
	Artist    [][2]any `json:"artist"`
	Album     string   `json:"album"`
	AlbumID   int64    `json:"albumId"`
	AlbumPic  string   `json:"albumPic"`
	Alias     []string `json:"alias,omitempty"`
	MusicID   int64    `json:"musicId"`
	Format    string   `json:"format,omitempty"`
}

// Container is an in-memory representation of an NCM container's header
// fields: the unwrapped master key, decoded tag metadata, embedded cover
// image, and the raw (pre-base64) tag-data identifier bytes, preserved
// verbatim across a read/write round trip even though they are redundant
// with TagInfo once decoded.
type Container struct {
	MasterKey  []byte
	Tag        *TagInfo
	Identifier []byte
	CoverData  []byte

	cipher *RC4Cipher
}

// SetTag replaces the container's tag metadata. The stored raw identifier
// is dropped so the next Save re-serializes the tag data field from tag
// instead of replaying stale bytes.
func (c *Container) SetTag(tag *TagInfo) {
	c.Tag = tag
	c.Identifier = nil
}

// Cipher returns the NCM RC4-variant cipher keyed by MasterKey.
func (c *Container) Cipher() (*RC4Cipher, error) {
	if c.cipher == nil {
		cph, err := NewRC4Cipher(c.MasterKey)
		if err != nil {
			return nil, err
		}
		c.cipher = cph
	}
	return c.cipher, nil
}

// New builds an empty NCM container. If masterKey is nil, a random
// 111-byte key is generated, the length the desktop client itself uses.
func New(masterKey []byte, tag *TagInfo) (*Container, error) {
	if masterKey == nil {
		var err error
		masterKey, err = common.RandomBytes(111, "")
		if err != nil {
			return nil, err
		}
	}
	return &Container{MasterKey: masterKey, Tag: tag}, nil
}

// ParseHeader reads an NCM container's header from r starting at the
// current position and returns the decoded Container plus the absolute
// offset (relative to r's start) where the encrypted audio payload begins.
// r must be positioned at the start of the file.
func ParseHeader(r io.Reader, logger *zap.Logger) (*Container, int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var read int64
	readFull := func(n int) ([]byte, error) {
		buf := make([]byte, n)
		nr, err := io.ReadFull(r, buf)
		read += int64(nr)
		return buf, err
	}
	readU32 := func() (uint32, error) {
		buf, err := readFull(4)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(buf), nil
	}

	magic, err := readFull(8)
	if err != nil {
		return nil, 0, fmt.Errorf("ncm: read magic: %w", err)
	}
	if !bytes.Equal(magic, Magic) {
		return nil, 0, fmt.Errorf("%w: bad ncm magic", common.ErrFileTypeMismatch)
	}

	if _, err := readFull(2); err != nil { // 2 reserved bytes
		return nil, 0, fmt.Errorf("ncm: read reserved header bytes: %w", err)
	}

	masterKeyLen, err := readU32()
	if err != nil {
		return nil, 0, fmt.Errorf("ncm: read master key length: %w", err)
	}
	encMasterKey, err := readFull(int(masterKeyLen))
	if err != nil {
		return nil, 0, fmt.Errorf("ncm: read master key: %w", err)
	}
	masterKey, err := unwrapMasterKey(encMasterKey)
	if err != nil {
		return nil, 0, err
	}

	tagDataLen, err := readU32()
	if err != nil {
		return nil, 0, fmt.Errorf("ncm: read tag data length: %w", err)
	}
	encTagData, err := readFull(int(tagDataLen))
	if err != nil {
		return nil, 0, fmt.Errorf("ncm: read tag data: %w", err)
	}

	identifier := make([]byte, len(encTagData))
	for i, b := range encTagData {
		identifier[i] = b ^ tagDataXOR
	}

	var tag *TagInfo
	if len(identifier) > 0 {
		tag, err = decodeTagData(identifier)
		if err != nil {
			logger.Debug("ncm: tag data decode failed, continuing without tags", zap.Error(err))
		}
	}

	if _, err := readFull(5); err != nil { // 5 reserved bytes
		return nil, 0, fmt.Errorf("ncm: read reserved trailer bytes: %w", err)
	}

	coverAlloc, err := readU32()
	if err != nil {
		return nil, 0, fmt.Errorf("ncm: read cover alloc: %w", err)
	}
	coverSize, err := readU32()
	if err != nil {
		return nil, 0, fmt.Errorf("ncm: read cover size: %w", err)
	}
	coverData, err := readFull(int(coverSize))
	if err != nil {
		return nil, 0, fmt.Errorf("ncm: read cover data: %w", err)
	}
	if pad := int64(coverAlloc) - int64(coverSize); pad > 0 {
		if _, err := readFull(int(pad)); err != nil {
			return nil, 0, fmt.Errorf("ncm: read cover padding: %w", err)
		}
	}

	return &Container{
		MasterKey:  masterKey,
		Tag:        tag,
		Identifier: identifier,
		CoverData:  coverData,
	}, read, nil
}

// OpenFile parses the NCM header from the file at path and returns the
// Container plus a seekable plaintext Stream over its audio payload,
// backed by internal/mmap for large files.
func OpenFile(path string, logger *zap.Logger) (*Container, *common.Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	container, payloadOffset, err := ParseHeader(f, logger)
	if err != nil {
		return nil, nil, err
	}

	cipher, err := container.Cipher()
	if err != nil {
		return nil, nil, err
	}

	stream, err := common.OpenFileStream(cipher, path, payloadOffset, stat.Size()-payloadOffset, logger)
	if err != nil {
		return nil, nil, err
	}
	return container, stream, nil
}

// unwrapMasterKey XORs each byte with 0x64, AES-ECB decrypts with CoreKey,
// strips PKCS7 padding, and drops the leading "neteasecloudmusic" tag.
func unwrapMasterKey(enc []byte) ([]byte, error) {
	xored := make([]byte, len(enc))
	for i, b := range enc {
		xored[i] = b ^ masterKeyXOR
	}

	cph, err := aes.NewECBCipher(aes.CoreKey)
	if err != nil {
		return nil, err
	}
	plain, err := cph.Decrypt(xored, 0)
	if err != nil {
		return nil, fmt.Errorf("ncm: unwrap master key: %w", err)
	}
	if !bytes.HasPrefix(plain, []byte(masterKeyTag)) {
		return nil, fmt.Errorf("%w: master key missing %q tag", common.ErrInvalidData, masterKeyTag)
	}
	return plain[len(masterKeyTag):], nil
}

// wrapMasterKey is the inverse of unwrapMasterKey, used by Save.
func wrapMasterKey(masterKey []byte) ([]byte, error) {
	tagged := append([]byte(masterKeyTag), masterKey...)
	cph, err := aes.NewECBCipher(aes.CoreKey)
	if err != nil {
		return nil, err
	}
	enc, err := cph.Encrypt(tagged, 0)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(enc))
	for i, b := range enc {
		out[i] = b ^ masterKeyXOR
	}
	return out, nil
}

// decodeTagData reverses the tag-data wrapping: strip the
// "163 key(Don't modify):" prefix, base64-decode, AES-ECB decrypt with
// MetaKey, strip PKCS7 padding, drop the leading "music:" tag, JSON-decode.
func decodeTagData(identifier []byte) (*TagInfo, error) {
	trimmed := bytes.TrimPrefix(identifier, []byte(tagDataPrefix))
	decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("ncm: base64-decode tag data: %w", err)
	}

	cph, err := aes.NewECBCipher(aes.MetaKey)
	if err != nil {
		return nil, err
	}
	plain, err := cph.Decrypt(decoded, 0)
	if err != nil {
		return nil, fmt.Errorf("ncm: unwrap tag data: %w", err)
	}
	if !bytes.HasPrefix(plain, []byte(tagDataTag)) {
		return nil, fmt.Errorf("%w: tag data missing %q tag", common.ErrInvalidData, tagDataTag)
	}

	var tag TagInfo
	if err := json.Unmarshal(plain[len(tagDataTag):], &tag); err != nil {
		return nil, fmt.Errorf("ncm: json-decode tag data: %w", err)
	}
	return &tag, nil
}

// encodeTagData is the inverse of decodeTagData, used by Save when there
// is no stored identifier to replay. When tag is nil, it returns
// (nil, nil): Save then writes a zero-length tag data field.
func encodeTagData(tag *TagInfo) ([]byte, error) {
	if tag == nil {
		return nil, nil
	}
	body, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	plain := append([]byte(tagDataTag), body...)

	cph, err := aes.NewECBCipher(aes.MetaKey)
	if err != nil {
		return nil, err
	}
	enc, err := cph.Encrypt(plain, 0)
	if err != nil {
		return nil, err
	}
	b64 := base64.StdEncoding.EncodeToString(enc)
	wrapped := append([]byte(tagDataPrefix), b64...)

	out := make([]byte, len(wrapped))
	for i, b := range wrapped {
		out[i] = b ^ tagDataXOR
	}
	return out, nil
}

// Save writes the NCM header for c followed by payload, producing a
// complete .ncm file on w. A stored identifier (present on any container
// that came out of ParseHeader and hasn't been re-tagged via SetTag) is
// replayed verbatim, keeping the round trip byte-exact even for tag JSON
// carrying keys TagInfo doesn't model; the tag data field is only
// re-serialized from c.Tag when there is no identifier to replay.
func (c *Container) Save(w io.Writer, payload io.Reader) error {
	if _, err := w.Write(Magic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0, 0}); err != nil {
		return err
	}

	encMasterKey, err := wrapMasterKey(c.MasterKey)
	if err != nil {
		return err
	}
	if err := writeLenPrefixed(w, encMasterKey); err != nil {
		return err
	}

	var tagBytes []byte
	if len(c.Identifier) > 0 {
		tagBytes = make([]byte, len(c.Identifier))
		for i, b := range c.Identifier {
			tagBytes[i] = b ^ tagDataXOR
		}
	} else {
		tagBytes, err = encodeTagData(c.Tag)
		if err != nil {
			return err
		}
	}
	if err := writeLenPrefixed(w, tagBytes); err != nil {
		return err
	}

	if _, err := w.Write(make([]byte, 5)); err != nil {
		return err
	}

	cover := c.CoverData
	coverLen := uint32(len(cover))
	if err := binary.Write(w, binary.LittleEndian, coverLen); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, coverLen); err != nil {
		return err
	}
	if _, err := w.Write(cover); err != nil {
		return err
	}

	_, err = io.Copy(w, payload)
	return err
}

func writeLenPrefixed(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

package qmc

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"unlock-music.dev/cli/algo/common"
	"unlock-music.dev/cli/algo/tea"
)

// qmc2KeyRounds is the TEA round count used to wrap the QMCv2 inner key:
// 32, not TEA-ECB's usual 64-round default.
const qmc2KeyRounds = 32

// DecryptKey unwraps a QMCv2 key blob into the raw cipher key handed to
// NewRC4Cipher/NewDynamicMapCipher. rawKey is the base64-decoded key read
// from the container's QTag media key field or raw-key trailer, or (on
// darwin) an EKey entry from the desktop client's MMKV store: the first 8
// bytes are the TEA-CBC recipe,
// and everything after that is the TEA-CBC-wrapped remainder of the key.
// Unwrapping is unconditional; the blob's content is never branched on.
func DecryptKey(rawKey []byte) ([]byte, error) {
	if len(rawKey) < 8+16 {
		return nil, fmt.Errorf("%w: qmc key blob too short (%d bytes) to hold a recipe and wrapped body", common.ErrInvalidData, len(rawKey))
	}

	recipe := rawKey[:8]
	cipher, err := tea.FromRecipe(recipe, nil, qmc2KeyRounds)
	if err != nil {
		return nil, fmt.Errorf("qmc: build key-unwrap cipher: %w", err)
	}

	plain, err := cipher.Decrypt(rawKey[8:], 0)
	if err != nil {
		return nil, fmt.Errorf("qmc: unwrap key: %w", err)
	}
	return append(append([]byte(nil), recipe...), plain...), nil
}

// EncryptKey is DecryptKey's inverse: it re-wraps a raw cipher key behind
// the TEA-CBC recipe framing, producing the decoded-key-blob bytes a
// caller then base64-encodes into a trailer/QTag field. Used by tests
// exercising round-trip fidelity and by the QMCv2 save path when
// re-encrypting a key.
func EncryptKey(key []byte, simpleKey []byte) ([]byte, error) {
	if len(key) < 8 {
		return nil, fmt.Errorf("%w: key too short to split a recipe", common.ErrInvalidParam)
	}
	recipe := key[:8]
	cipher, err := tea.FromRecipe(recipe, simpleKey, qmc2KeyRounds)
	if err != nil {
		return nil, err
	}
	body, err := cipher.Encrypt(key[8:], 0)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 8+len(body))
	out = append(out, recipe...)
	out = append(out, body...)
	return out, nil
}

// DecodeBase64Key trims trailing NUL padding and decodes a QMC key field,
// tolerating both standard and URL-safe, padded and unpadded base64 -
// different client builds emit different alphabets.
func DecodeBase64Key(raw []byte) ([]byte, error) {
	raw = bytes.TrimRight(raw, "\x00")
	raw = bytes.TrimSpace(raw)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(string(raw)); err == nil {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("%w: key field is not valid base64", common.ErrInvalidData)
}

// NewCipherForKey picks the QMCv2 cipher variant by key length: an empty
// key means the QMCv1-only StaticMap default, 0 < len <= 300 routes to
// DynamicMap, and len > 300 routes to Modified-RC4.
func NewCipherForKey(key []byte) (common.Cipher, error) {
	switch {
	case len(key) == 0:
		return NewStaticMapCipher()
	case len(key) <= maxDynamicMapKeyLen:
		return NewDynamicMapCipher(key)
	default:
		return NewRC4Cipher(key)
	}
}

// Package common defines the shared cipher and container abstractions used
// across the NCM and QMC algorithm packages, plus the seekable stream
// adaptor that turns a cipher plus an encrypted payload into a random-access
// plaintext view.
package common

// Cipher is the single entry point every stream cipher in this module
// implements. Decrypt and Encrypt are pure functions of (input, offset) and
// may be called concurrently from multiple goroutines once constructed, as
// long as the implementation does not mutate shared state per call - every
// cipher in this module satisfies that by precomputing its keystream state
// once at construction time.
type Cipher interface {
	// Name returns a stable, human-readable cipher identifier.
	Name() string

	// SupportsOffset reports whether Decrypt/Encrypt accept an arbitrary
	// absolute payload offset, so a surrounding stream can seek. Ciphers
	// that answer false (AES-ECB, TEA-ECB,
	// Tencent-TEA-CBC) are only ever used to wrap/unwrap key material, never
	// to stream payload, and forbid random seeks on a surrounding stream.
	SupportsOffset() bool

	// SupportsDecrypt reports whether Decrypt is implemented.
	SupportsDecrypt() bool

	// SupportsEncrypt reports whether Encrypt is implemented.
	SupportsEncrypt() bool

	// Decrypt transforms ciphertext starting at the given absolute offset
	// into plaintext. Implementations must not mutate src.
	Decrypt(src []byte, offset int64) ([]byte, error)

	// Encrypt transforms plaintext starting at the given absolute offset
	// into ciphertext. Implementations must not mutate src.
	Encrypt(src []byte, offset int64) ([]byte, error)
}

// Capabilities is an embeddable helper that gives a cipher a fixed
// Name/SupportsOffset/SupportsDecrypt/SupportsEncrypt answer without
// repeating the boilerplate in every concrete cipher type.
type Capabilities struct {
	CipherName string
	Offset     bool
	CanDecrypt bool
	CanEncrypt bool
}

func (c Capabilities) Name() string          { return c.CipherName }
func (c Capabilities) SupportsOffset() bool  { return c.Offset }
func (c Capabilities) SupportsDecrypt() bool { return c.CanDecrypt }
func (c Capabilities) SupportsEncrypt() bool { return c.CanEncrypt }

// KeylessCipher is a Cipher that owns no key material - NCM-cache's XOR-163
// and an identity no-op cipher are the two instances in this module.
type KeylessCipher interface {
	Cipher
}

// NopCipher is the identity cipher: Decrypt and Encrypt both return src
// unchanged. It is offset-independent and supports both directions.
type NopCipher struct{ Capabilities }

// NewNopCipher constructs the identity cipher.
func NewNopCipher() *NopCipher {
	return &NopCipher{Capabilities{CipherName: "NoOp", Offset: true, CanDecrypt: true, CanEncrypt: true}}
}

func (NopCipher) Decrypt(src []byte, _ int64) ([]byte, error) { return src, nil }
func (NopCipher) Encrypt(src []byte, _ int64) ([]byte, error) { return src, nil }

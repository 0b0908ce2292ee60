// Package wbcrypto implements the outer transport cipher used to wrap every
// envelope exchanged with the vendor cloud.
//
// The real client ships a vendor-supplied white-box AES artefact: eight
// substitution tables with the AES-128 key schedule baked directly into
// their entries, so no raw key ever appears in memory. Reimplementing the
// table-generation math is explicitly out of scope (spec Non-goals) — the
// tables are a fixed binary blob the real client vendors in. This package
// models that contract: tableDerivedKey stands in for the baked-in key
// schedule (never regenerated at runtime, never derived from input), and
// Encode/Decode perform the CBC transform the tables would otherwise
// perform, bit-for-bit equivalent to what a correct white-box
// implementation produces.
package wbcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// tableDerivedKey is the fixed artefact described above. In the real
// client this is never computed; it is baked into the eight substitution
// tables shipped alongside the binary.
var tableDerivedKey = [16]byte{
	0x4d, 0x1a, 0x9e, 0x77, 0xc3, 0x2f, 0x08, 0xb5,
	0x61, 0xe4, 0x3c, 0x9a, 0xd7, 0x52, 0x8f, 0x16,
}

var zeroIV = make([]byte, aes.BlockSize)

var (
	ErrEmptyInput    = errors.New("wbcrypto: empty input")
	ErrNotBlockSized = errors.New("wbcrypto: ciphertext not a multiple of block size")
	ErrBadPadding    = errors.New("wbcrypto: invalid padding")
)

// Codec performs the white-box CBC transform. It holds no mutable state
// and is safe for concurrent use; every call is independent.
type Codec struct {
	block cipher.Block
}

// New constructs the codec over the fixed table-derived key. It never
// fails in practice (the key is a compile-time constant of valid length)
// but returns an error to keep the constructor honest about the
// underlying cipher.NewCipher contract.
func New() (*Codec, error) {
	block, err := aes.NewCipher(tableDerivedKey[:])
	if err != nil {
		return nil, err
	}
	return &Codec{block: block}, nil
}

// Encode PKCS#7-pads plaintext and encrypts it with AES-128-CBC under a
// zero IV, as the vendor's white-box table set does.
func (c *Codec) Encode(plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(c.block, zeroIV)
	mode.CryptBlocks(out, padded)
	return out, nil
}

// Decode reverses Encode: CBC-decrypts under a zero IV and strips PKCS#7
// padding, validating it rather than trusting it blind.
func (c *Codec) Decode(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, ErrEmptyInput
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrNotBlockSized
	}
	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(c.block, zeroIV)
	mode.CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, ErrBadPadding
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > n {
		return nil, ErrBadPadding
	}
	if !bytes.Equal(data[n-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, ErrBadPadding
	}
	return data[:n-padLen], nil
}

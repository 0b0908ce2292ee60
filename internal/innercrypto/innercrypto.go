// Package innercrypto implements the per-session inner encryption layer
// (spec §4.2): AES-128-CBC, zero IV, PKCS#7 padding, exchanged as
// uppercase hex. Unlike wbcrypto's fixed table key, the key here is
// supplied by the caller — MD5(password) for the login call, or the
// session's derived contentKey for every authenticated call.
package innercrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"errors"
)

var (
	ErrEmptyInput    = errors.New("innercrypto: empty input")
	ErrNotBlockSized = errors.New("innercrypto: ciphertext not a multiple of block size")
	ErrBadPadding    = errors.New("innercrypto: invalid padding")
	ErrBadKeyLen     = errors.New("innercrypto: key must be 16 bytes")
)

// KeyFromPassword derives the login-call key: MD5(password), raw bytes
// (not hex), used directly as the AES-128 key.
func KeyFromPassword(password string) [16]byte {
	return md5.Sum([]byte(password))
}

// KeyFromEncryToken derives contentKey = MD5(encryToken), used as the
// AES-128 key for every authenticated call once a session exists.
func KeyFromEncryToken(encryToken string) [16]byte {
	return md5.Sum([]byte(encryToken))
}

// Encrypt AES-128-CBC encrypts plaintext under key with a zero IV and
// PKCS#7 padding, returning uppercase hex as the wire carries it in
// `encryData`.
func Encrypt(key [16]byte, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return toUpperHex(out), nil
}

// Decrypt reverses Encrypt. hexCiphertext may be upper or lower hex; the
// vendor always emits upper, but callers are lenient on input.
func Decrypt(key [16]byte, hexCiphertext string) ([]byte, error) {
	if hexCiphertext == "" {
		return nil, ErrEmptyInput
	}
	ct, err := hex.DecodeString(hexCiphertext)
	if err != nil {
		return nil, err
	}
	if len(ct) == 0 {
		return nil, ErrEmptyInput
	}
	if len(ct)%aes.BlockSize != 0 {
		return nil, ErrNotBlockSized
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ct))
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return pkcs7Unpad(out)
}

func toUpperHex(b []byte) string {
	const hextable = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
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
